package publish

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds

	maxQoS = 2
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
)

// Options configures the broker connection and the topics written to.
type Options struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// StatusTopic is where the online/offline state of the exporter is retained.
func (o Options) StatusTopic() string {
	return o.TopicPrefix + "/status"
}

// BatteryTopic is where the battery payload of id is retained.
func (o Options) BatteryTopic(id string) string {
	return fmt.Sprintf("%s/%s/battery", o.TopicPrefix, id)
}

// Sink publishes a single message.
type Sink interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink is a Sink backed by a paho client.
type MQTTSink struct {
	client pahomqtt.Client
	opts   Options
}

// Connect dials the broker and announces the exporter as online.
func Connect(opts Options) (*MQTTSink, error) {
	if opts.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	client := pahomqtt.NewClient(buildClientOptions(opts))
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &MQTTSink{client: client, opts: opts}
	if err := s.Publish(opts.StatusTopic(), []byte(statusPayload("online", opts.ClientID)), opts.QoS, true); err != nil {
		client.Disconnect(defaultDisconnectQuiesce)
		return nil, err
	}
	return s, nil
}

func buildClientOptions(opts Options) *pahomqtt.ClientOptions {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	o.SetCleanSession(true)
	o.SetAutoReconnect(true)
	o.SetConnectTimeout(defaultConnectTimeout)
	o.SetKeepAlive(defaultKeepAlive)
	o.SetWill(opts.StatusTopic(), statusPayload("offline", opts.ClientID), 1, true)
	return o
}

func statusPayload(status, clientID string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"ts":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (s *MQTTSink) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !s.client.IsConnected() {
		return ErrNotConnected
	}

	token := s.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close marks the exporter offline and disconnects.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		// best effort; the will covers a failed publish
		_ = s.Publish(s.opts.StatusTopic(), []byte(statusPayload("offline", s.opts.ClientID)), s.opts.QoS, true)
	}
	s.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
