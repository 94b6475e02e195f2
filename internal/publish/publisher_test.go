package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(topic string, payload []byte, qos byte, retained bool) error {
	args := m.Called(topic, string(payload), qos, retained)
	return args.Error(0)
}

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func testOptions() Options {
	return Options{
		Broker:      "tcp://localhost:1883",
		ClientID:    "blebatt-test",
		TopicPrefix: "blebatt",
		QoS:         1,
	}
}

func newPublisher(t *testing.T, sink Sink) (*Publisher, *device.Registry, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reg := device.NewRegistry(logger)
	p := NewPublisher(sink, reg, testOptions(), logger)
	p.now = func() time.Time { return fixedNow }
	return p, reg, hook
}

func TestPublisher_PublishesChangedLevels(t *testing.T) {
	sink := &mockSink{}
	p, reg, _ := newPublisher(t, sink)

	reg.Upsert("aa:bb:cc:dd:ee:ff", "AirPods", true)
	reg.SetState("aa:bb:cc:dd:ee:ff", device.Connected)
	reg.SetBattery("aa:bb:cc:dd:ee:ff", 80)
	reg.Upsert("11:22:33:44:55:66", "Bose", true)

	var payload string
	sink.On("Publish", "blebatt/aa:bb:cc:dd:ee:ff/battery", mock.Anything, byte(1), true).
		Run(func(args mock.Arguments) { payload = args.String(1) }).
		Return(nil).Once()

	assert.Equal(t, 1, p.Publish(), "devices without a level MUST NOT be published")
	assert.JSONEq(t, `{"id":"aa:bb:cc:dd:ee:ff","name":"AirPods","battery":80,"connected":true,"ts":"2024-01-02T03:04:05Z"}`, payload)

	assert.Equal(t, 0, p.Publish(), "unchanged levels MUST NOT be republished")

	reg.SetBattery("aa:bb:cc:dd:ee:ff", 79)
	sink.On("Publish", "blebatt/aa:bb:cc:dd:ee:ff/battery", mock.Anything, byte(1), true).
		Run(func(args mock.Arguments) { payload = args.String(1) }).
		Return(nil).Once()

	assert.Equal(t, 1, p.Publish())
	assert.JSONEq(t, `{"id":"aa:bb:cc:dd:ee:ff","name":"AirPods","battery":79,"connected":true,"ts":"2024-01-02T03:04:05Z"}`, payload)
	sink.AssertExpectations(t)
}

func TestPublisher_UsesDisplayName(t *testing.T) {
	sink := &mockSink{}
	p, reg, _ := newPublisher(t, sink)

	reg.Upsert("dev", "", false)
	reg.SetBattery("dev", 5)
	reg.SetCustomName("dev", "Desk")

	sink.On("Publish", "blebatt/dev/battery",
		`{"id":"dev","name":"Desk","battery":5,"connected":false,"ts":"2024-01-02T03:04:05Z"}`,
		byte(1), true).Return(nil).Once()

	assert.Equal(t, 1, p.Publish())
	sink.AssertExpectations(t)
}

func TestPublisher_FailedPublishIsRetried(t *testing.T) {
	sink := &mockSink{}
	p, reg, hook := newPublisher(t, sink)

	reg.Upsert("dev", "Mouse", true)
	reg.SetBattery("dev", 50)

	sink.On("Publish", "blebatt/dev/battery", mock.Anything, byte(1), true).Return(errors.New("broker gone")).Once()
	assert.Equal(t, 0, p.Publish())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "blebatt/dev/battery", entry.Data["topic"])

	sink.On("Publish", "blebatt/dev/battery", mock.Anything, byte(1), true).Return(nil).Once()
	assert.Equal(t, 1, p.Publish(), "a failed publish MUST be retried on the next change")
	sink.AssertExpectations(t)
}

func TestPublisher_Run(t *testing.T) {
	sink := &mockSink{}
	p, reg, _ := newPublisher(t, sink)
	changes := ringchan.New[uint64](1)

	published := make(chan string, 4)
	sink.On("Publish", mock.Anything, mock.Anything, byte(1), true).
		Run(func(args mock.Arguments) { published <- args.String(0) }).
		Return(nil)

	reg.Upsert("dev", "Mouse", true)
	reg.SetBattery("dev", 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, changes)
	}()

	select {
	case topic := <-published:
		assert.Equal(t, "blebatt/dev/battery", topic, "Run MUST publish the current levels on start")
	case <-time.After(2 * time.Second):
		t.Fatal("initial publish did not happen")
	}

	reg.Upsert("other", "Keyboard", true)
	reg.SetBattery("other", 20)
	changes.Send(reg.Version())

	select {
	case topic := <-published:
		assert.Equal(t, "blebatt/other/battery", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("change was not published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPublisher_RunStopsWhenChangesClose(t *testing.T) {
	p, _, _ := newPublisher(t, &mockSink{})
	changes := ringchan.New[uint64](1)
	changes.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), changes)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the change stream closed")
	}
}

func TestOptions_Topics(t *testing.T) {
	o := testOptions()
	assert.Equal(t, "blebatt/status", o.StatusTopic())
	assert.Equal(t, "blebatt/abc/battery", o.BatteryTopic("abc"))
}

func TestBuildClientOptions(t *testing.T) {
	o := testOptions()
	o.Username = "user"
	o.Password = "secret"

	opts := buildClientOptions(o)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "blebatt-test", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "blebatt/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	assert.Contains(t, string(opts.WillPayload), `"status":"offline"`)
	assert.Contains(t, string(opts.WillPayload), `"client_id":"blebatt-test"`)
}

func TestConnect_InvalidQoS(t *testing.T) {
	o := testOptions()
	o.QoS = 3

	_, err := Connect(o)
	assert.ErrorIs(t, err, ErrInvalidQoS)
}
