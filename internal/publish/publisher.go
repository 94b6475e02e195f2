// Package publish exports battery levels to an MQTT broker.
//
// Every device with a known level is published as a retained JSON message
// to <prefix>/<id>/battery whenever its level differs from the one last
// published:
//
//	{"id":"...","name":"AirPods","battery":80,"connected":true,"ts":"2024-01-02T03:04:05Z"}
package publish

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/ringchan"
)

// Payload is the JSON body of a battery message.
type Payload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Battery   int    `json:"battery"`
	Connected bool   `json:"connected"`
	Timestamp string `json:"ts"`
}

// Publisher writes changed battery levels from a registry to a Sink.
type Publisher struct {
	sink     Sink
	registry *device.Registry
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]int
}

// NewPublisher creates a publisher over registry.
func NewPublisher(sink Sink, registry *device.Registry, opts Options, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{
		sink:     sink,
		registry: registry,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		last:     make(map[string]int),
	}
}

// Publish sends every level that changed since the last successful publish
// and returns how many messages were sent. Failed publishes are logged and
// retried on the next call.
func (p *Publisher) Publish() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	sent := 0
	for _, rec := range p.registry.All() {
		if rec.Battery == nil {
			continue
		}
		level := *rec.Battery
		if prev, ok := p.last[rec.ID]; ok && prev == level {
			continue
		}

		body, err := json.Marshal(Payload{
			ID:        rec.ID,
			Name:      rec.DisplayName(),
			Battery:   level,
			Connected: rec.IsConnected(),
			Timestamp: p.now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			p.logger.WithError(err).Error("Failed to encode battery payload")
			continue
		}

		topic := p.opts.BatteryTopic(rec.ID)
		if err := p.sink.Publish(topic, body, p.opts.QoS, true); err != nil {
			p.logger.WithFields(logrus.Fields{
				"topic": topic,
				"error": err,
			}).Warn("Failed to publish battery level")
			continue
		}
		p.last[rec.ID] = level
		sent++
	}
	return sent
}

// Run publishes once, then again on every value received from changes,
// until ctx is done or changes is closed.
func (p *Publisher) Run(ctx context.Context, changes *ringchan.RingChannel[uint64]) {
	p.Publish()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes.C():
			if !ok {
				return
			}
			if n := p.Publish(); n > 0 {
				p.logger.WithField("messages", n).Debug("Published battery levels")
			}
		}
	}
}
