// Package goble implements central.Central on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking API; every call runs on a named goroutine and its
// outcome is posted as a central.Event.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/groutine"
)

// DefaultEventBuffer is the capacity of the events channel.
const DefaultEventBuffer = 256

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newHostDevice

// hostDevice is the part of ble.Device used by the central.
type hostDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// gattClient is the part of ble.Client used by the central.
type gattClient interface {
	Name() string
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type dialFunc func(ctx context.Context, addr ble.Addr) (gattClient, error)

// link is one established connection.
type link struct {
	client   gattClient
	name     string
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic // keyed by service/characteristic
	done     chan struct{}
}

func charKey(service, characteristic string) string {
	return central.NormalizeUUID(service) + "/" + central.NormalizeUUID(characteristic)
}

// Central is the go-ble binding.
type Central struct {
	logger *logrus.Logger
	host   hostDevice
	dial   dialFunc
	group  *groutine.Group

	mu      sync.Mutex
	links   map[string]*link
	dialing map[string]context.CancelFunc
	scan    context.CancelFunc

	emitMu sync.RWMutex
	closed bool
	events chan central.Event

	closeOnce sync.Once
}

var _ central.Central = (*Central)(nil)

// New creates a go-ble central. The host device is opened by Init.
func New(logger *logrus.Logger) *Central {
	return newCentral(nil, nil, logger)
}

func newCentral(host hostDevice, dial dialFunc, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		logger:  logger,
		host:    host,
		dial:    dial,
		group:   groutine.NewGroup(context.Background()),
		links:   make(map[string]*link),
		dialing: make(map[string]context.CancelFunc),
		events:  make(chan central.Event, DefaultEventBuffer),
	}
}

func (c *Central) emit(ev central.Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.group.Context().Done():
	}
}

// Init opens the host device. A host that cannot be opened is reported as a
// manager state rather than an error, so the caller can show it.
func (c *Central) Init() error {
	if c.host == nil {
		dev, err := DeviceFactory()
		if err != nil {
			err = NormalizeError(err)
			c.logger.WithField("error", err).Warn("Failed to open BLE host device")
			c.emit(central.EventStateChanged{State: central.StateForError(err)})
			return nil
		}
		ble.SetDefaultDevice(dev)
		c.host = dev
		c.dial = func(ctx context.Context, addr ble.Addr) (gattClient, error) {
			cln, err := dev.Dial(ctx, addr)
			if err != nil {
				return nil, err
			}
			return cln, nil
		}
	}

	c.emit(central.EventStateChanged{State: central.StatePoweredOn})
	return nil
}

func (c *Central) Scan(allowDuplicates bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.host == nil {
		return
	}
	if c.scan != nil {
		c.scan()
	}
	ctx, cancel := context.WithCancel(c.group.Context())
	c.scan = cancel

	seen := make(map[string]struct{})
	var seenMu sync.Mutex
	handler := func(adv ble.Advertisement) {
		id := device.NormalizeID(adv.Addr().String())
		if !allowDuplicates {
			seenMu.Lock()
			_, dup := seen[id]
			seen[id] = struct{}{}
			seenMu.Unlock()
			if dup {
				return
			}
		}
		c.emit(central.EventPeripheralDiscovered{ID: id, Name: adv.LocalName(), RSSI: adv.RSSI()})
	}

	host := c.host
	c.group.Go("ble-scan", func(context.Context) {
		err := host.Scan(ctx, allowDuplicates, handler)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			c.logger.Debug("BLE scan finished")
			return
		}
		err = NormalizeError(err)
		c.logger.WithField("error", err).Warn("BLE scan failed")
		if state := central.StateForError(err); state != central.StateUnknown {
			c.emit(central.EventStateChanged{State: state})
		}
	})
}

func (c *Central) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scan != nil {
		c.scan()
		c.scan = nil
	}
}

func (c *Central) Connect(id string) {
	c.mu.Lock()
	if _, ok := c.links[id]; ok {
		c.mu.Unlock()
		c.emit(central.EventConnected{ID: id})
		return
	}
	if _, ok := c.dialing[id]; ok || c.dial == nil {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(c.group.Context())
	c.dialing[id] = cancel
	dial := c.dial
	c.mu.Unlock()

	c.group.Go("ble-dial", func(context.Context) {
		defer cancel()
		c.logger.WithField("address", id).Debug("Dialing BLE device...")
		client, err := dial(ctx, ble.NewAddr(id))

		c.mu.Lock()
		delete(c.dialing, id)
		if err != nil {
			c.mu.Unlock()
			c.emit(central.EventConnectFailed{ID: id, Err: NormalizeError(err)})
			return
		}
		l := &link{
			client:   client,
			name:     client.Name(),
			services: make(map[string]*ble.Service),
			chars:    make(map[string]*ble.Characteristic),
			done:     make(chan struct{}),
		}
		c.links[id] = l
		c.mu.Unlock()

		c.emit(central.EventConnected{ID: id})
		c.monitor(id, l)
	})
}

// monitor posts a disconnect event when the platform drops the link.
func (c *Central) monitor(id string, l *link) {
	dc, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	c.group.Go("ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if c.dropLink(id, l) {
				c.emit(central.EventDisconnected{ID: id, Err: central.ErrNotConnected})
			}
		case <-l.done:
		case <-ctx.Done():
		}
	})
}

// dropLink forgets l if it is still the current link for id.
func (c *Central) dropLink(id string, l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.links[id]; !ok || cur != l {
		return false
	}
	delete(c.links, id)
	close(l.done)
	return true
}

func (c *Central) CancelConnect(id string) {
	c.mu.Lock()
	if cancel, ok := c.dialing[id]; ok {
		c.mu.Unlock()
		cancel()
		return
	}
	l, ok := c.links[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.group.Go("ble-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": id,
				"error":   err,
			}).Warn("Failed to cancel connection")
		}
		if c.dropLink(id, l) {
			c.emit(central.EventDisconnected{ID: id})
		}
	})
}

func (c *Central) lookup(id string) (*link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	return l, ok
}

func parseUUIDs(uuids []string) []ble.UUID {
	var out []ble.UUID
	for _, u := range uuids {
		if parsed, err := ble.Parse(u); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

func (c *Central) DiscoverServices(id string, services []string) {
	l, ok := c.lookup(id)
	if !ok {
		c.emit(central.EventServicesDiscovered{ID: id, Err: central.ErrNotConnected})
		return
	}

	filter := parseUUIDs(services)
	c.group.Go("ble-discover-services", func(context.Context) {
		found, err := l.client.DiscoverServices(filter)
		if err != nil {
			c.emit(central.EventServicesDiscovered{ID: id, Err: NormalizeError(err)})
			return
		}

		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for _, s := range found {
			u := central.NormalizeUUID(s.UUID.String())
			l.services[u] = s
			uuids = append(uuids, u)
		}
		c.mu.Unlock()

		c.emit(central.EventServicesDiscovered{ID: id, Services: uuids})
	})
}

func (c *Central) DiscoverCharacteristics(id, service string, characteristics []string) {
	l, ok := c.lookup(id)
	if !ok {
		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: central.ErrNotConnected})
		return
	}
	c.mu.Lock()
	svc, ok := l.services[central.NormalizeUUID(service)]
	c.mu.Unlock()
	if !ok {
		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: &device.NotFoundError{Resource: "service", ID: service}})
		return
	}

	filter := parseUUIDs(characteristics)
	c.group.Go("ble-discover-characteristics", func(context.Context) {
		found, err := l.client.DiscoverCharacteristics(filter, svc)
		if err != nil {
			c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: NormalizeError(err)})
			return
		}

		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for _, ch := range found {
			u := central.NormalizeUUID(ch.UUID.String())
			l.chars[charKey(service, u)] = ch
			uuids = append(uuids, u)
		}
		c.mu.Unlock()

		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Characteristics: uuids})
	})
}

func (c *Central) characteristic(id, service, characteristic string) (*link, *ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	if !ok {
		return nil, nil, central.ErrNotConnected
	}
	ch, ok := l.chars[charKey(service, characteristic)]
	if !ok {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", ID: characteristic}
	}
	return l, ch, nil
}

func (c *Central) ReadCharacteristic(id, service, characteristic string) {
	l, ch, err := c.characteristic(id, service, characteristic)
	if err != nil {
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: err})
		return
	}

	c.group.Go("ble-read", func(context.Context) {
		data, err := l.client.ReadCharacteristic(ch)
		if err != nil {
			c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: NormalizeError(err)})
			return
		}
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Value: append([]byte(nil), data...)})
	})
}

func (c *Central) SetNotify(id, service, characteristic string, enabled bool) {
	l, ch, err := c.characteristic(id, service, characteristic)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address":        id,
			"characteristic": characteristic,
			"error":          err,
		}).Debug("Cannot change notification state")
		return
	}

	logger := c.logger.WithFields(logrus.Fields{
		"address":        id,
		"characteristic": characteristic,
		"enabled":        enabled,
	})
	c.group.Go("ble-set-notify", func(context.Context) {
		if !enabled {
			if err := NormalizeError(l.client.Unsubscribe(ch, false)); err != nil {
				logger.WithField("error", err).Warn("Failed to disable notifications")
			}
			return
		}

		// Subscribing writes the CCCD, which Linux hosts must discover first.
		if ch.CCCD == nil {
			if _, err := l.client.DiscoverDescriptors(nil, ch); err != nil {
				logger.WithField("error", err).Debug("Descriptor discovery failed")
			}
		}
		err := l.client.Subscribe(ch, false, func(data []byte) {
			c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Value: append([]byte(nil), data...)})
		})
		if err != nil {
			logger.WithField("error", NormalizeError(err)).Warn("Failed to enable notifications")
			return
		}
		logger.Debug("Notifications enabled")
	})
}

// RetrieveConnected returns the peripherals this process holds connections to.
// go-ble cannot enumerate connections owned by other processes.
func (c *Central) RetrieveConnected(services []string) []central.Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []central.Peripheral
	for id, l := range c.links {
		if len(services) > 0 && len(l.services) > 0 && !hasAnyService(l.services, services) {
			continue
		}
		out = append(out, central.Peripheral{ID: id, Name: l.name})
	}
	return out
}

func hasAnyService(have map[string]*ble.Service, want []string) bool {
	for _, w := range want {
		if _, ok := have[central.NormalizeUUID(w)]; ok {
			return true
		}
	}
	return false
}

func (c *Central) Events() <-chan central.Event {
	return c.events
}

// Close cancels scans and dials, drops every link and closes the events channel.
func (c *Central) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.scan != nil {
			c.scan()
		}
		for _, cancel := range c.dialing {
			cancel()
		}
		links := c.links
		c.links = make(map[string]*link)
		c.mu.Unlock()

		for id, l := range links {
			close(l.done)
			if err := l.client.CancelConnection(); err != nil {
				errs = append(errs, fmt.Errorf("failed to disconnect %s: %w", id, err))
			}
		}

		c.group.Stop()

		c.emitMu.Lock()
		c.closed = true
		close(c.events)
		c.emitMu.Unlock()
	})
	return errors.Join(errs...)
}
