// Package tinygo implements central.Central on top of tinygo.org/x/bluetooth
// (CoreBluetooth on macOS, BlueZ on Linux).
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// DefaultEventBuffer is the capacity of the events channel.
const DefaultEventBuffer = 256

// maxAttributeSize is the largest value an ATT read can return.
const maxAttributeSize = 512

var errConnectAborted = errors.New("connection attempt cancelled")

type link struct {
	device   *bluetooth.Device
	name     string
	services map[string]*bluetooth.DeviceService
	chars    map[string]*bluetooth.DeviceCharacteristic
}

// Central is the tinygo bluetooth binding.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger
	group   *groutine.Group

	mu       sync.Mutex
	links    map[string]*link
	dialing  map[string]bool // value reports whether the attempt was cancelled
	names    map[string]string
	scanning bool
	filter   *dedupe

	emitMu sync.RWMutex
	closed bool
	events chan central.Event

	closeOnce sync.Once
}

var _ central.Central = (*Central)(nil)

// New creates a central over the default adapter.
func New(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		group:   groutine.NewGroup(context.Background()),
		links:   make(map[string]*link),
		dialing: make(map[string]bool),
		names:   make(map[string]string),
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

// Init enables the adapter. Failure is reported as a manager state.
func (c *Central) Init() error {
	if err := c.adapter.Enable(); err != nil {
		err = normalizeError(err)
		c.logger.WithField("error", err).Warn("Failed to enable Bluetooth adapter")
		c.emit(central.EventStateChanged{State: central.StateForError(err)})
		return nil
	}

	// The adapter reports disconnects (connected=false) for every peripheral.
	c.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.NormalizeID(d.Address.String())
		if c.dropLink(id) {
			c.emit(central.EventDisconnected{ID: id, Err: central.ErrNotConnected})
		}
	})

	c.emit(central.EventStateChanged{State: central.StatePoweredOn})
	return nil
}

func (c *Central) Scan(allowDuplicates bool) {
	c.mu.Lock()
	c.filter = newDedupe(allowDuplicates)
	if c.scanning {
		c.mu.Unlock()
		return
	}
	c.scanning = true
	c.mu.Unlock()

	c.group.Go("ble-scan", func(context.Context) {
		err := c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := device.NormalizeID(result.Address.String())
			name := result.LocalName()

			c.mu.Lock()
			admit := c.filter.admit(id)
			if name != "" {
				c.names[id] = name
			}
			c.mu.Unlock()

			if admit {
				c.emit(central.EventPeripheralDiscovered{ID: id, Name: name, RSSI: int(result.RSSI)})
			}
		})

		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()

		if err != nil {
			err = normalizeError(err)
			c.logger.WithField("error", err).Warn("BLE scan failed")
			if state := central.StateForError(err); state != central.StateUnknown {
				c.emit(central.EventStateChanged{State: state})
			}
			return
		}
		c.logger.Debug("BLE scan finished")
	})
}

func (c *Central) StopScan() {
	c.mu.Lock()
	scanning := c.scanning
	c.mu.Unlock()
	if !scanning {
		return
	}
	if err := c.adapter.StopScan(); err != nil {
		c.logger.WithField("error", err).Debug("Failed to stop scan")
	}
}

func (c *Central) Connect(id string) {
	c.mu.Lock()
	if _, ok := c.links[id]; ok {
		c.mu.Unlock()
		c.emit(central.EventConnected{ID: id})
		return
	}
	if _, ok := c.dialing[id]; ok {
		c.mu.Unlock()
		return
	}
	c.dialing[id] = false
	c.mu.Unlock()

	c.group.Go("ble-dial", func(context.Context) {
		// Address.Set parses a MAC on Linux and a peripheral UUID on macOS.
		var addr bluetooth.Address
		addr.Set(id)

		dev, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})

		c.mu.Lock()
		aborted := c.dialing[id]
		delete(c.dialing, id)
		if err != nil || aborted {
			c.mu.Unlock()
			if err == nil {
				_ = dev.Disconnect()
				err = errConnectAborted
			}
			c.emit(central.EventConnectFailed{ID: id, Err: normalizeError(err)})
			return
		}
		c.links[id] = &link{
			device:   &dev,
			name:     c.names[id],
			services: make(map[string]*bluetooth.DeviceService),
			chars:    make(map[string]*bluetooth.DeviceCharacteristic),
		}
		c.mu.Unlock()

		c.logger.WithField("address", id).Info("BLE device connected")
		c.emit(central.EventConnected{ID: id})
	})
}

func (c *Central) dropLink(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.links[id]; !ok {
		return false
	}
	delete(c.links, id)
	return true
}

func (c *Central) CancelConnect(id string) {
	c.mu.Lock()
	if _, ok := c.dialing[id]; ok {
		c.dialing[id] = true
		c.mu.Unlock()
		return
	}
	l, ok := c.links[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.group.Go("ble-disconnect", func(context.Context) {
		if err := l.device.Disconnect(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": id,
				"error":   err,
			}).Warn("Failed to disconnect")
		}
		if c.dropLink(id) {
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

func (c *Central) DiscoverServices(id string, services []string) {
	l, ok := c.lookup(id)
	if !ok {
		c.emit(central.EventServicesDiscovered{ID: id, Err: central.ErrNotConnected})
		return
	}
	filter, err := toUUIDs(services)
	if err != nil {
		c.emit(central.EventServicesDiscovered{ID: id, Err: err})
		return
	}

	c.group.Go("ble-discover-services", func(context.Context) {
		found, err := l.device.DiscoverServices(filter)
		if err != nil {
			c.emit(central.EventServicesDiscovered{ID: id, Err: normalizeError(err)})
			return
		}

		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for i := range found {
			u := central.NormalizeUUID(found[i].UUID().String())
			l.services[u] = &found[i]
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
	filter, err := toUUIDs(characteristics)
	if err != nil {
		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: err})
		return
	}

	c.group.Go("ble-discover-characteristics", func(context.Context) {
		found, err := svc.DiscoverCharacteristics(filter)
		if err != nil {
			c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: normalizeError(err)})
			return
		}

		uuids := make([]string, 0, len(found))
		c.mu.Lock()
		for i := range found {
			u := central.NormalizeUUID(found[i].UUID().String())
			l.chars[charKey(service, u)] = &found[i]
			uuids = append(uuids, u)
		}
		c.mu.Unlock()

		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Characteristics: uuids})
	})
}

func (c *Central) characteristic(id, service, characteristic string) (*bluetooth.DeviceCharacteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	if !ok {
		return nil, central.ErrNotConnected
	}
	ch, ok := l.chars[charKey(service, characteristic)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", ID: characteristic}
	}
	return ch, nil
}

func (c *Central) ReadCharacteristic(id, service, characteristic string) {
	ch, err := c.characteristic(id, service, characteristic)
	if err != nil {
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: err})
		return
	}

	c.group.Go("ble-read", func(context.Context) {
		buf := make([]byte, maxAttributeSize)
		n, err := ch.Read(buf)
		if err != nil {
			c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: normalizeError(err)})
			return
		}
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Value: buf[:n]})
	})
}

func (c *Central) SetNotify(id, service, characteristic string, enabled bool) {
	logger := c.logger.WithFields(logrus.Fields{
		"address":        id,
		"characteristic": characteristic,
		"enabled":        enabled,
	})
	ch, err := c.characteristic(id, service, characteristic)
	if err != nil {
		logger.WithField("error", err).Debug("Cannot change notification state")
		return
	}

	c.group.Go("ble-set-notify", func(context.Context) {
		var cb func([]byte)
		if enabled {
			cb = func(buf []byte) {
				c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Value: append([]byte(nil), buf...)})
			}
		}
		if err := ch.EnableNotifications(cb); err != nil {
			logger.WithField("error", normalizeError(err)).Warn("Failed to change notification state")
			return
		}
		logger.Debug("Notification state changed")
	})
}

// RetrieveConnected returns the peripherals this process holds connections to.
// tinygo bluetooth does not expose connections owned by other processes.
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

func (c *Central) Events() <-chan central.Event {
	return c.events
}

func (c *Central) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.StopScan()

		c.mu.Lock()
		links := c.links
		c.links = make(map[string]*link)
		for id := range c.dialing {
			c.dialing[id] = true
		}
		c.mu.Unlock()

		for id, l := range links {
			if err := l.device.Disconnect(); err != nil {
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
