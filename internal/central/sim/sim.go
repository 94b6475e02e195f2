// Package sim implements central.Central over scripted in-memory peripherals.
//
// Every operation is recorded and, unless manual responses are enabled, answered
// immediately by pushing the matching event onto the events channel. The
// simulator never blocks the caller; the events buffer is sized generously
// for interactive and test use.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultEventBuffer is the capacity of the events channel.
const DefaultEventBuffer = 1024

var (
	ErrNotConnected = central.ErrNotConnected
	ErrReadFailed   = errors.New("simulated read failure")
)

// Peripheral describes one scripted device.
type Peripheral struct {
	ID             string // derived from Name when empty
	Name           string
	Battery        []byte // raw Battery Level value; nil means no Battery Service
	Advertising    bool   // visible to scans
	OSConnected    bool   // already connected at the OS level (retrievable)
	FailConnect    bool
	FailRead       bool
	serviceCache   []string
	connected      bool
	notifying      bool
	scanReportedAt int
}

// HasBatteryService reports whether the peripheral exposes 180F.
func (p *Peripheral) HasBatteryService() bool {
	return p.Battery != nil
}

// Call is one recorded operation.
type Call struct {
	Op   string
	ID   string
	Args []string
}

// Option configures a Central.
type Option func(*Central)

// WithPeripherals adds scripted peripherals in order.
func WithPeripherals(ps ...Peripheral) Option {
	return func(c *Central) {
		for _, p := range ps {
			c.Add(p)
		}
	}
}

// WithInitialState sets the state reported by Init. Defaults to powered on.
func WithInitialState(state central.ManagerState) Option {
	return func(c *Central) {
		c.state = state
	}
}

// WithManualResponses records operations without answering them.
// Tests then inject responses with Emit.
func WithManualResponses() Option {
	return func(c *Central) {
		c.manual = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Central) {
		c.logger = logger
	}
}

// Central is the simulated binding.
type Central struct {
	mu          sync.Mutex
	peripherals *orderedmap.OrderedMap[string, *Peripheral]
	events      chan central.Event
	calls       []Call
	state       central.ManagerState
	manual      bool
	scanning    bool
	scanSession int
	closed      bool
	logger      *logrus.Logger
}

var _ central.Central = (*Central)(nil)

// New creates a simulated central.
func New(opts ...Option) *Central {
	c := &Central{
		peripherals: orderedmap.New[string, *Peripheral](),
		events:      make(chan central.Event, DefaultEventBuffer),
		state:       central.StatePoweredOn,
		logger:      logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IDFor returns the deterministic identifier the simulator assigns to name.
func IDFor(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("blebatt/sim/"+name)).String()
}

// Add registers a peripheral and returns its identifier.
func (c *Central) Add(p Peripheral) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.ID == "" {
		p.ID = IDFor(p.Name)
	}
	p.connected = p.OSConnected
	c.peripherals.Set(p.ID, &p)
	return p.ID
}

func (c *Central) record(op, id string, args ...string) {
	c.calls = append(c.calls, Call{Op: op, ID: id, Args: args})
	c.logger.WithFields(logrus.Fields{
		"op":   op,
		"id":   id,
		"args": args,
	}).Debug("sim: operation")
}

// emit must be called with mu held.
func (c *Central) emit(ev central.Event) {
	if c.closed {
		return
	}
	c.events <- ev
}

// Emit injects an event as if the platform produced it.
func (c *Central) Emit(ev central.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emit(ev)
}

// Calls returns a copy of the recorded operations.
func (c *Central) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (c *Central) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the recorded operations.
func (c *Central) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

// IsScanning reports whether a scan is active.
func (c *Central) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// SetState changes the manager state and reports it. Powering off drops all links.
func (c *Central) SetState(state central.ManagerState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
	if state != central.StatePoweredOn {
		c.scanning = false
		for pair := c.peripherals.Oldest(); pair != nil; pair = pair.Next() {
			p := pair.Value
			if p.connected {
				p.connected = false
				p.notifying = false
				p.serviceCache = nil
				c.emit(central.EventDisconnected{ID: p.ID, Err: central.ErrBluetoothOff})
			}
		}
	}
	c.emit(central.EventStateChanged{State: state})
}

// PushBattery changes a peripheral's battery value and notifies subscribers.
func (c *Central) PushBattery(id string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peripherals.Get(id)
	if !ok {
		return
	}
	p.Battery = value
	if p.connected && p.notifying {
		c.emit(central.EventValueUpdated{ID: id, Characteristic: central.BatteryLevelUUID, Value: value})
	}
}

// Drop simulates the peripheral going out of range.
func (c *Central) Drop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peripherals.Get(id)
	if !ok || !p.connected {
		return
	}
	p.connected = false
	p.notifying = false
	p.serviceCache = nil
	c.emit(central.EventDisconnected{ID: id, Err: fmt.Errorf("peripheral %s went out of range", id)})
}

func (c *Central) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Init", "")
	c.emit(central.EventStateChanged{State: c.state})
	return nil
}

func (c *Central) Scan(allowDuplicates bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Scan", "", fmt.Sprintf("allowDuplicates=%t", allowDuplicates))

	if c.state != central.StatePoweredOn {
		return
	}
	c.scanning = true
	c.scanSession++
	if c.manual {
		return
	}

	for pair := c.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if !p.Advertising {
			continue
		}
		if !allowDuplicates && p.scanReportedAt == c.scanSession {
			continue
		}
		p.scanReportedAt = c.scanSession
		c.emit(central.EventPeripheralDiscovered{ID: p.ID, Name: p.Name, RSSI: -60})
	}
}

func (c *Central) StopScan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StopScan", "")
	c.scanning = false
}

func (c *Central) Connect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Connect", id)

	p, ok := c.peripherals.Get(id)
	if !ok || c.manual {
		return
	}
	if p.FailConnect || c.state != central.StatePoweredOn {
		c.emit(central.EventConnectFailed{ID: id, Err: errors.New("simulated connection failure")})
		return
	}
	p.connected = true
	c.emit(central.EventConnected{ID: id})
}

func (c *Central) CancelConnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("CancelConnect", id)

	p, ok := c.peripherals.Get(id)
	if !ok || c.manual {
		return
	}
	p.connected = false
	p.notifying = false
	p.serviceCache = nil
	c.emit(central.EventDisconnected{ID: id})
}

func (c *Central) DiscoverServices(id string, services []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("DiscoverServices", id, services...)

	p, ok := c.peripherals.Get(id)
	if !ok || c.manual {
		return
	}
	if !p.connected {
		c.emit(central.EventServicesDiscovered{ID: id, Err: ErrNotConnected})
		return
	}
	var found []string
	if p.HasBatteryService() && (len(services) == 0 || central.ContainsUUID(services, central.BatteryServiceUUID)) {
		found = append(found, central.BatteryServiceUUID)
	}
	p.serviceCache = found
	c.emit(central.EventServicesDiscovered{ID: id, Services: found})
}

func (c *Central) DiscoverCharacteristics(id, service string, characteristics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("DiscoverCharacteristics", id, append([]string{service}, characteristics...)...)

	p, ok := c.peripherals.Get(id)
	if !ok || c.manual {
		return
	}
	if !p.connected {
		c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Err: ErrNotConnected})
		return
	}
	var found []string
	if central.NormalizeUUID(service) == central.BatteryServiceUUID && p.HasBatteryService() {
		found = append(found, central.BatteryLevelUUID)
	}
	c.emit(central.EventCharacteristicsDiscovered{ID: id, Service: service, Characteristics: found})
}

func (c *Central) ReadCharacteristic(id, service, characteristic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ReadCharacteristic", id, service, characteristic)

	p, ok := c.peripherals.Get(id)
	if !ok || c.manual {
		return
	}
	switch {
	case !p.connected:
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: ErrNotConnected})
	case p.FailRead:
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Err: ErrReadFailed})
	default:
		value := append([]byte(nil), p.Battery...)
		c.emit(central.EventValueUpdated{ID: id, Characteristic: characteristic, Value: value})
	}
}

func (c *Central) SetNotify(id, service, characteristic string, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetNotify", id, service, characteristic, fmt.Sprintf("enabled=%t", enabled))

	if p, ok := c.peripherals.Get(id); ok && p.connected {
		p.notifying = enabled
	}
}

// ServiceCache returns the services the simulator last reported for id.
func (c *Central) ServiceCache(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.peripherals.Get(id); ok {
		return append([]string(nil), p.serviceCache...)
	}
	return nil
}

func (c *Central) RetrieveConnected(services []string) []central.Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("RetrieveConnected", "", services...)

	var out []central.Peripheral
	for pair := c.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		if !p.connected {
			continue
		}
		if central.ContainsUUID(services, central.BatteryServiceUUID) && !p.HasBatteryService() {
			continue
		}
		out = append(out, central.Peripheral{ID: p.ID, Name: p.Name})
	}
	return out
}

func (c *Central) Events() <-chan central.Event {
	return c.events
}

func (c *Central) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// DemoPeripherals is the device set used by the interactive sim backend.
func DemoPeripherals() []Peripheral {
	return []Peripheral{
		{Name: "AirPods Pro", Battery: []byte{80}, Advertising: true},
		{Name: "MX Master 3", Battery: []byte{55}, OSConnected: true},
		{Name: "Bose QC45", Battery: []byte{0x4B}, Advertising: true},
		{Name: "", Advertising: true},
		{Name: "Flaky Sensor", Battery: []byte{12}, Advertising: true, FailConnect: true},
	}
}
