// Package session connects the platform BLE central to the device registry.
//
// The Controller is a single serialized queue: platform events and user
// operations are processed one at a time on the goroutine running Run. No
// operation blocks on the radio; completions arrive later as events.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/device"
)

// DefaultQueueSize is the capacity of the operation queue used while Run is active.
const DefaultQueueSize = 256

// InitializingDescription is reported before Start.
const InitializingDescription = "Initializing…"

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrAlreadyRunning = errors.New("session loop already running")
	ErrCentralClosed  = errors.New("central event stream closed")
)

// Options configures a Controller.
type Options struct {
	// AllowDuplicates reports every advertisement instead of one per device per scan.
	AllowDuplicates bool
	Logger          *logrus.Logger
}

// Controller owns the platform central and translates its events into registry mutations.
type Controller struct {
	central  central.Central
	registry *device.Registry
	logger   *logrus.Logger
	opts     Options

	started atomic.Bool
	running atomic.Bool
	queue   chan func()

	stateMu  sync.RWMutex
	state    central.ManagerState
	scanning bool

	gattMu sync.Mutex
	gatt   map[string]*gattState

	cbMu     sync.RWMutex
	onChange func()
}

// New creates a controller over c and registry.
func New(c central.Central, registry *device.Registry, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Controller{
		central:  c,
		registry: registry,
		logger:   opts.Logger,
		opts:     opts,
		queue:    make(chan func(), DefaultQueueSize),
		gatt:     make(map[string]*gattState),
	}
}

// Registry returns the registry the controller mutates.
func (c *Controller) Registry() *device.Registry {
	return c.registry
}

// SetOnChange registers the single observer for registry and controller state changes.
func (c *Controller) SetOnChange(fn func()) {
	c.cbMu.Lock()
	c.onChange = fn
	c.cbMu.Unlock()
	c.registry.SetOnChange(fn)
}

func (c *Controller) notifyChange() {
	c.cbMu.RLock()
	fn := c.onChange
	c.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Start initializes the platform central. It must be called exactly once;
// readiness is reported asynchronously through a state change event.
func (c *Controller) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.logger.Info("Initializing BLE central...")
	if err := c.central.Init(); err != nil {
		c.logger.WithField("error", err).Error("Failed to initialize BLE central")
		return err
	}
	return nil
}

// Run processes platform events and queued operations until ctx is done
// or the central closes its event stream.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	events := c.central.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrCentralClosed
			}
			c.HandleEvent(ev)
		case fn := <-c.queue:
			fn()
		}
	}
}

// ProcessPending handles every event already buffered by the central without
// blocking and returns how many were processed. It is meant for callers that
// drive the controller without Run.
func (c *Controller) ProcessPending() int {
	n := 0
	events := c.central.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return n
			}
			c.HandleEvent(ev)
			n++
		default:
			return n
		}
	}
}

// serialize runs fn on the loop when Run is active, otherwise inline.
func (c *Controller) serialize(fn func()) {
	if c.running.Load() {
		c.queue <- fn
		return
	}
	fn()
}

// Close releases the platform central.
func (c *Controller) Close() error {
	return c.central.Close()
}

// State returns the last reported central manager state.
func (c *Controller) State() central.ManagerState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// StateDescription returns the label shown in the status row.
func (c *Controller) StateDescription() string {
	if !c.started.Load() {
		return InitializingDescription
	}
	return c.State().Description()
}

// IsScanning reports whether a scan was started and not stopped since.
func (c *Controller) IsScanning() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.scanning
}

func (c *Controller) poweredOn() bool {
	return c.State() == central.StatePoweredOn
}

// Phase returns the GATT progress of id.
func (c *Controller) Phase(id string) Phase {
	c.gattMu.Lock()
	defer c.gattMu.Unlock()
	if g, ok := c.gatt[device.NormalizeID(id)]; ok {
		return g.phase
	}
	return PhaseUnknown
}

// withGATT runs fn with the device's GATT state, creating it if needed.
func (c *Controller) withGATT(id string, fn func(*gattState)) {
	c.gattMu.Lock()
	defer c.gattMu.Unlock()
	g, ok := c.gatt[id]
	if !ok {
		g = &gattState{phase: PhaseDiscovered}
		c.gatt[id] = g
	}
	fn(g)
}

// StartScan begins discovery. It is a no-op unless the central is powered on.
func (c *Controller) StartScan() {
	c.serialize(func() {
		if !c.poweredOn() {
			c.logger.WithField("state", c.State()).Debug("Ignoring scan request, central not powered on")
			return
		}
		c.stateMu.Lock()
		c.scanning = true
		c.stateMu.Unlock()

		c.logger.WithField("allow_duplicates", c.opts.AllowDuplicates).Info("Starting BLE scan...")
		c.central.Scan(c.opts.AllowDuplicates)
		c.notifyChange()
	})
}

// StopScan ends discovery. It is a no-op unless the central is powered on.
func (c *Controller) StopScan() {
	c.serialize(func() {
		if !c.poweredOn() {
			return
		}
		c.stateMu.Lock()
		c.scanning = false
		c.stateMu.Unlock()

		c.logger.Info("Stopping BLE scan")
		c.central.StopScan()
		c.notifyChange()
	})
}

// Connect asks the platform to connect to a known device.
// Unknown identifiers are ignored.
func (c *Controller) Connect(id string) {
	id = device.NormalizeID(id)
	c.serialize(func() {
		rec, ok := c.registry.Get(id)
		if !ok {
			c.logger.WithField("id", id).Debug("Ignoring connect for unknown device")
			return
		}
		if rec.IsConnected() {
			c.logger.WithField("id", id).Debug("Device already connected")
			return
		}

		c.withGATT(id, func(g *gattState) { g.phase = PhaseConnecting })
		c.registry.SetState(id, device.Connecting)

		c.logger.WithFields(logrus.Fields{
			"id":   id,
			"name": rec.DisplayName(),
		}).Info("Connecting to device...")
		c.central.Connect(id)
	})
}

// Disconnect asks the platform to drop or abort the connection to a known device.
// Unknown identifiers are ignored.
func (c *Controller) Disconnect(id string) {
	id = device.NormalizeID(id)
	c.serialize(func() {
		if !c.registry.Contains(id) {
			c.logger.WithField("id", id).Debug("Ignoring disconnect for unknown device")
			return
		}
		c.logger.WithField("id", id).Info("Disconnecting device...")
		c.central.CancelConnect(id)
	})
}

// ReadBattery requests a fresh battery level for a known device.
// Unknown identifiers are ignored.
func (c *Controller) ReadBattery(id string) {
	id = device.NormalizeID(id)
	c.serialize(func() { c.readBattery(id) })
}

// RefreshBatteryForConnected requests a fresh battery level for every connected device.
func (c *Controller) RefreshBatteryForConnected() {
	c.serialize(func() {
		connected := c.registry.Connected()
		c.logger.WithField("devices", len(connected)).Debug("Refreshing battery levels")
		for _, v := range connected {
			c.readBattery(v.ID)
		}
	})
}

// SetCustomName sets or, with an empty name, clears the override name of a known device.
func (c *Controller) SetCustomName(id, name string) {
	id = device.NormalizeID(id)
	name = strings.TrimSpace(name)
	c.serialize(func() {
		c.registry.SetCustomName(id, name)
	})
}

func (c *Controller) readBattery(id string) {
	if !c.registry.Contains(id) {
		c.logger.WithField("id", id).Debug("Ignoring battery read for unknown device")
		return
	}

	var cached, pending bool
	c.withGATT(id, func(g *gattState) {
		cached = g.hasBatteryService()
		pending = g.servicePending
	})

	switch {
	case cached:
		c.discoverBatteryLevel(id)
	case pending:
		c.logger.WithField("id", id).Debug("Service discovery already outstanding")
	default:
		c.discoverBatteryService(id)
	}
}

func (c *Controller) discoverBatteryService(id string) {
	c.withGATT(id, func(g *gattState) { g.servicePending = true })
	c.logger.WithField("id", id).Debug("Discovering battery service")
	c.central.DiscoverServices(id, []string{central.BatteryServiceUUID})
}

func (c *Controller) discoverBatteryLevel(id string) {
	c.logger.WithField("id", id).Debug("Discovering battery level characteristic")
	c.central.DiscoverCharacteristics(id, central.BatteryServiceUUID, []string{central.BatteryLevelUUID})
}

// retrieveConnected registers peripherals the OS already holds connections to.
func (c *Controller) retrieveConnected() {
	peripherals := c.central.RetrieveConnected([]string{central.BatteryServiceUUID})
	for _, p := range peripherals {
		id := device.NormalizeID(p.ID)
		if id == "" {
			continue
		}
		c.registry.Upsert(id, p.Name, false)
		c.registry.SetState(id, device.Connected)
		c.withGATT(id, func(g *gattState) {
			if g.phase < PhaseConnected {
				g.phase = PhaseConnected
			}
		})
	}
	if len(peripherals) > 0 {
		c.logger.WithField("devices", len(peripherals)).Info("Recovered devices already connected by the system")
	}
}
