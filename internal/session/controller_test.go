package session_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/central/sim"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/session"
	"github.com/stretchr/testify/suite"
)

type ControllerTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	sim      *sim.Central
	registry *device.Registry
	ctl      *session.Controller
	changes  atomic.Int32
}

func (s *ControllerTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.ErrorLevel)
	s.changes.Store(0)
}

func (s *ControllerTestSuite) TearDownTest() {
	if s.ctl != nil {
		s.NoError(s.ctl.Close())
		s.ctl = nil
	}
}

// newController wires a controller over a fresh simulator without starting it.
func (s *ControllerTestSuite) newController(opts ...sim.Option) {
	opts = append(opts, sim.WithLogger(s.logger))
	s.sim = sim.New(opts...)
	s.registry = device.NewRegistry(s.logger)
	s.ctl = session.New(s.sim, s.registry, session.Options{Logger: s.logger})
	s.ctl.SetOnChange(func() { s.changes.Add(1) })
}

func (s *ControllerTestSuite) start(opts ...sim.Option) {
	s.newController(opts...)
	s.Require().NoError(s.ctl.Start(), "start MUST succeed")
	s.ctl.ProcessPending()
}

// discover runs one scan and applies the resulting advertisements.
func (s *ControllerTestSuite) discover() {
	s.ctl.StartScan()
	s.ctl.ProcessPending()
}

// connect connects to id and drains the whole GATT exchange.
func (s *ControllerTestSuite) connect(id string) {
	s.ctl.Connect(id)
	s.ctl.ProcessPending()
}

func (s *ControllerTestSuite) battery(id string) *int {
	rec, ok := s.registry.Get(id)
	s.Require().True(ok, "device %s MUST be registered", id)
	return rec.Battery
}

func (s *ControllerTestSuite) TestStateDescription() {
	s.newController()
	s.Equal("Initializing…", s.ctl.StateDescription())

	s.Require().NoError(s.ctl.Start())
	s.ctl.ProcessPending()
	s.Equal("On", s.ctl.StateDescription())

	s.ErrorIs(s.ctl.Start(), session.ErrAlreadyStarted, "second start MUST be rejected")
	s.Equal(1, s.sim.CallCount("Init"), "central MUST be initialized exactly once")
}

func (s *ControllerTestSuite) TestDiscoveredDeviceReceivesBatteryUpdate() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "D1", Battery: []byte{0x4B}, Advertising: true})
	})

	s.discover()

	discovered := s.registry.Discovered()
	s.Require().Len(discovered, 1)
	s.Equal(id, discovered[0].ID)
	s.Nil(discovered[0].BatteryLevel, "battery MUST be absent before any read")

	rec, _ := s.registry.Get(id)
	s.True(rec.Discovered)

	s.sim.Emit(central.EventValueUpdated{ID: id, Characteristic: "2A19", Value: []byte{0x4B}})
	s.ctl.ProcessPending()

	s.Require().NotNil(s.battery(id))
	s.Equal(75, *s.battery(id))
}

func (s *ControllerTestSuite) TestConnectUnknownDeviceIsNoop() {
	s.start()
	s.sim.ResetCalls()
	before := s.changes.Load()

	s.ctl.Connect("never-seen")
	s.ctl.Disconnect("never-seen")
	s.ctl.ReadBattery("never-seen")
	s.ctl.SetCustomName("never-seen", "name")
	s.ctl.ProcessPending()

	s.Empty(s.sim.Calls(), "no platform call MUST be issued for an unknown device")
	s.Equal(before, s.changes.Load(), "no notification MUST fire for an unknown device")
	s.Zero(s.registry.Len())
}

func (s *ControllerTestSuite) TestConnectFailureRevertsToDiscovered() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "Flaky", Battery: []byte{10}, Advertising: true, FailConnect: true})
	})
	s.discover()

	s.ctl.Connect(id)
	rec, _ := s.registry.Get(id)
	s.Equal(device.Connecting, rec.State)
	s.Equal(session.PhaseConnecting, s.ctl.Phase(id))

	s.ctl.ProcessPending()

	s.Empty(s.registry.Connected())
	s.Require().Len(s.registry.Discovered(), 1)
	s.Equal(id, s.registry.Discovered()[0].ID)
	s.Equal(session.PhaseDiscovered, s.ctl.Phase(id))
	s.Zero(s.sim.CallCount("DiscoverServices"), "failed connection MUST NOT start discovery")
}

func (s *ControllerTestSuite) TestConnectReadsBatteryAndSubscribes() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{80}, Advertising: true})
	})
	s.discover()

	s.connect(id)

	connected := s.registry.Connected()
	s.Require().Len(connected, 1)
	s.Equal("AirPods", connected[0].DisplayName)
	s.Require().NotNil(connected[0].BatteryLevel)
	s.Equal(80, *connected[0].BatteryLevel)
	s.Equal(session.PhaseBatteryKnown, s.ctl.Phase(id))

	s.Equal(1, s.sim.CallCount("DiscoverServices"), "connection MUST trigger service discovery")
	s.Equal(1, s.sim.CallCount("ReadCharacteristic"))
	s.Equal(1, s.sim.CallCount("SetNotify"), "battery level MUST be subscribed after discovery")

	s.sim.PushBattery(id, []byte{42})
	s.ctl.ProcessPending()
	s.Equal(42, *s.battery(id), "notifications MUST update the battery level")
}

func (s *ControllerTestSuite) TestReadBatteryUsesCachedService() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{80}, Advertising: true})
	})
	s.discover()
	s.connect(id)
	s.sim.ResetCalls()

	s.ctl.ReadBattery(id)
	s.ctl.ReadBattery(id)

	s.Zero(s.sim.CallCount("DiscoverServices"), "cached battery service MUST skip service discovery")
	s.Equal(2, s.sim.CallCount("DiscoverCharacteristics"))

	s.ctl.ProcessPending()
	s.Equal(80, *s.battery(id))
}

func (s *ControllerTestSuite) TestReadBatteryKeepsOneServiceDiscoveryOutstanding() {
	id := sim.IDFor("Headset")
	s.start(sim.WithManualResponses())

	s.sim.Emit(central.EventPeripheralDiscovered{ID: id, Name: "Headset"})
	s.sim.Emit(central.EventConnected{ID: id})
	s.ctl.ProcessPending()
	s.Require().Equal(1, s.sim.CallCount("DiscoverServices"))

	s.ctl.ReadBattery(id)
	s.ctl.ReadBattery(id)
	s.Equal(1, s.sim.CallCount("DiscoverServices"), "at most one service discovery MUST be outstanding")

	s.sim.Emit(central.EventServicesDiscovered{ID: id, Services: []string{"0000180F-0000-1000-8000-00805F9B34FB"}})
	s.ctl.ProcessPending()
	s.Equal(session.PhaseServiceDiscovered, s.ctl.Phase(id))
	s.Equal(1, s.sim.CallCount("DiscoverCharacteristics"))

	s.ctl.ReadBattery(id)
	s.Equal(1, s.sim.CallCount("DiscoverServices"))
	s.Equal(2, s.sim.CallCount("DiscoverCharacteristics"))
}

func (s *ControllerTestSuite) TestServiceDiscoveryErrorAllowsRetry() {
	id := sim.IDFor("Headset")
	s.start(sim.WithManualResponses())
	s.sim.Emit(central.EventPeripheralDiscovered{ID: id, Name: "Headset"})
	s.sim.Emit(central.EventConnected{ID: id})
	s.sim.Emit(central.EventServicesDiscovered{ID: id, Err: errors.New("gatt error")})
	s.ctl.ProcessPending()

	s.ctl.ReadBattery(id)
	s.Equal(2, s.sim.CallCount("DiscoverServices"), "failed discovery MUST NOT block the next request")
	s.Zero(s.sim.CallCount("DiscoverCharacteristics"))
}

func (s *ControllerTestSuite) TestDeviceWithoutBatteryService() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "Beacon", Advertising: true})
	})
	s.discover()
	s.connect(id)

	s.Equal(session.PhaseConnected, s.ctl.Phase(id))
	s.Equal(1, s.sim.CallCount("DiscoverServices"), "missing service MUST NOT be rediscovered in a loop")
	s.Zero(s.sim.CallCount("DiscoverCharacteristics"))
	s.Nil(s.battery(id))
}

func (s *ControllerTestSuite) TestPowerOnRetrievesConnectedDevices() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "MX Master 3", Battery: []byte{55}, OSConnected: true})
		c.Add(sim.Peripheral{Name: "Keyboard", OSConnected: true})
	})

	s.Equal(1, s.sim.CallCount("RetrieveConnected"))
	connected := s.registry.Connected()
	s.Require().Len(connected, 1, "only peripherals with a battery service MUST be retrieved")
	s.Equal(id, connected[0].ID)

	rec, _ := s.registry.Get(id)
	s.False(rec.Discovered, "retrieved device MUST NOT be marked as scanned")
	s.Equal(session.PhaseConnected, s.ctl.Phase(id))

	s.ctl.RefreshBatteryForConnected()
	s.ctl.ProcessPending()
	s.Require().NotNil(s.battery(id))
	s.Equal(55, *s.battery(id))
}

func (s *ControllerTestSuite) TestDisconnectResetsGATTState() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{80}, Advertising: true})
	})
	s.discover()
	s.connect(id)

	s.ctl.Disconnect(id)
	s.ctl.ProcessPending()

	s.Empty(s.registry.Connected())
	s.Require().Len(s.registry.Discovered(), 1)
	s.Equal(80, *s.registry.Discovered()[0].BatteryLevel, "last battery level MUST survive a disconnect")
	s.Equal(session.PhaseDiscovered, s.ctl.Phase(id))

	s.sim.ResetCalls()
	s.ctl.ReadBattery(id)
	s.ctl.ProcessPending()
	s.Equal(1, s.sim.CallCount("DiscoverServices"), "service cache MUST be dropped on disconnect")
	s.Equal(80, *s.battery(id), "failed discovery MUST leave the battery level untouched")
}

func (s *ControllerTestSuite) TestFailedReadKeepsPreviousLevel() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "Mouse", Battery: []byte{90}, Advertising: true})
	})
	s.discover()
	s.connect(id)
	s.Require().Equal(90, *s.battery(id))

	s.sim.Emit(central.EventValueUpdated{ID: id, Characteristic: "2a19", Value: []byte{3}, Err: errors.New("read failed")})
	s.sim.Emit(central.EventValueUpdated{ID: id, Characteristic: "2a19"})
	s.sim.Emit(central.EventValueUpdated{ID: id, Characteristic: "2a37", Value: []byte{7}})
	s.ctl.ProcessPending()

	s.Equal(90, *s.battery(id))
}

func (s *ControllerTestSuite) TestEventsForUnknownDevicesAreIgnored() {
	s.start()
	s.sim.ResetCalls()

	s.sim.Emit(central.EventConnected{ID: "ghost"})
	s.sim.Emit(central.EventServicesDiscovered{ID: "ghost", Services: []string{"180f"}})
	s.sim.Emit(central.EventValueUpdated{ID: "ghost", Characteristic: "2a19", Value: []byte{50}})
	s.ctl.ProcessPending()

	s.Zero(s.registry.Len())
	s.Empty(s.sim.Calls())
}

func (s *ControllerTestSuite) TestScanRequiresPoweredOn() {
	s.start(sim.WithInitialState(central.StatePoweredOff))
	s.Equal("Off", s.ctl.StateDescription())

	s.ctl.StartScan()
	s.Zero(s.sim.CallCount("Scan"), "scan MUST be a no-op while powered off")
	s.False(s.ctl.IsScanning())

	s.sim.SetState(central.StatePoweredOn)
	s.ctl.ProcessPending()

	s.ctl.StartScan()
	s.Equal(1, s.sim.CallCount("Scan"))
	s.True(s.ctl.IsScanning())

	s.ctl.StopScan()
	s.Equal(1, s.sim.CallCount("StopScan"))
	s.False(s.ctl.IsScanning())
}

func (s *ControllerTestSuite) TestPowerOffDropsConnectionsAndScan() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{80}, Advertising: true})
	})
	s.discover()
	s.connect(id)
	s.Require().True(s.ctl.IsScanning())

	s.sim.SetState(central.StatePoweredOff)
	s.ctl.ProcessPending()

	s.Equal("Off", s.ctl.StateDescription())
	s.False(s.ctl.IsScanning())
	s.Empty(s.registry.Connected())
}

func (s *ControllerTestSuite) TestSetCustomName() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Advertising: true})
	})
	s.discover()

	s.ctl.SetCustomName(id, "  Work buds ")
	rec, _ := s.registry.Get(id)
	s.Equal("Work buds", rec.CustomName)
	s.Equal("Work buds", rec.DisplayName())

	s.ctl.SetCustomName(id, "   ")
	rec, _ = s.registry.Get(id)
	s.Empty(rec.CustomName, "blank name MUST clear the override")
	s.Equal("AirPods", rec.DisplayName())
}

func (s *ControllerTestSuite) TestRunProcessesEventsAndOperations() {
	var id string
	s.newController(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{64}, Advertising: true})
	})
	s.Require().NoError(s.ctl.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ctl.Run(ctx) }()

	s.Require().Eventually(func() bool { return s.ctl.StateDescription() == "On" }, time.Second, 5*time.Millisecond)

	s.ctl.StartScan()
	s.Require().Eventually(func() bool { return s.registry.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.ctl.Connect(id)
	s.Require().Eventually(func() bool {
		rec, ok := s.registry.Get(id)
		return ok && rec.Battery != nil && *rec.Battery == 64
	}, time.Second, 5*time.Millisecond, "battery MUST be read through the loop")

	cancel()
	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("Run MUST return after cancellation")
	}
}

func (s *ControllerTestSuite) TestRunStopsWhenCentralCloses() {
	s.newController()
	done := make(chan error, 1)
	go func() { done <- s.ctl.Run(context.Background()) }()

	s.Require().NoError(s.ctl.Close())
	select {
	case err := <-done:
		s.ErrorIs(err, session.ErrCentralClosed)
	case <-time.After(time.Second):
		s.Fail("Run MUST return when the event stream closes")
	}
	s.ctl = nil
}

func (s *ControllerTestSuite) TestRunRefresherPollsConnectedDevices() {
	var id string
	s.start(func(c *sim.Central) {
		id = c.Add(sim.Peripheral{Name: "AirPods", Battery: []byte{80}, Advertising: true})
	})
	s.discover()
	s.connect(id)
	s.sim.ResetCalls()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.ctl.RunRefresher(ctx, 10*time.Millisecond)
		close(done)
	}()

	s.Eventually(func() bool { return s.sim.CallCount("DiscoverCharacteristics") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func (s *ControllerTestSuite) TestRunRefresherDisabled() {
	s.newController()
	done := make(chan struct{})
	go func() {
		s.ctl.RunRefresher(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("non-positive interval MUST return immediately")
	}
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
