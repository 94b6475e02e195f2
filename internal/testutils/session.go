package testutils

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blebatt/internal/central/sim"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/session"
)

// NewLogger returns a logger that discards output and records entries in the returned hook.
func NewLogger() (*logrus.Logger, *test.Hook) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(logger)
	return logger, hook
}

// Session is a controller wired to a simulated central.
type Session struct {
	Sim        *sim.Central
	Registry   *device.Registry
	Controller *session.Controller
	Logger     *logrus.Logger
	Hook       *test.Hook
}

// NewSession starts a controller over the given peripherals and applies the
// initial state events. The controller runs inline: call Settle after operations.
func NewSession(peripherals ...sim.Peripheral) (*Session, error) {
	logger, hook := NewLogger()
	c := sim.New(sim.WithLogger(logger), sim.WithPeripherals(peripherals...))
	reg := device.NewRegistry(logger)
	ctl := session.New(c, reg, session.Options{Logger: logger})

	if err := ctl.Start(); err != nil {
		return nil, err
	}
	ctl.ProcessPending()

	return &Session{
		Sim:        c,
		Registry:   reg,
		Controller: ctl,
		Logger:     logger,
		Hook:       hook,
	}, nil
}

// Settle applies every event the simulator has produced so far.
func (s *Session) Settle() {
	s.Controller.ProcessPending()
}

// ScanAndSettle runs one scan and applies the resulting advertisements.
func (s *Session) ScanAndSettle() {
	s.Controller.StartScan()
	s.Settle()
}

// Close releases the simulator.
func (s *Session) Close() error {
	return s.Controller.Close()
}
