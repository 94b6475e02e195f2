package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/central/goble"
	"github.com/srg/blebatt/internal/central/sim"
	"github.com/srg/blebatt/internal/central/tinygo"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/groutine"
	"github.com/srg/blebatt/internal/publish"
	"github.com/srg/blebatt/internal/ringchan"
	"github.com/srg/blebatt/internal/session"
	"github.com/srg/blebatt/pkg/config"
	"golang.org/x/term"
)

// newBackends lists the BLE bindings selectable with --backend.
var newBackends = func(logger *logrus.Logger) central.Backends {
	return central.Backends{
		config.BackendGoBLE: func() (central.Central, error) {
			return goble.New(logger), nil
		},
		config.BackendTinyGo: func() (central.Central, error) {
			return tinygo.New(logger), nil
		},
		config.BackendSim: func() (central.Central, error) {
			return sim.New(sim.WithLogger(logger), sim.WithPeripherals(sim.DemoPeripherals()...)), nil
		},
	}
}

// app is one BLE session shared by the subcommands.
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	logFile    *os.File
	registry   *device.Registry
	controller *session.Controller
	group      *groutine.Group
	closers    []io.Closer

	subMu       sync.Mutex
	subscribers []*ringchan.RingChannel[uint64]
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, logFile, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	c, err := newBackends(logger).New(cfg.Backend)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}

	registry := device.NewRegistry(logger)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		logFile:  logFile,
		registry: registry,
		controller: session.New(c, registry, session.Options{
			AllowDuplicates: cfg.Scan.AllowDuplicates,
			Logger:          logger,
		}),
	}
	a.controller.SetOnChange(a.notify)
	return a, nil
}

// subscribe returns a channel receiving the registry version after every change.
func (a *app) subscribe() *ringchan.RingChannel[uint64] {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	rc := ringchan.New[uint64](1)
	a.subscribers = append(a.subscribers, rc)
	return rc
}

func (a *app) notify() {
	v := a.registry.Version()
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, rc := range a.subscribers {
		rc.Send(v)
	}
}

// start initializes the central and runs the session loop until ctx is done or close is called.
func (a *app) start(ctx context.Context) error {
	if err := a.controller.Start(); err != nil {
		return fmt.Errorf("failed to start BLE session: %w", err)
	}
	a.group = groutine.NewGroup(ctx)
	a.group.Go("session-loop", func(ctx context.Context) {
		if err := a.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Warn("Session loop stopped")
		}
	})
	return nil
}

// startPublisher connects to the MQTT broker and exports battery levels until close.
func (a *app) startPublisher() error {
	m := a.cfg.MQTT
	opts := publish.Options{
		Broker:      m.Broker,
		ClientID:    m.ClientID,
		Username:    m.Username,
		Password:    m.Password,
		TopicPrefix: m.TopicPrefix,
		QoS:         byte(m.QoS),
	}
	sink, err := publish.Connect(opts)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, sink)

	pub := publish.NewPublisher(sink, a.registry, opts, a.logger)
	changes := a.subscribe()
	a.group.Go("mqtt-publisher", func(ctx context.Context) {
		pub.Run(ctx, changes)
	})
	a.logger.WithFields(logrus.Fields{
		"broker": m.Broker,
		"prefix": m.TopicPrefix,
	}).Info("Exporting battery levels over MQTT")
	return nil
}

// waitFor blocks until cond reports true or an error, re-checking after every change.
func (a *app) waitFor(ctx context.Context, changes *ringchan.RingChannel[uint64], cond func() (bool, error)) error {
	for {
		if ok, err := cond(); ok || err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes.C():
			if !ok {
				return session.ErrCentralClosed
			}
		}
	}
}

// waitPoweredOn blocks until the adapter is powered on. Off, unauthorized and
// unsupported adapters fail right away.
func (a *app) waitPoweredOn(ctx context.Context, changes *ringchan.RingChannel[uint64]) error {
	return a.waitFor(ctx, changes, func() (bool, error) {
		switch state := a.controller.State(); state {
		case central.StatePoweredOn:
			return true, nil
		case central.StatePoweredOff, central.StateUnauthorized, central.StateUnsupported:
			return false, fmt.Errorf("%w: adapter is %s", ErrBluetoothUnavailable, state.Description())
		default:
			return false, nil
		}
	})
}

func (a *app) close() error {
	if a.group != nil {
		a.group.Stop()
	}
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, a.controller.Close())

	a.subMu.Lock()
	for _, rc := range a.subscribers {
		rc.Close()
	}
	a.subMu.Unlock()

	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
