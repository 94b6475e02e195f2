package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/device"
)

func newBatteryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "battery <device-id>",
		Short: "Read the battery level of a device",
		Long: `Connect to a device and print its Battery Service level.

The device is looked up among peripherals the system is already connected
to, and scanned for when it is not one of them. The whole operation is
bounded by --timeout (battery_timeout in the config, 30s by default).`,
		Args: cobra.ExactArgs(1),
		RunE: runBattery,
	}
	cmd.Flags().DurationP("timeout", "t", 0, "Give up after this long")
	return cmd
}

func runBattery(cmd *cobra.Command, args []string) error {
	id, err := device.ValidateID(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close BLE session")
		}
	}()

	timeout := a.cfg.BatteryTimeout
	if t, _ := cmd.Flags().GetDuration("timeout"); t > 0 {
		timeout = t
	}
	cmd.SilenceUsage = true

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, timeout)
	defer cancel()

	changes := a.subscribe()
	if err := a.start(ctx); err != nil {
		return err
	}
	if err := timedOut(a.waitPoweredOn(ctx, changes), timeout, "Bluetooth to power on"); err != nil {
		return err
	}

	if !a.registry.Contains(id) {
		a.logger.WithField("id", id).Info("Device not known yet, scanning")
		a.controller.StartScan()
		err := a.waitFor(ctx, changes, func() (bool, error) {
			return a.registry.Contains(id), nil
		})
		a.controller.StopScan()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s waiting for it to advertise: %w",
				timeout, &device.NotFoundError{Resource: "device", ID: id})
		}
		if err != nil {
			return err
		}
	}

	if rec, _ := a.registry.Get(id); rec.IsConnected() {
		a.controller.ReadBattery(id)
	} else {
		a.controller.Connect(id)
	}

	attempted := false
	err = a.waitFor(ctx, changes, func() (bool, error) {
		rec, _ := a.registry.Get(id)
		switch {
		case rec.Battery != nil:
			return true, nil
		case rec.State == device.Connecting:
			attempted = true
		case attempted && rec.State == device.Disconnected:
			return false, fmt.Errorf("%w: %s", ErrConnectFailed, rec.DisplayName())
		}
		return false, nil
	})
	if err := timedOut(err, timeout, "the battery level of "+id); err != nil {
		return err
	}

	rec, _ := a.registry.Get(id)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%%\n", rec.DisplayName(), *rec.Battery)
	return nil
}

// timedOut turns a deadline into a readable error and passes other errors through.
func timedOut(err error, timeout time.Duration, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s waiting for %s", timeout, what)
	}
	return err
}
