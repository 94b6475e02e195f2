package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/device"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for nearby Bluetooth Low Energy devices and list them.

Devices the system is already connected to and that expose the Battery
Service are listed as connected.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default scan.duration from the config, 10s)")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close BLE session")
		}
	}()

	duration := a.cfg.Scan.Duration
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		duration = d
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes := a.subscribe()
	if err := a.start(ctx); err != nil {
		return err
	}
	if err := a.waitPoweredOn(ctx, changes); err != nil {
		return err
	}

	a.logger.WithField("duration", duration).Info("Scanning for BLE devices")
	a.controller.StartScan()

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	<-scanCtx.Done()
	cancel()
	a.controller.StopScan()

	// Ctrl+C still prints what was found so far
	return printDevices(cmd.OutOrStdout(), a.registry)
}

// printDevices lists connected devices first, then discovered ones.
func printDevices(out io.Writer, registry *device.Registry) error {
	views := append(registry.Connected(), registry.Discovered()...)
	if len(views) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tSTATE\tBATTERY")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, v := range views {
		state := device.Disconnected.String()
		if v.IsConnected {
			state = device.Connected.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.DisplayName, v.ID, state, formatBattery(v.BatteryLevel))
	}
	return w.Flush()
}

// formatBattery renders a level colored by charge: green from 50%, yellow from 20%, red below.
func formatBattery(level *int) string {
	if level == nil {
		return "–"
	}
	text := fmt.Sprintf("%d%%", *level)
	switch {
	case *level >= 50:
		return color.GreenString(text)
	case *level >= 20:
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}
