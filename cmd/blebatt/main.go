package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blebatt",
		Short: "Bluetooth LE battery monitor",
		Long: `Bluetooth Low Energy battery monitor.

Discovers nearby BLE peripherals, connects to them on request and shows
their Battery Service level. Connected devices are polled periodically and
pushed updates are applied as they arrive. Levels can optionally be
exported to an MQTT broker.`,
		Version: formatVersion(version),
		// main() prints clean errors
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("blebatt %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	root.PersistentFlags().String("config", "", "Config file (default ~/.config/blebatt/config.yaml)")
	root.PersistentFlags().String("backend", "", "BLE backend (goble, tinygo, sim)")
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newRunCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newBatteryCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", formatUserError(err))
		os.Exit(1)
	}
}
