package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blebatt/internal/menu"
	"github.com/srg/blebatt/internal/ringchan"
	"github.com/srg/blebatt/internal/tui"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Show the battery menu",
		Long: `Show the battery menu and keep it up to date.

In a terminal the menu is interactive: scan, connect, rename devices and
read battery levels with the keyboard. When stdout is not a terminal (or
with --plain) the menu is printed as text every time it changes.

Connected devices are re-read every refresh_interval, and levels are
exported over MQTT when mqtt.enabled is set.`,
		Args: cobra.NoArgs,
		RunE: runMenu,
	}
	cmd.Flags().Bool("plain", false, "Print the menu as text instead of the interactive UI")
	return cmd
}

func runMenu(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close BLE session")
		}
	}()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes := a.subscribe()
	if err := a.start(ctx); err != nil {
		return err
	}
	a.group.Go("battery-refresher", func(ctx context.Context) {
		a.controller.RunRefresher(ctx, a.cfg.RefreshInterval)
	})
	if a.cfg.MQTT.Enabled {
		if err := a.startPublisher(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if plain, _ := cmd.Flags().GetBool("plain"); plain || !isTerminal(out) {
		return printMenus(ctx, out, a.controller, changes)
	}
	return tui.Run(ctx, a.controller, changes)
}

// printMenus writes the menu whenever its text changes, until ctx is done.
func printMenus(ctx context.Context, w io.Writer, src menu.Source, changes *ringchan.RingChannel[uint64]) error {
	last := ""
	for {
		if text := menu.Render(menu.Build(menu.Capture(src)), false); text != last {
			if last != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprint(w, text)
			last = text
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes.C():
			if !ok {
				return nil
			}
		}
	}
}
