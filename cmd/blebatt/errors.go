package main

import (
	"errors"
	"fmt"

	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/pkg/config"
)

// Command-level errors
var (
	// ErrBluetoothUnavailable is returned when the adapter settles in a state
	// other than powered on.
	ErrBluetoothUnavailable = errors.New("bluetooth is not available")

	// ErrConnectFailed is returned when a connection attempt ends without a link.
	ErrConnectFailed = errors.New("failed to connect")
)

// formatUserError adds a hint to errors the user can fix.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return fmt.Sprintf("%s (check --config or %s)", err, config.DefaultPath())
	case errors.Is(err, central.ErrUnknownBackend):
		return fmt.Sprintf("%s (use one of %s, %s, %s)", err, config.BackendGoBLE, config.BackendTinyGo, config.BackendSim)
	case errors.Is(err, ErrBluetoothUnavailable):
		return fmt.Sprintf("%s (turn Bluetooth on and allow access in System Settings)", err)
	default:
		return err.Error()
	}
}
