package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blebatt/internal/central"
)

// NormalizeError maps known go-ble error strings to the central error taxonomy.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", central.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", central.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=3 want=5"), containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", central.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "have=2 want=5"), containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %v", central.ErrUnsupported, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", central.ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
