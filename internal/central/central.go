// Package central defines the contract between the session controller and a
// platform Bluetooth Low Energy binding acting in the central role.
//
// Operations on a Central never block on the radio: results surface later as
// Event values on the Events channel, in the order the platform produced them.
package central

import (
	"errors"
	"fmt"
)

// ManagerState mirrors the platform central manager state.
type ManagerState int

const (
	StateUnknown ManagerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

// Description returns the short label shown in the status row.
func (s ManagerState) Description() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateResetting:
		return "Resetting"
	case StateUnsupported:
		return "Unsupported"
	case StateUnauthorized:
		return "Unauthorized"
	case StatePoweredOff:
		return "Off"
	case StatePoweredOn:
		return "On"
	default:
		return "Other"
	}
}

func (s ManagerState) String() string {
	return s.Description()
}

// Peripheral identifies a remote device known to the platform.
type Peripheral struct {
	ID   string
	Name string
}

// Central is the platform BLE stack as seen by the session controller.
//
// Identifiers are the platform's peripheral identifiers. Operations on
// identifiers the binding has never seen are ignored by the binding.
type Central interface {
	// Init powers up the binding. Readiness is reported by an EventStateChanged.
	Init() error
	Scan(allowDuplicates bool)
	StopScan()
	Connect(id string)
	CancelConnect(id string)
	DiscoverServices(id string, services []string)
	DiscoverCharacteristics(id, service string, characteristics []string)
	ReadCharacteristic(id, service, characteristic string)
	SetNotify(id, service, characteristic string, enabled bool)
	// RetrieveConnected lists peripherals the OS already holds connections to
	// that expose any of the given services.
	RetrieveConnected(services []string) []Peripheral
	Events() <-chan Event
	Close() error
}

var (
	ErrBluetoothOff   = errors.New("bluetooth is turned off")
	ErrUnauthorized   = errors.New("bluetooth access is not authorized")
	ErrUnsupported    = errors.New("bluetooth low energy is not supported")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNotConnected   = errors.New("peripheral not connected")
)

// StateForError maps a binding initialisation error to the manager state it implies.
func StateForError(err error) ManagerState {
	switch {
	case err == nil:
		return StatePoweredOn
	case errors.Is(err, ErrBluetoothOff):
		return StatePoweredOff
	case errors.Is(err, ErrUnauthorized):
		return StateUnauthorized
	case errors.Is(err, ErrUnsupported):
		return StateUnsupported
	default:
		return StateUnknown
	}
}

// Factory creates a Central by backend name.
type Factory func() (Central, error)

// Backends is the registry of available bindings, filled by cmd wiring.
type Backends map[string]Factory

// New creates the Central registered under name.
func (b Backends) New(name string) (Central, error) {
	f, ok := b[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return f()
}
