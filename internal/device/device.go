package device

import (
	"errors"
	"fmt"
)

// UnknownName is shown for peripherals that never reported a name.
const UnknownName = "Unknown"

// ConnectionState is the link state of a peripheral as last reported by the platform.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "not connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Record is a single registry entry. Values handed out by the Registry are copies.
type Record struct {
	ID         string
	Name       string // empty when the platform never reported one
	CustomName string // empty when no override is set
	State      ConnectionState
	Battery    *int // nil until the first successful read
	Discovered bool // seen in an active scan
}

// DisplayName returns the custom name, then the reported name, then UnknownName.
func (r Record) DisplayName() string {
	if r.CustomName != "" {
		return r.CustomName
	}
	return r.ReportedName()
}

// ReportedName returns the platform name or UnknownName.
func (r Record) ReportedName() string {
	if r.Name != "" {
		return r.Name
	}
	return UnknownName
}

// IsConnected reports whether the record's link is up.
func (r Record) IsConnected() bool {
	return r.State == Connected
}

func (r *Record) clone() *Record {
	c := *r
	if r.Battery != nil {
		level := *r.Battery
		c.Battery = &level
	}
	return &c
}

// View is the per-device model exposed to presentation layers.
type View struct {
	ID           string
	DisplayName  string
	CustomName   string
	IsConnected  bool
	BatteryLevel *int
}

func (r *Record) view() View {
	v := View{
		ID:          r.ID,
		DisplayName: r.DisplayName(),
		CustomName:  r.CustomName,
		IsConnected: r.IsConnected(),
	}
	if r.Battery != nil {
		level := *r.Battery
		v.BatteryLevel = &level
	}
	return v
}

// NotFoundError represents a lookup of an identifier the registry has never seen
type NotFoundError struct {
	Resource string // "device", "service", "characteristic"
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is allows errors.Is to match any NotFoundError for the same resource kind
func (e *NotFoundError) Is(target error) bool {
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == e.Resource && (t.ID == "" || t.ID == e.ID)
}

var (
	ErrDeviceNotFound = &NotFoundError{Resource: "device"}
	ErrInvalidID      = errors.New("invalid device identifier")
)
