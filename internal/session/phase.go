package session

import (
	"fmt"

	"github.com/srg/blebatt/internal/central"
)

// Phase is how far a device has progressed towards a known battery level.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseDiscovered
	PhaseConnecting
	PhaseConnected
	PhaseServiceDiscovered
	PhaseCharDiscovered
	PhaseBatteryKnown
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseDiscovered:
		return "discovered"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseServiceDiscovered:
		return "service-discovered"
	case PhaseCharDiscovered:
		return "characteristic-discovered"
	case PhaseBatteryKnown:
		return "battery-known"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// gattState is the per-device GATT progress, owned by the controller loop.
type gattState struct {
	phase          Phase
	services       []string // normalized service cache, nil until discovered
	servicePending bool     // a service discovery request is outstanding
}

func (g *gattState) hasBatteryService() bool {
	return central.ContainsUUID(g.services, central.BatteryServiceUUID)
}

// reset drops everything learnt over a connection.
func (g *gattState) reset() {
	g.phase = PhaseDiscovered
	g.services = nil
	g.servicePending = false
}
