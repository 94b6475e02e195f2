package tinygo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/blebatt/internal/central"
	"tinygo.org/x/bluetooth"
)

// toUUID accepts 16-bit short forms ("180f") as well as full UUID text.
func toUUID(s string) (bluetooth.UUID, error) {
	n := central.NormalizeUUID(s)
	if len(n) == 4 {
		v, err := strconv.ParseUint(n, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}

// toUUIDs converts a filter list; nil stays nil (no filtering).
func toUUIDs(in []string) ([]bluetooth.UUID, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]bluetooth.UUID, 0, len(in))
	for _, s := range in {
		u, err := toUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func charKey(service, characteristic string) string {
	return central.NormalizeUUID(service) + "/" + central.NormalizeUUID(characteristic)
}

func hasAnyService(have map[string]*bluetooth.DeviceService, want []string) bool {
	for _, w := range want {
		if _, ok := have[central.NormalizeUUID(w)]; ok {
			return true
		}
	}
	return false
}

// dedupe admits each identifier once per scan session unless duplicates are allowed.
type dedupe struct {
	allowDuplicates bool
	seen            map[string]struct{}
}

func newDedupe(allowDuplicates bool) *dedupe {
	return &dedupe{allowDuplicates: allowDuplicates, seen: make(map[string]struct{})}
}

func (d *dedupe) admit(id string) bool {
	if d == nil || d.allowDuplicates {
		return true
	}
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// normalizeError maps adapter error text to the central error taxonomy.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "powered off"), strings.Contains(msg, "not powered"), strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", central.ErrBluetoothOff, err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "not authorized"), strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", central.ErrUnauthorized, err)
	case strings.Contains(msg, "unsupported"), strings.Contains(msg, "no bluetooth adapter"), strings.Contains(msg, "not available"):
		return fmt.Errorf("%w: %v", central.ErrUnsupported, err)
	default:
		return err
	}
}
