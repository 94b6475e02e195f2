package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NormalizeID converts a peripheral identifier to the registry key format.
// CoreBluetooth identifiers are UUIDs and are returned in canonical lowercase
// form. Anything else (e.g. a Linux MAC address) is trimmed and lower-cased.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return strings.ToLower(id)
}

// ValidateID normalizes id and rejects empty identifiers.
func ValidateID(id string) (string, error) {
	normalized := NormalizeID(id)
	if normalized == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return normalized, nil
}

// ShortenID returns a truncated identifier for display purposes.
// Returns the first eight characters for long identifiers and short ones by themselves.
func ShortenID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
