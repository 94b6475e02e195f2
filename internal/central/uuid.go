package central

import "strings"

// GATT assigned numbers used by the battery monitor, in normalized form.
const (
	BatteryServiceUUID = "180f"
	BatteryLevelUUID   = "2a19"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// It strips a 0x prefix and reduces Bluetooth SIG base UUIDs
// (0000xxxx-0000-1000-8000-00805f9b34fb) to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasSuffix(s, sigBaseSuffix) && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, NormalizeUUID(u))
	}
	return out
}

// ContainsUUID reports whether uuids holds target, comparing normalized forms.
func ContainsUUID(uuids []string, target string) bool {
	target = NormalizeUUID(target)
	for _, u := range uuids {
		if NormalizeUUID(u) == target {
			return true
		}
	}
	return false
}

// DecodeBatteryLevel returns the first byte of a Battery Level value.
// Values above 100 are passed through unchanged.
func DecodeBatteryLevel(value []byte) (int, bool) {
	if len(value) == 0 {
		return 0, false
	}
	return int(value[0]), true
}
