package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "uppercase CoreBluetooth UUID",
			input:    "5A1B2C3D-4E5F-6071-8293-A4B5C6D7E8F9",
			expected: "5a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
		},
		{
			name:     "UUID with surrounding whitespace",
			input:    "  5a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9\n",
			expected: "5a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9",
		},
		{
			name:     "MAC address",
			input:    "AA:BB:CC:DD:EE:FF",
			expected: "aa:bb:cc:dd:ee:ff",
		},
		{
			name:     "empty",
			input:    "   ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeID(tt.input))
		})
	}
}

func TestValidateID(t *testing.T) {
	id, err := ValidateID("AA:BB:CC:DD:EE:FF")
	assert.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", id)

	_, err = ValidateID("")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestShortenID(t *testing.T) {
	assert.Equal(t, "5a1b2c3d", ShortenID("5a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"))
	assert.Equal(t, "abc", ShortenID("abc"))
}

func TestRecord_Names(t *testing.T) {
	tests := []struct {
		name            string
		rec             Record
		expectedDisplay string
		expectedRawName string
	}{
		{"custom name wins", Record{Name: "Bose", CustomName: "Desk"}, "Desk", "Bose"},
		{"reported name", Record{Name: "Bose"}, "Bose", "Bose"},
		{"no name", Record{}, UnknownName, UnknownName},
		{"custom name only", Record{CustomName: "Desk"}, "Desk", UnknownName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedDisplay, tt.rec.DisplayName())
			assert.Equal(t, tt.expectedRawName, tt.rec.ReportedName())
		})
	}
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "not connected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "ConnectionState(9)", ConnectionState(9).String())
}

func TestNotFoundError(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &NotFoundError{Resource: "device", ID: "abc"})

	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	assert.Equal(t, `lookup: device "abc" not found`, err.Error())
	assert.False(t, errors.Is(err, &NotFoundError{Resource: "service"}))
	assert.Equal(t, "device not found", ErrDeviceNotFound.Error())
}
