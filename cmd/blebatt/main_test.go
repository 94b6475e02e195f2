package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebatt/internal/central"
	"github.com/srg/blebatt/internal/central/sim"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args against an empty home directory.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestScan_Sim(t *testing.T) {
	out, err := execute(t, context.Background(), "scan", "--backend", "sim", "--duration", "100ms")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "AirPods Pro")
	assert.Contains(t, out, "Bose QC45")
	assert.Contains(t, out, "Flaky Sensor")
	assert.Contains(t, out, device.UnknownName, "nameless peripherals MUST be listed as Unknown")
	assert.Contains(t, out, sim.IDFor("AirPods Pro"))
	assert.Contains(t, out, "MX Master 3", "OS-connected peripherals MUST be listed")
}

func TestBattery_Sim(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Bose QC45", "Bose QC45: 75%\n"},
		{"AirPods Pro", "AirPods Pro: 80%\n"},
		{"MX Master 3", "MX Master 3: 55%\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, context.Background(), "battery", sim.IDFor(tt.name), "--backend", "sim", "--timeout", "5s")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestBattery_UnknownDevice(t *testing.T) {
	_, err := execute(t, context.Background(), "battery", "aa:bb:cc:dd:ee:ff", "--backend", "sim", "--timeout", "200ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 200ms")
	assert.Contains(t, err.Error(), "to advertise")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestBattery_ConnectFailure(t *testing.T) {
	_, err := execute(t, context.Background(), "battery", sim.IDFor("Flaky Sensor"), "--backend", "sim", "--timeout", "300ms")
	require.Error(t, err, "a device that cannot be connected MUST NOT report a level")
	if !errors.Is(err, ErrConnectFailed) {
		assert.Contains(t, err.Error(), "timed out")
	}
}

func TestBattery_InvalidID(t *testing.T) {
	_, err := execute(t, context.Background(), "battery", "  ", "--backend", "sim")
	assert.ErrorIs(t, err, device.ErrInvalidID)
}

func TestRun_Plain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out, err := execute(t, ctx, "run", "--plain", "--backend", "sim")
	require.NoError(t, err)

	assert.Contains(t, out, "Bluetooth: On")
	assert.Contains(t, out, "MX Master 3  (Battery")
	assert.Contains(t, out, "No devices (tap Scan)")
	assert.Contains(t, out, "Quit [q]")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: sim\nscan:\n  duration: 50ms\n"), 0o600))

	out, err := execute(t, context.Background(), "scan", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "AirPods Pro")
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blebatt.log")

	_, err := execute(t, context.Background(), "scan", "--backend", "sim", "-d", "50ms", "--log-level", "debug", "--log-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Scanning for BLE devices")
}

func TestFlagErrors(t *testing.T) {
	_, err := execute(t, context.Background(), "scan", "--backend", "sim", "--log-level", "chatty")
	assert.ErrorContains(t, err, "invalid log level: chatty")

	_, err = execute(t, context.Background(), "scan", "--backend", "corebluetooth")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, context.Background(), "scan", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestBackendFactoryError(t *testing.T) {
	original := newBackends
	defer func() { newBackends = original }()
	newBackends = func(*logrus.Logger) central.Backends { return central.Backends{} }

	_, err := execute(t, context.Background(), "scan", "--backend", "sim")
	assert.ErrorIs(t, err, central.ErrUnknownBackend)
	assert.Contains(t, formatUserError(err), "use one of goble, tinygo, sim")
}

func TestBluetoothOff(t *testing.T) {
	original := newBackends
	defer func() { newBackends = original }()
	newBackends = func(logger *logrus.Logger) central.Backends {
		return central.Backends{
			config.BackendSim: func() (central.Central, error) {
				return sim.New(sim.WithLogger(logger), sim.WithInitialState(central.StatePoweredOff)), nil
			},
		}
	}

	_, err := execute(t, context.Background(), "scan", "--backend", "sim")
	assert.ErrorIs(t, err, ErrBluetoothUnavailable)
	assert.Contains(t, err.Error(), "adapter is Off")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatBattery(t *testing.T) {
	level := func(n int) *int { return &n }
	assert.Equal(t, "–", formatBattery(nil))
	assert.Contains(t, formatBattery(level(75)), "75%")
	assert.Contains(t, formatBattery(level(5)), "5%")
}
