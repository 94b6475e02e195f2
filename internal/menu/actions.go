package menu

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// BluetoothSettingsURL opens System Settings → Bluetooth on macOS 13+.
const BluetoothSettingsURL = "x-apple.systempreferences:com.apple.Bluetooth-Settings.extension"

var (
	// ErrNeedsInput is returned for actions the caller must complete with user input.
	ErrNeedsInput = errors.New("action needs user input")
	// ErrQuit is returned when the quit item is selected.
	ErrQuit = errors.New("quit requested")
)

// Controller is the set of operations menu items trigger.
type Controller interface {
	StartScan()
	StopScan()
	Connect(id string)
	Disconnect(id string)
	ReadBattery(id string)
	RefreshBatteryForConnected()
	SetCustomName(id, name string)
}

// SettingsOpener opens the system Bluetooth settings.
type SettingsOpener func() error

// OpenSettings launches the system Bluetooth settings pane.
// Only macOS has one; elsewhere an error is returned.
var OpenSettings SettingsOpener = func() error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("bluetooth settings are not available on %s", runtime.GOOS)
	}
	return exec.Command("open", BluetoothSettingsURL).Start()
}

// Perform runs the operation behind item. Disabled items are ignored.
// Rename returns ErrNeedsInput and quit returns ErrQuit; both are left to the caller.
func Perform(ctl Controller, s Snapshot, item Item) error {
	if !item.Enabled || item.Separator {
		return nil
	}
	switch item.Action {
	case ActionToggleScan:
		if s.Scanning {
			ctl.StopScan()
		} else {
			ctl.StartScan()
		}
	case ActionRefresh:
		ctl.RefreshBatteryForConnected()
	case ActionConnect:
		ctl.Connect(item.DeviceID)
	case ActionDisconnect:
		ctl.Disconnect(item.DeviceID)
	case ActionReadBattery:
		ctl.ReadBattery(item.DeviceID)
	case ActionOpenSettings:
		return OpenSettings()
	case ActionRename:
		return ErrNeedsInput
	case ActionQuit:
		return ErrQuit
	}
	return nil
}
