// Package menu builds the tray menu model from the device registry.
//
// The model is a plain tree of Items; rendering is left to the caller
// (the terminal UI, or the plain-text listing used when stdout is not a TTY).
package menu

import (
	"fmt"

	"github.com/srg/blebatt/internal/device"
)

// Action identifies what selecting an item does.
type Action int

const (
	ActionNone Action = iota
	ActionToggleScan
	ActionRefresh
	ActionOpenSettings
	ActionQuit
	ActionConnect
	ActionDisconnect
	ActionReadBattery
	ActionRename
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionToggleScan:
		return "toggle-scan"
	case ActionRefresh:
		return "refresh"
	case ActionOpenSettings:
		return "open-settings"
	case ActionQuit:
		return "quit"
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionReadBattery:
		return "read-battery"
	case ActionRename:
		return "rename"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Item is one menu row.
type Item struct {
	Title     string
	Key       string // shortcut, empty if none
	Enabled   bool
	Separator bool
	Action    Action
	DeviceID  string
	Submenu   []Item
}

// Selectable reports whether the item can be activated or opened.
func (i Item) Selectable() bool {
	return !i.Separator && i.Enabled && (i.Action != ActionNone || len(i.Submenu) > 0)
}

func separator() Item {
	return Item{Separator: true}
}

func label(title string) Item {
	return Item{Title: title}
}

// Snapshot is the state a menu is built from.
type Snapshot struct {
	State      string
	Scanning   bool
	Connected  []device.View
	Discovered []device.View
	Version    uint64
}

// Source is what Capture reads a snapshot from.
type Source interface {
	StateDescription() string
	IsScanning() bool
	Registry() *device.Registry
}

// Capture takes a snapshot of src.
func Capture(src Source) Snapshot {
	reg := src.Registry()
	return Snapshot{
		State:      src.StateDescription(),
		Scanning:   src.IsScanning(),
		Connected:  reg.Connected(),
		Discovered: reg.Discovered(),
		Version:    reg.Version(),
	}
}

// Build lays out the menu for s.
func Build(s Snapshot) []Item {
	items := []Item{
		label("Bluetooth: " + s.State),
		separator(),
	}

	if len(s.Connected) > 0 {
		items = append(items, label("Connected"))
		for _, v := range s.Connected {
			items = append(items, deviceItem(v))
		}
		items = append(items, separator())
	}

	items = append(items, label("Discovered"))
	if len(s.Discovered) == 0 {
		items = append(items, label("No devices (tap Scan)"))
	} else {
		for _, v := range s.Discovered {
			items = append(items, deviceItem(v))
		}
	}
	items = append(items, separator())

	scanTitle := "Scan for Devices"
	if s.Scanning {
		scanTitle = "Stop Scan"
	}
	items = append(items,
		Item{Title: scanTitle, Key: "s", Enabled: true, Action: ActionToggleScan},
		Item{Title: "Refresh Battery Levels", Key: "r", Enabled: len(s.Connected) > 0, Action: ActionRefresh},
		Item{Title: "Open Bluetooth Settings…", Key: ",", Enabled: true, Action: ActionOpenSettings},
		Item{Title: "Unpair / Remove Device…", Enabled: true, Action: ActionOpenSettings},
		separator(),
		Item{Title: "Quit", Key: "q", Enabled: true, Action: ActionQuit},
	)
	return items
}

// DeviceTitle formats a device row, e.g. "AirPods  (Battery 80% · Work)".
func DeviceTitle(v device.View) string {
	battery := "–"
	if v.BatteryLevel != nil {
		battery = fmt.Sprintf("%d%%", *v.BatteryLevel)
	}
	subtitle := "Battery " + battery
	if v.CustomName != "" {
		subtitle += " · " + v.CustomName
	}
	return fmt.Sprintf("%s  (%s)", v.DisplayName, subtitle)
}

func deviceItem(v device.View) Item {
	var sub []Item
	if v.IsConnected {
		sub = append(sub,
			Item{Title: "Disconnect", Enabled: true, Action: ActionDisconnect, DeviceID: v.ID},
			Item{Title: "Read Battery Now", Enabled: true, Action: ActionReadBattery, DeviceID: v.ID},
		)
	} else {
		sub = append(sub, Item{Title: "Connect", Enabled: true, Action: ActionConnect, DeviceID: v.ID})
	}
	sub = append(sub,
		Item{Title: "Set Custom Name…", Enabled: true, Action: ActionRename, DeviceID: v.ID},
		Item{Title: "Open in Bluetooth Settings…", Enabled: true, Action: ActionOpenSettings, DeviceID: v.ID},
	)

	return Item{
		Title:    DeviceTitle(v),
		Enabled:  true,
		DeviceID: v.ID,
		Submenu:  sub,
	}
}
