// Package tui renders the tray menu in the terminal with bubbletea.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/srg/blebatt/internal/device"
	"github.com/srg/blebatt/internal/menu"
	"github.com/srg/blebatt/internal/ringchan"
)

// Backend is what the menu reads from and acts on.
type Backend interface {
	menu.Source
	menu.Controller
}

// changedMsg signals that the registry or the adapter state changed.
type changedMsg uint64

// Model is the bubbletea model of the menu.
type Model struct {
	backend Backend
	changes *ringchan.RingChannel[uint64]

	snapshot menu.Snapshot
	items    []menu.Item
	cursor   int
	// device whose submenu is open, empty at the top level
	openDevice string

	renaming string
	input    textinput.Model

	errorMsg string
	width    int

	keys   KeyMap
	help   help.Model
	styles Styles
}

// New creates a menu over backend. Values sent to changes trigger a rebuild;
// changes may be nil, in which case the menu is only rebuilt after key presses.
func New(backend Backend, changes *ringchan.RingChannel[uint64]) Model {
	ti := textinput.New()
	ti.Placeholder = "leave empty to clear"
	ti.CharLimit = 64

	m := Model{
		backend: backend,
		changes: changes,
		input:   ti,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		styles:  DefaultStyles(),
	}
	m.rebuild()
	m.cursor = m.firstSelectable()
	return m
}

// Init starts listening for changes.
func (m Model) Init() tea.Cmd {
	return waitForChange(m.changes)
}

func waitForChange(changes *ringchan.RingChannel[uint64]) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		v, ok := <-changes.C()
		if !ok {
			return nil
		}
		return changedMsg(v)
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.ForceQuit) {
			return m, tea.Quit
		}
		if m.renaming != "" {
			return m.updateRename(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case changedMsg:
		m.rebuild()
		return m, waitForChange(m.changes)
	}

	if m.renaming != "" {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.move(1)
	case key.Matches(msg, m.keys.Back):
		if m.openDevice != "" {
			id := m.openDevice
			m.openDevice = ""
			m.cursor = m.indexOfDevice(id)
		}
	case key.Matches(msg, m.keys.Select):
		rows := m.rows()
		if m.cursor < 0 || m.cursor >= len(rows) || !rows[m.cursor].Selectable() {
			return m, nil
		}
		item := rows[m.cursor]
		if len(item.Submenu) > 0 {
			m.openDevice = item.DeviceID
			m.cursor = m.firstSelectable()
			return m, nil
		}
		return m.perform(item)
	case key.Matches(msg, m.keys.Scan):
		return m.shortcut(m.keys.Scan)
	case key.Matches(msg, m.keys.Refresh):
		return m.shortcut(m.keys.Refresh)
	case key.Matches(msg, m.keys.Settings):
		return m.shortcut(m.keys.Settings)
	case key.Matches(msg, m.keys.Quit):
		return m.shortcut(m.keys.Quit)
	}
	return m, nil
}

// shortcut activates the top-level item whose key is bound to b.
func (m Model) shortcut(b key.Binding) (tea.Model, tea.Cmd) {
	for _, it := range m.items {
		if it.Key == "" {
			continue
		}
		for _, k := range b.Keys() {
			if it.Key == k {
				return m.perform(it)
			}
		}
	}
	return m, nil
}

func (m Model) perform(item menu.Item) (tea.Model, tea.Cmd) {
	m.errorMsg = ""
	err := menu.Perform(m.backend, m.snapshot, item)
	switch {
	case errors.Is(err, menu.ErrQuit):
		return m, tea.Quit
	case errors.Is(err, menu.ErrNeedsInput):
		return m.startRename(item.DeviceID)
	case err != nil:
		m.errorMsg = err.Error()
	}
	m.rebuild()
	return m, nil
}

func (m Model) startRename(id string) (tea.Model, tea.Cmd) {
	m.renaming = id
	current := ""
	if rec, ok := m.backend.Registry().Get(id); ok {
		current = rec.CustomName
	}
	m.input.SetValue(current)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m Model) updateRename(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.backend.SetCustomName(m.renaming, strings.TrimSpace(m.input.Value()))
		m.stopRename()
		m.rebuild()
		return m, nil
	case tea.KeyEsc:
		m.stopRename()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) stopRename() {
	m.renaming = ""
	m.input.Blur()
	m.input.Reset()
}

func (m *Model) rebuild() {
	m.snapshot = menu.Capture(m.backend)
	m.items = menu.Build(m.snapshot)

	if m.openDevice != "" && m.indexOfDevice(m.openDevice) < 0 {
		m.openDevice = ""
	}
	rows := m.rows()
	if m.cursor >= len(rows) || m.cursor < 0 || !rows[m.cursor].Selectable() {
		m.cursor = m.nearestSelectable(m.cursor)
	}
}

// rows returns the items of the level being shown.
func (m Model) rows() []menu.Item {
	if m.openDevice == "" {
		return m.items
	}
	if i := m.indexOfDevice(m.openDevice); i >= 0 {
		return m.items[i].Submenu
	}
	return m.items
}

func (m Model) indexOfDevice(id string) int {
	for i, it := range m.items {
		if it.DeviceID == id && len(it.Submenu) > 0 {
			return i
		}
	}
	return -1
}

func (m *Model) move(delta int) {
	rows := m.rows()
	for i := m.cursor + delta; i >= 0 && i < len(rows); i += delta {
		if rows[i].Selectable() {
			m.cursor = i
			return
		}
	}
}

func (m Model) firstSelectable() int {
	for i, it := range m.rows() {
		if it.Selectable() {
			return i
		}
	}
	return -1
}

// nearestSelectable looks forward from i, then backward.
func (m Model) nearestSelectable(i int) int {
	rows := m.rows()
	if i >= len(rows) {
		i = len(rows) - 1
	}
	if i < 0 {
		i = 0
	}
	for j := i; j < len(rows); j++ {
		if rows[j].Selectable() {
			return j
		}
	}
	for j := i - 1; j >= 0; j-- {
		if rows[j].Selectable() {
			return j
		}
	}
	return -1
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("blebatt"))
	b.WriteString("\n\n")

	if m.openDevice != "" {
		i := m.indexOfDevice(m.openDevice)
		b.WriteString(m.styles.Status.Render(m.items[i].Title + "  " + device.ShortenID(m.openDevice)))
		b.WriteString("\n")
	}

	for i, it := range m.rows() {
		b.WriteString(m.renderItem(it, i == m.cursor))
		b.WriteString("\n")
	}

	if m.renaming != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Prompt.Render("Custom name: "))
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	if m.errorMsg != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Error.Render("Error: " + m.errorMsg))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}

func (m Model) renderItem(it menu.Item, selected bool) string {
	switch {
	case it.Separator:
		return m.styles.Separator.Render(strings.Repeat("─", 32))
	case it.Action == menu.ActionNone && len(it.Submenu) == 0:
		return m.styles.Header.Render(it.Title)
	}

	title := it.Title
	if len(it.Submenu) > 0 {
		title += " ›"
	}
	if it.Key != "" {
		title += m.styles.Shortcut.Render(fmt.Sprintf("  %s", it.Key))
	}

	switch {
	case !it.Selectable():
		return "  " + m.styles.ItemDisabled.Render(title)
	case selected:
		return m.styles.ItemSelected.Render("› " + title)
	default:
		return "  " + m.styles.Item.Render(title)
	}
}
