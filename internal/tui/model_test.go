package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/srg/blebatt/internal/central/sim"
	"github.com/srg/blebatt/internal/menu"
	"github.com/srg/blebatt/internal/ringchan"
	"github.com/srg/blebatt/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ModelTestSuite struct {
	suite.Suite
	session *testutils.Session
	model   Model
}

func (s *ModelTestSuite) SetupTest() {
	session, err := testutils.NewSession(
		sim.Peripheral{Name: "Bose", Battery: []byte{40}, Advertising: true},
	)
	s.Require().NoError(err)
	s.session = session
	s.model = New(session.Controller, nil)
}

func (s *ModelTestSuite) TearDownTest() {
	s.NoError(s.session.Close())
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

// press sends keys and settles the controller after each one.
func (s *ModelTestSuite) press(keys ...string) tea.Cmd {
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = s.model.Update(keyMsg(k))
		s.model = next.(Model)
		s.session.Settle()
		next, _ = s.model.Update(changedMsg(0))
		s.model = next.(Model)
	}
	return cmd
}

func (s *ModelTestSuite) selected() menu.Item {
	rows := s.model.rows()
	s.Require().True(s.model.cursor >= 0 && s.model.cursor < len(rows), "cursor MUST point at a row")
	return rows[s.model.cursor]
}

func (s *ModelTestSuite) TestInitialView() {
	view := s.model.View()

	s.Contains(view, "Bluetooth: On")
	s.Contains(view, "No devices (tap Scan)")
	s.Contains(view, "Scan for Devices")
	s.Equal("Scan for Devices", s.selected().Title, "cursor MUST start on the first selectable row")
}

func (s *ModelTestSuite) TestScanShortcut() {
	s.press("s")

	view := s.model.View()
	s.Contains(view, "Bose  (Battery –)")
	s.Contains(view, "Stop Scan")
	s.True(s.session.Controller.IsScanning())

	s.press("s")
	s.False(s.session.Controller.IsScanning())
}

func (s *ModelTestSuite) TestNavigationSkipsHeaders() {
	s.press("s")

	s.press("up")
	s.Equal("Bose  (Battery –)", s.selected().Title)

	s.press("up")
	s.Equal("Bose  (Battery –)", s.selected().Title, "cursor MUST NOT move onto headers")

	s.press("down")
	s.Equal("Stop Scan", s.selected().Title)
}

func (s *ModelTestSuite) TestConnectFromSubmenu() {
	id := sim.IDFor("Bose")
	s.press("s", "up", "enter")
	s.Equal(id, s.model.openDevice)
	s.Equal("Connect", s.selected().Title)

	s.press("enter")

	rec, ok := s.session.Registry.Get(id)
	s.Require().True(ok)
	s.True(rec.IsConnected())
	s.Require().NotNil(rec.Battery)
	s.Equal(40, *rec.Battery)

	view := s.model.View()
	s.Contains(view, "Bose  (Battery 40%)")
	s.Contains(view, "Disconnect")
	s.Contains(view, "Read Battery Now")

	s.press("esc")
	s.Empty(s.model.openDevice)
	s.Equal("Bose  (Battery 40%)", s.selected().Title, "cursor MUST return to the device row")
}

func (s *ModelTestSuite) TestRename() {
	id := sim.IDFor("Bose")
	s.press("s", "up", "enter", "down")
	s.Equal("Set Custom Name…", s.selected().Title)

	s.press("enter")
	s.Equal(id, s.model.renaming)
	s.Contains(s.model.View(), "Custom name:")

	s.press("Desk", "enter")
	s.Empty(s.model.renaming)
	rec, _ := s.session.Registry.Get(id)
	s.Equal("Desk", rec.CustomName)
	s.Contains(s.model.View(), "Desk  (Battery – · Desk)")

	// prompt is prefilled; erasing it clears the name
	s.press("enter")
	s.Equal("Desk", s.model.input.Value())
	s.press("backspace", "backspace", "backspace", "backspace", "enter")
	rec, _ = s.session.Registry.Get(id)
	s.Empty(rec.CustomName)
}

func (s *ModelTestSuite) TestRenameCancel() {
	s.press("s", "up", "enter", "down", "enter", "q", "esc")

	s.Empty(s.model.renaming, "esc MUST close the prompt")
	rec, _ := s.session.Registry.Get(sim.IDFor("Bose"))
	s.Empty(rec.CustomName)
}

func (s *ModelTestSuite) TestOpenSettingsError() {
	original := menu.OpenSettings
	defer func() { menu.OpenSettings = original }()
	menu.OpenSettings = func() error { return errors.New("not on this platform") }

	s.press(",")
	s.Contains(s.model.View(), "Error: not on this platform")

	s.press("up")
	s.Contains(s.model.View(), "Error: not on this platform", "navigation MUST keep the last error visible")

	menu.OpenSettings = func() error { return nil }
	s.press(",")
	s.NotContains(s.model.View(), "Error:", "a successful action MUST clear the error")
}

func (s *ModelTestSuite) TestQuit() {
	cmd := s.press("q")
	s.Require().NotNil(cmd)
	s.IsType(tea.QuitMsg{}, cmd())
}

func (s *ModelTestSuite) TestForceQuitWhileRenaming() {
	s.press("s", "up", "enter", "down", "enter")
	cmd := s.press("ctrl+c")
	s.Require().NotNil(cmd)
	s.IsType(tea.QuitMsg{}, cmd())
}

func TestModelTestSuite(t *testing.T) {
	suite.Run(t, new(ModelTestSuite))
}

func TestWaitForChange(t *testing.T) {
	rc := ringchan.New[uint64](1)
	session, err := testutils.NewSession()
	require.NoError(t, err)
	defer session.Close()

	m := New(session.Controller, rc)
	cmd := m.Init()
	require.NotNil(t, cmd)

	rc.Send(3)
	rc.Send(7)
	assert.Equal(t, changedMsg(7), cmd(), "only the latest change MUST be delivered")

	rc.Close()
	assert.Nil(t, cmd())
}

func TestInitWithoutChanges(t *testing.T) {
	session, err := testutils.NewSession()
	require.NoError(t, err)
	defer session.Close()

	assert.Nil(t, New(session.Controller, nil).Init())
}
