package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains the lipgloss styles of the menu.
type Styles struct {
	App lipgloss.Style

	Title  lipgloss.Style
	Status lipgloss.Style

	Header       lipgloss.Style
	Item         lipgloss.Style
	ItemSelected lipgloss.Style
	ItemDisabled lipgloss.Style
	Shortcut     lipgloss.Style
	Separator    lipgloss.Style

	Prompt lipgloss.Style
	Error  lipgloss.Style
	Help   lipgloss.Style
}

// DefaultStyles returns the default color scheme.
func DefaultStyles() Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	muted := lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}

	return Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(highlight).
			Padding(0, 1),

		Status: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#343433", Dark: "#C1C6B2"}).
			MarginBottom(1),

		Header: lipgloss.NewStyle().
			Foreground(muted).
			Bold(true),

		Item: lipgloss.NewStyle(),

		ItemSelected: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		ItemDisabled: lipgloss.NewStyle().
			Foreground(muted),

		Shortcut: lipgloss.NewStyle().
			Foreground(muted),

		Separator: lipgloss.NewStyle().
			Foreground(subtle),

		Prompt: lipgloss.NewStyle().
			Foreground(highlight),

		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")),

		Help: lipgloss.NewStyle().
			Foreground(muted).
			MarginTop(1),
	}
}
