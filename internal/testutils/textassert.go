// Package testutils holds helpers shared by package tests.
package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T used by the asserters.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
}

// TextOptions controls how texts are normalized before comparison.
type TextOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	Colors                   bool `default:"false"`
}

// TextOption tweaks TextOptions.
type TextOption func(*TextOptions)

// WithEmptyLinesIgnored drops blank lines on both sides.
func WithEmptyLinesIgnored() TextOption {
	return func(o *TextOptions) { o.IgnoreEmptyLines = true }
}

// WithExactWhitespace compares texts without trimming.
func WithExactWhitespace() TextOption {
	return func(o *TextOptions) {
		o.TrimSpace = false
		o.IgnoreTrailingWhitespace = false
	}
}

// WithColors renders the diff with ANSI colors.
func WithColors() TextOption {
	return func(o *TextOptions) { o.Colors = true }
}

// AssertText fails t with a unified diff when actual differs from expected.
func AssertText(t TestingT, actual, expected string, opts ...TextOption) bool {
	t.Helper()

	if diff := TextDiff(actual, expected, opts...); diff != "" {
		t.Errorf("Text assertion failed - unified diff:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns a unified diff of expected against actual, or "" when they match.
func TextDiff(actual, expected string, opts ...TextOption) string {
	o := TextOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	a, e := normalize(actual, o), normalize(expected, o)
	if a == e {
		return ""
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !o.Colors {
		return unified
	}
	return colorize(unified)
}

func normalize(text string, o TextOptions) string {
	if o.TrimSpace {
		text = strings.TrimSpace(text)
	}
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if o.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		if o.IgnoreEmptyLines && line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorize(diff string) string {
	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		c.EnableColor()
		return c
	}
	red, green, cyan := paint(color.FgRed), paint(color.FgGreen), paint(color.FgCyan)

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(strings.ReplaceAll(line, " ", "·"))
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(strings.ReplaceAll(line, " ", "·"))
		}
	}
	return strings.Join(lines, "\n")
}
