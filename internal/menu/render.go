package menu

import "strings"

// Render formats items as indented text, one row per line.
// Submenus are included when expand is set.
func Render(items []Item, expand bool) string {
	var b strings.Builder
	render(&b, items, 0, expand)
	return b.String()
}

func render(b *strings.Builder, items []Item, depth int, expand bool) {
	indent := strings.Repeat("  ", depth)
	for _, it := range items {
		if it.Separator {
			b.WriteString(indent)
			b.WriteString("---\n")
			continue
		}

		b.WriteString(indent)
		if it.DeviceID != "" && len(it.Submenu) > 0 {
			b.WriteString("  ")
		}
		b.WriteString(it.Title)
		if it.Key != "" {
			b.WriteString(" [" + it.Key + "]")
		}
		if !it.Enabled && it.Action != ActionNone {
			b.WriteString(" (disabled)")
		}
		b.WriteString("\n")

		if expand && len(it.Submenu) > 0 {
			render(b, it.Submenu, depth+2, expand)
		}
	}
}
