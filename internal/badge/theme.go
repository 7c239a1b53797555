package badge

import "github.com/charmbracelet/lipgloss"

// Theme assigns 256-colour codes to style tags.
type Theme struct {
	Colors   map[Style]lipgloss.Color
	Fallback lipgloss.Color
}

var DefaultTheme = Theme{
	Colors: map[Style]lipgloss.Color{
		StyleNeutral: lipgloss.Color("245"), // gray
		StyleInfo:    lipgloss.Color("75"),  // blue
		StyleSuccess: lipgloss.Color("114"), // green
		StyleWarning: lipgloss.Color("220"), // amber
		StyleDanger:  lipgloss.Color("196"), // red
		StyleAccent:  lipgloss.Color("141"), // light purple
	},
	Fallback: lipgloss.Color("252"),
}

func (t Theme) Color(s Style) lipgloss.Color {
	if c, ok := t.Colors[s]; ok {
		return c
	}
	return t.Fallback
}

// Render draws d as a bracketed, coloured badge.
func (t Theme) Render(d Descriptor) string {
	return lipgloss.NewStyle().
		Foreground(t.Color(d.Style)).
		Bold(d.Style == StyleDanger).
		Render("[" + d.Label + "]")
}
