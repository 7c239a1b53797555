package alert

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/frahmantamala/facilities-console/internal/badge"
)

// TerminalPresenter draws the alert overlay and toasts as framed blocks on
// a terminal.
type TerminalPresenter struct {
	w     io.Writer
	theme badge.Theme
	width int

	mu sync.Mutex
}

func NewTerminalPresenter(w io.Writer, theme badge.Theme) *TerminalPresenter {
	return &TerminalPresenter{w: w, theme: theme, width: 60}
}

func (t *TerminalPresenter) ShowAlert(a Alert, pending int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, t.renderAlert(a, pending))
}

func (t *TerminalPresenter) HideAlert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	faint := lipgloss.NewStyle().Foreground(t.theme.Color(badge.StyleNeutral))
	fmt.Fprintln(t.w, faint.Render("-- no active critical alerts --"))
}

func (t *TerminalPresenter) ShowToasts(toasts []Toast) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(toasts) == 0 {
		return
	}
	fmt.Fprintln(t.w, t.renderToasts(toasts))
}

func (t *TerminalPresenter) renderAlert(a Alert, pending int) string {
	danger := t.theme.Color(badge.StyleDanger)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(danger).
		Render("CRITICAL ALERT " + t.theme.Render(badge.Priority(string(a.Priority))))

	label := lipgloss.NewStyle().Foreground(t.theme.Color(badge.StyleNeutral)).Width(10)
	var rows []string
	add := func(name, value string) {
		if value == "" {
			return
		}
		rows = append(rows, label.Render(name)+value)
	}
	add("Type", a.Type)
	add("Report", a.ReportID)
	add("Audit", a.AuditLogID)
	add("Location", a.Location)
	add("Asset", a.Asset)
	add("Reporter", a.Reporter)
	add("Message", a.Message)
	if !a.ReceivedAt.IsZero() {
		add("Received", a.ReceivedAt.Format("15:04:05"))
	}

	footer := "press enter to acknowledge"
	if pending > 0 {
		footer = fmt.Sprintf("%d more waiting | %s", pending, footer)
	}
	footer = lipgloss.NewStyle().Faint(true).Render(footer)

	body := lipgloss.JoinVertical(lipgloss.Left, title, "", strings.Join(rows, "\n"), "", footer)

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(danger).
		Padding(0, 1).
		Width(t.width).
		Render(body)
}

func (t *TerminalPresenter) renderToasts(toasts []Toast) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.theme.Color(badge.StyleWarning)).
		Padding(0, 1).
		Width(t.width)

	blocks := make([]string, 0, len(toasts))
	for _, toast := range toasts {
		text := "Audit cancelled"
		if toast.AuditLogID != "" {
			text += ": " + toast.AuditLogID
		}
		if toast.Message != "" {
			text += "\n" + toast.Message
		}
		blocks = append(blocks, box.Render(text))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}
