package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
)

var (
	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E5E7EB"))

	statusStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#F59E0B"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#A78BFA")).
		Width(6)
)

// renderEntry formats one chat line with its timestamp.
func renderEntry(e conversation.Entry) string {
	ts := dimStyle.Render("[" + e.Timestamp + "]")
	if e.Sender == conversation.SenderUser {
		return fmt.Sprintf("%s %s %s", ts, userStyle.Render("You:"), e.Content)
	}
	return fmt.Sprintf("%s %s", ts, assistantStyle.Render(e.Content))
}

// renderReminders draws the reminder panel.
func renderReminders(list []gateway.Reminder) string {
	title := titleStyle.Render("⏰ Reminders")
	if len(list) == 0 {
		return panelStyle.Render(title + "\n" + dimStyle.Render("No upcoming reminders"))
	}

	var sb strings.Builder
	sb.WriteString(title)
	for _, r := range list {
		when := r.FormattedTime
		if when == "" && !r.Time.IsZero() {
			when = r.Time.Format(gateway.ReminderFormattedLayout)
		}
		sb.WriteString("\n")
		sb.WriteString(idStyle.Render(fmt.Sprintf("#%d", r.ID)))
		sb.WriteString(r.Text)
		if when != "" {
			sb.WriteString("  ")
			sb.WriteString(dimStyle.Render(when))
		}
	}
	return panelStyle.Render(sb.String())
}
