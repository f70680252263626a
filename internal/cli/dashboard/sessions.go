package dashboard

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fossclaw/fossclaw/internal/tui"
)

type sessionRow struct {
	ID          string
	Provider    string
	SessionName string
	Archived    bool
	HasAgent    bool
	CreatedAt   time.Time
	LastActive  time.Time
}

type sessionsModel struct {
	items  []sessionRow
	cursor int
}

func newSessions(rows []sessionRow) sessionsModel {
	return sessionsModel{items: rows}
}

func (s *sessionsModel) update(rows []sessionRow) {
	s.items = rows
	if s.cursor >= len(s.items) {
		s.cursor = maxInt(0, len(s.items)-1)
	}
}

func (s sessionsModel) Update(msg tea.Msg) (sessionsModel, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "j", "down":
			if s.cursor < len(s.items)-1 {
				s.cursor++
			}
		case "k", "up":
			if s.cursor > 0 {
				s.cursor--
			}
		case "G":
			s.cursor = maxInt(0, len(s.items)-1)
		case "g":
			s.cursor = 0
		}
	}
	return s, nil
}

func (s sessionsModel) View() string {
	if len(s.items) == 0 {
		return tui.Dimmed.Render("  No sessions yet")
	}

	headerStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Bold(true)
	header := fmt.Sprintf("  %-10s %-12s %-20s %-10s %s",
		headerStyle.Render("ID"),
		headerStyle.Render("PROVIDER"),
		headerStyle.Render("NAME"),
		headerStyle.Render("STATE"),
		headerStyle.Render("AGE"),
	)

	rows := header + "\n"
	for i, sess := range s.items {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == s.cursor {
			cursor = tui.Selected.Render("> ")
			style = style.Bold(true)
		}

		state := "idle"
		stateStyle := lipgloss.NewStyle().Foreground(tui.ColorMuted)
		switch {
		case sess.Archived:
			state = "archived"
		case sess.HasAgent:
			state = "connected"
			stateStyle = lipgloss.NewStyle().Foreground(tui.ColorSuccess)
		default:
			state = "starting"
			stateStyle = lipgloss.NewStyle().Foreground(tui.ColorAccent)
		}

		name := sess.SessionName
		if name == "" {
			name = "-"
		}
		if len(name) > 18 {
			name = name[:18]
		}

		row := fmt.Sprintf("%-10s %-12s %-20s %-10s %s",
			style.Render(fmtSessionID(sess.ID)),
			style.Render(sess.Provider),
			style.Render(name),
			stateStyle.Render(state),
			style.Render(formatAge(sess.CreatedAt)),
		)
		rows += cursor + row + "\n"
	}

	return rows
}

func (s sessionsModel) height() int {
	n := len(s.items) + 2
	if n > 12 {
		return 12
	}
	return n
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
