package dashboard

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fossclaw/fossclaw/internal/tui"
)

type headerModel struct {
	port      int
	startedAt time.Time
	sessions  int
	jobs      int
}

func newHeader(src Source) headerModel {
	return headerModel{
		port:      src.Port(),
		startedAt: time.Now(),
		sessions:  len(src.Bridge().List()),
		jobs:      len(src.CronStore().Jobs()),
	}
}

func (h *headerModel) update(src Source) {
	h.sessions = len(src.Bridge().List())
	h.jobs = len(src.CronStore().Jobs())
}

func (h headerModel) View(width int) string {
	left := tui.Title.Render("fossclaw")
	right := fmt.Sprintf("%s  port %d", tui.ActiveDot, h.port)

	uptime := h.formatUptime()
	details := fmt.Sprintf("  Sessions: %d   Cron jobs: %d   Uptime: %s", h.sessions, h.jobs, uptime)

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(tui.ColorPrimary).
		Width(width - 2).
		Padding(0, 1)

	firstRow := lipgloss.JoinHorizontal(lipgloss.Top,
		left,
		lipgloss.NewStyle().Width(maxInt(width-lipgloss.Width(left)-lipgloss.Width(right)-6, 0)).Render(""),
		right,
	)

	return style.Render(firstRow + "\n" + tui.Description.Render(details))
}

func (h headerModel) formatUptime() string {
	d := time.Since(h.startedAt)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
