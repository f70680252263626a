// Package dashboard implements fossclaw's inline status TUI ("fossclaw status"),
// showing live sessions, cron jobs, and a tailing log view. Unlike the teacher's
// two-process dashboard, there is no daemon to dial: fossclaw runs the TUI in the
// same process as the bridge, subscribing to internal/eventbus directly.
package dashboard

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/cron"
	"github.com/fossclaw/fossclaw/internal/eventbus"
	"github.com/fossclaw/fossclaw/internal/tui"
)

// Panel identifies which dashboard panel is focused.
type Panel int

const (
	PanelSessions Panel = iota
	PanelLogs
)

// Source supplies the dashboard with a live snapshot of process state. app.App
// implements this (see internal/app).
type Source interface {
	Bridge() *bridge.Bridge
	CronStore() *cron.Store
	EventBus() *eventbus.Bus
	Port() int
}

// Model is the root dashboard TUI model.
type Model struct {
	src Source

	header   headerModel
	sessions sessionsModel
	logs     logsModel
	help     helpModel

	activePanel Panel
	width       int
	height      int
	quitting    bool
}

// NewModel creates a dashboard model over src.
func NewModel(src Source) Model {
	return Model{
		src:      src,
		header:   newHeader(src),
		sessions: newSessions(snapshotSessions(src)),
		logs:     newLogs(),
		help:     newHelp(),
	}
}

// refreshMsg carries a fresh snapshot of sessions/jobs, sent on a timer.
type refreshMsg struct{}

// logMsg wraps one event-bus event for the log panel.
type logMsg eventbus.Event

func snapshotSessions(src Source) []sessionRow {
	var rows []sessionRow
	for _, s := range src.Bridge().List() {
		rows = append(rows, sessionRow{
			ID:          s.ID,
			Provider:    s.Provider,
			SessionName: s.SessionName(),
			Archived:    s.Archived(),
			HasAgent:    s.HasAgent(),
			CreatedAt:   s.CreatedAt,
			LastActive:  s.LastActivity(),
		})
	}
	return rows
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logs.SetSize(msg.Width-4, m.logsHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c", "q"))):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
			if m.activePanel == PanelSessions {
				m.activePanel = PanelLogs
			} else {
				m.activePanel = PanelSessions
			}
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
			m.help.toggle()
			return m, nil
		}

	case refreshMsg:
		m.header.update(m.src)
		m.sessions.update(snapshotSessions(m.src))
		return m, tickCmd()

	case logMsg:
		m.logs.addEvent(eventbus.Event(msg))
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activePanel {
	case PanelSessions:
		m.sessions, cmd = m.sessions.Update(msg)
	case PanelLogs:
		m.logs, cmd = m.logs.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	if m.help.visible {
		return m.help.View()
	}

	headerView := m.header.View(m.width)

	sessStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Width(m.width - 2)
	logsStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Width(m.width - 2)
	if m.activePanel == PanelSessions {
		sessStyle = sessStyle.BorderForeground(tui.ColorPrimary)
		logsStyle = logsStyle.BorderForeground(tui.ColorMuted)
	} else {
		sessStyle = sessStyle.BorderForeground(tui.ColorMuted)
		logsStyle = logsStyle.BorderForeground(tui.ColorPrimary)
	}

	sessView := sessStyle.Render(tui.Subtitle.Render(" Sessions") + "\n" + m.sessions.View())
	logsView := logsStyle.Render(tui.Subtitle.Render(" Logs") + "\n" + m.logs.View())

	return lipgloss.JoinVertical(lipgloss.Left, headerView, sessView, logsView, m.help.bar())
}

// Quitting returns true if the user quit.
func (m Model) Quitting() bool { return m.quitting }

func (m Model) logsHeight() int {
	used := 6 + m.sessions.height() + 4
	h := m.height - used
	if h < 5 {
		h = 5
	}
	return h
}

func fmtSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
