package dashboard

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const tickInterval = 2 * time.Second

// Run displays the dashboard over src and blocks until the user quits.
func Run(src Source) error {
	m := NewModel(src)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ch := src.EventBus().Subscribe()
	go func() {
		for ev := range ch {
			p.Send(logMsg(ev))
		}
	}()
	defer src.EventBus().Unsubscribe(ch)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard TUI error: %w", err)
	}
	return nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}
