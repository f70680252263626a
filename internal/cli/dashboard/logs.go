package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fossclaw/fossclaw/internal/eventbus"
	"github.com/fossclaw/fossclaw/internal/tui"
)

const maxLogLines = 1000

type logsModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newLogs() logsModel {
	return logsModel{viewport: viewport.New(80, 10), autoScroll: true}
}

func (l *logsModel) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
}

func (l *logsModel) addEvent(ev eventbus.Event) {
	l.lines = append(l.lines, formatEvent(ev))
	if len(l.lines) > maxLogLines {
		l.lines = l.lines[len(l.lines)-maxLogLines:]
	}
	l.viewport.SetContent(strings.Join(l.lines, "\n"))
	if l.autoScroll {
		l.viewport.GotoBottom()
	}
}

func formatEvent(ev eventbus.Event) string {
	ts := ev.Timestamp.Format("15:04:05")
	if ev.Timestamp.IsZero() {
		ts = time.Now().Format("15:04:05")
	}

	if ev.Type == eventbus.LogEntry {
		var entry map[string]any
		if err := json.Unmarshal(ev.Data, &entry); err == nil {
			level, _ := entry["level"].(string)
			message, _ := entry["msg"].(string)
			var attrs []string
			for k, v := range entry {
				if k == "level" || k == "msg" || k == "time" {
					continue
				}
				attrs = append(attrs, fmt.Sprintf("%s=%v", k, v))
			}
			line := fmt.Sprintf("  %s %s  %s", ts, tui.LogLevelStyle(level).Render(fmt.Sprintf("%-5s", level)), message)
			if len(attrs) > 0 {
				line += "  " + tui.Dimmed.Render(strings.Join(attrs, " "))
			}
			return line
		}
	}

	return fmt.Sprintf("  %s %s  %s", ts, tui.Dimmed.Render(ev.Type), string(ev.Data))
}

func (l logsModel) Update(msg tea.Msg) (logsModel, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.String() {
		case "G":
			l.autoScroll = true
			l.viewport.GotoBottom()
			return l, nil
		case "g":
			l.autoScroll = false
			l.viewport.GotoTop()
			return l, nil
		case "j", "down", "k", "up":
			l.autoScroll = false
		}
	}

	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return l, cmd
}

func (l logsModel) View() string {
	return l.viewport.View()
}
