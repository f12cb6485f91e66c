package bridgetui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Event is one line in the dashboard's scrolling log — a head-status
// transition, a reconnect, or a credit-gate rejection.
type Event struct {
	Kind    string // "transition", "error", "info"
	Message string
}

// Events renders a bounded, scrollable log of recent Events in a
// viewport, repurposing the teacher's bubbles/viewport panel.
type Events struct {
	viewport viewport.Model
	log      []Event
	maxLines int
}

func NewEvents() *Events {
	vp := viewport.New(0, 0)
	return &Events{viewport: vp, maxLines: 200}
}

func (e *Events) Init() tea.Cmd {
	return nil
}

func (e *Events) Update(msg tea.Msg) (*Events, tea.Cmd) {
	if ev, ok := msg.(Event); ok {
		e.append(ev)
	}
	var cmd tea.Cmd
	e.viewport, cmd = e.viewport.Update(msg)
	return e, cmd
}

func (e *Events) View(width, height int) string {
	e.viewport.Width = width - 2
	e.viewport.Height = height - 2
	return EventsPanelStyle.Width(width).Height(height).Render(e.viewport.View())
}

func (e *Events) append(ev Event) {
	e.log = append(e.log, ev)
	if len(e.log) > e.maxLines {
		e.log = e.log[len(e.log)-e.maxLines:]
	}
	e.refresh()
}

func (e *Events) refresh() {
	var sb strings.Builder
	for _, ev := range e.log {
		style := EventStyle
		if ev.Kind == "error" {
			style = style.Foreground(Red)
		} else if ev.Kind == "transition" {
			style = style.Foreground(Green)
		}
		sb.WriteString(style.Render(fmt.Sprintf("[%s] %s", ev.Kind, ev.Message)))
		sb.WriteString("\n")
	}
	e.viewport.SetContent(sb.String())
	e.viewport.GotoBottom()
}
