// Package bridgetui is the operator status dashboard: a bubbletea program
// that polls a connection's Snapshot once per tick and renders head state,
// credit balance, ping RTT, and tunnel stream count, adapted from the
// teacher's chat-TUI update/view loop (internal/tui in the teacher app).
package bridgetui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// PollInterval is how often the dashboard re-reads its SnapshotFunc.
const PollInterval = time.Second

type tickMsg time.Time

// App is the top-level bubbletea model for the dashboard.
type App struct {
	width, height int
	status        *Status
	events        *Events
	keys          KeyMap
	snapshot      SnapshotFunc
	lastStatus    string
	version       string
}

// NewApp builds a dashboard that polls snapshot for its data. version is
// shown in the status bar (e.g. a build tag from cmd/hydra-bridge).
func NewApp(snapshot SnapshotFunc, version string) *App {
	return &App{
		status:   NewStatus(),
		events:   NewEvents(),
		keys:     DefaultKeyMap,
		snapshot: snapshot,
		version:  version,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.status.Init(), a.events.Init(), a.tick())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, a.keys.Quit) {
			return a, tea.Quit
		}
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case tickMsg:
		snap := a.snapshot()
		if snap.Status != a.lastStatus {
			if a.lastStatus != "" {
				a.events.append(Event{Kind: "transition", Message: fmt.Sprintf("%s -> %s", a.lastStatus, snap.Status)})
			}
			a.lastStatus = snap.Status
		}
		var statusCmd tea.Cmd
		a.status, statusCmd = a.status.Update(snap)
		cmds = append(cmds, statusCmd, a.tick())
	}

	var cmd tea.Cmd
	a.events, cmd = a.events.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	statusBar := a.statusBarView()
	contentHeight := a.height - lipgloss.Height(statusBar)

	leftWidth := a.width / 2
	rightWidth := a.width - leftWidth

	statusView := a.status.View(leftWidth, contentHeight)
	eventsView := a.events.View(rightWidth, contentHeight)

	layout := lipgloss.JoinHorizontal(lipgloss.Top, statusView, eventsView)

	return lipgloss.JoinVertical(lipgloss.Left, statusBar, layout)
}

func (a *App) statusBarView() string {
	return StatusBarStyle.Width(a.width).Render(fmt.Sprintf("hydra-bridge %s", a.version))
}
