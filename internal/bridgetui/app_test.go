package bridgetui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestAppRendersStatusAfterTick(t *testing.T) {
	snap := Snapshot{Role: "bridge", Status: "Open", HeadOpen: true, CreditsAvailable: 42}
	app := NewApp(func() Snapshot { return snap }, "test")

	model, _ := app.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	app = model.(*App)

	model, _ = app.Update(tickMsg{})
	app = model.(*App)

	view := app.View()
	require.Contains(t, view, "42")
	require.Contains(t, view, "Open")
}

func TestAppRecordsTransitionEventOnStatusChange(t *testing.T) {
	status := "Idle"
	app := NewApp(func() Snapshot { return Snapshot{Status: status} }, "test")
	model, _ := app.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	app = model.(*App)

	model, _ = app.Update(tickMsg{})
	app = model.(*App)
	require.Equal(t, "Idle", app.lastStatus)

	status = "Open"
	model, _ = app.Update(tickMsg{})
	app = model.(*App)
	require.Equal(t, "Open", app.lastStatus)
	require.Len(t, app.events.log, 1)
	require.Equal(t, "transition", app.events.log[0].Kind)
}

func TestAppQuitsOnQuitKey(t *testing.T) {
	app := NewApp(func() Snapshot { return Snapshot{} }, "test")
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
}
