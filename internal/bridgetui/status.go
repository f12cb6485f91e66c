package bridgetui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Status renders the latest Snapshot as a key/value panel.
type Status struct {
	latest Snapshot
}

func NewStatus() *Status {
	return &Status{}
}

func (s *Status) Init() tea.Cmd {
	return nil
}

func (s *Status) Update(msg tea.Msg) (*Status, tea.Cmd) {
	if snap, ok := msg.(Snapshot); ok {
		s.latest = snap
	}
	return s, nil
}

func (s *Status) View(width, height int) string {
	headState := "Closed"
	if s.latest.HeadOpen {
		headState = "Open"
	}
	stale := ""
	if s.latest.Stale {
		stale = " (STALE)"
	}
	content := fmt.Sprintf(
		"Role: %s\nPeer: %s\nHead: %s / %s%s\nCredits available: %d\nPing RTT: %.1fms\nTunnel streams: %d",
		s.latest.Role,
		s.latest.PeerID,
		s.latest.Status,
		headState,
		stale,
		s.latest.CreditsAvailable,
		s.latest.PingRTTMillis,
		s.latest.TunnelStreams,
	)
	return StatusPanelStyle.Width(width).Height(height).Render(content)
}
