package bridgetui

// Snapshot is the point-in-time view of one connection's Hydra state, read
// by the dashboard on every tick. It deliberately carries no secrets or
// wire-level detail — just what an operator watching the head needs.
type Snapshot struct {
	Role             string
	PeerID           string
	Status           string // hydra.StatusIdle / Initial / Open / Closed / Fanout
	HeadOpen         bool
	CreditsAvailable uint64
	PingRTTMillis    float64
	TunnelStreams    int
	Stale            bool // set when chainwatch.Monitor reports the L1 tip hasn't advanced
}

// SnapshotFunc supplies the dashboard's latest Snapshot; it is called once
// per tick and must not block.
type SnapshotFunc func() Snapshot
