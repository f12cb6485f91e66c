package hydra

// RoleBehavior isolates the handful of decisions that differ between the
// Gateway and Bridge sides of a controller (§9 Open Question 1): everything
// else — the state machine itself — is shared in Controller.
type RoleBehavior interface {
	// InitiatesHeadOpen reports whether this side should send the Init
	// command once both peers' keys are exchanged, or instead wait for the
	// head to transition to Initial on its own (driven by the peer).
	InitiatesHeadOpen() bool

	// PayeeAddress is the L1/L2 address this side pays into when it is the
	// one accounting for serviced requests (only Bridge ever does: the
	// Gateway is the payee, the Bridge is the payer, per §4.3.1).
	PayeeAddress() string

	// AccountsForRequests reports whether a successful TryConsumeCredit
	// also counts the request toward the next microtransaction paid to
	// PayeeAddress (Bridge) or only decrements the credit balance
	// (Gateway).
	AccountsForRequests() bool

	// EmptyCommit reports whether this side commits an empty UTXO set to
	// the head (Gateway, which never puts L1 funds at stake) rather than
	// its funded commit address (Bridge), per §4.3.1.
	EmptyCommit() bool
}

// GatewayBehavior implements RoleBehavior for the Gateway side: it is the
// payee, never initiates Init (it waits for the Bridge's Init to bring the
// head to Initial, then commits), and
// commits an empty UTXO set since it never locks L1 funds into the head.
type GatewayBehavior struct{}

func (GatewayBehavior) InitiatesHeadOpen() bool   { return false }
func (GatewayBehavior) PayeeAddress() string      { return "" }
func (GatewayBehavior) AccountsForRequests() bool { return false }
func (GatewayBehavior) EmptyCommit() bool         { return true }

// BridgeBehavior implements RoleBehavior for the Bridge side: it initiates
// head Init, pays the Gateway for serviced requests, and commits its own
// funded UTXO set.
type BridgeBehavior struct {
	GatewayAddr string
}

func (BridgeBehavior) InitiatesHeadOpen() bool   { return true }
func (b BridgeBehavior) PayeeAddress() string    { return b.GatewayAddr }
func (BridgeBehavior) AccountsForRequests() bool { return true }
func (BridgeBehavior) EmptyCommit() bool         { return false }

var _ RoleBehavior = GatewayBehavior{}
var _ RoleBehavior = BridgeBehavior{}
