// Package wire implements the tagged-union JSON envelope carried over the
// Gateway<->Bridge WebSocket connection.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Header is a single (name, value) HTTP header pair.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// JsonRequest is the opaque carrier for one HTTP request proxied over the wire.
type JsonRequest struct {
	ID         uuid.UUID `json:"id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Header     []Header  `json:"header"`
	BodyBase64 string    `json:"body_base64"`
}

// JsonResponse is the opaque carrier for the matching HTTP response.
type JsonResponse struct {
	ID         uuid.UUID `json:"id"`
	Code       uint16    `json:"code"`
	Header     []Header  `json:"header"`
	BodyBase64 string    `json:"body_base64"`
}

// MaxBodyBytes is the maximum decoded body size in either direction (§3).
const MaxBodyBytes = 1 << 20 // 1 MiB

// VKeyEnvelope is the JSON envelope format cardano-cli / hydra-node use for
// verification keys on disk (type/description/cborHex).
type VKeyEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CBORHex     string `json:"cborHex"`
}

// PaymentParams are the Hydra payment-accounting knobs negotiated during the
// key exchange (§3).
type PaymentParams struct {
	CommitADA                   float64 `json:"commit_ada"`
	LovelacePerRequest           uint64  `json:"lovelace_per_request"`
	RequestsPerMicrotransaction  uint64  `json:"requests_per_microtransaction"`
	MicrotransactionsPerFanout   uint64  `json:"microtransactions_per_fanout"`
}

// MinLovelacePerTransaction is the minimum viable ADA transaction fee floor
// used by the commit-ada invariant (§3).
const MinLovelacePerTransaction = 840_450

// MicrotransactionLovelace is the lovelace value of one microtransaction.
func (p PaymentParams) MicrotransactionLovelace() uint64 {
	return p.LovelacePerRequest * p.RequestsPerMicrotransaction
}

// Validate checks the two invariants from §3; the commit floor is computed
// in lovelace and converted to ADA before comparing it with CommitADA.
func (p PaymentParams) Validate() error {
	if p.MicrotransactionLovelace() < MinLovelacePerTransaction {
		return &PaymentParamsError{"lovelace_per_request * requests_per_microtransaction below MIN_LOVELACE_PER_TRANSACTION"}
	}
	need := 1.01 * float64(p.MicrotransactionLovelace()*p.MicrotransactionsPerFanout+MinLovelacePerTransaction) / 1_000_000
	if p.CommitADA < need {
		return &PaymentParamsError{"commit_ada below required floor for the configured fanout cadence"}
	}
	return nil
}

// PaymentParamsError reports a violated payment-parameter invariant.
type PaymentParamsError struct{ Reason string }

func (e *PaymentParamsError) Error() string { return "payment params: " + e.Reason }

// KeyExchangeRequest is the Bridge->Gateway handshake message (§3, §4.3.1).
type KeyExchangeRequest struct {
	MachineID               string       `json:"machine_id"`
	CardanoVKey              VKeyEnvelope `json:"cardano_vkey"`
	HydraVKey                VKeyEnvelope `json:"hydra_vkey"`
	AcceptedPlatformH2HPort  *uint16      `json:"accepted_platform_h2h_port"`
}

// KeyExchangeResponse is the Gateway->Bridge handshake reply.
type KeyExchangeResponse struct {
	MachineID              string          `json:"machine_id"`
	CardanoVKey            VKeyEnvelope    `json:"cardano_vkey"`
	HydraVKey              VKeyEnvelope    `json:"hydra_vkey"`
	HydraScriptsTxID       string          `json:"hydra_scripts_tx_id"`
	ProtocolParameters     json.RawMessage `json:"protocol_parameters"`
	ContestationPeriodSecs uint64          `json:"contestation_period_secs"`
	GatewayH2HPort         uint16          `json:"gateway_h2h_port"`
	BridgeH2HPort          uint16          `json:"bridge_h2h_port"`
	KexDone                bool            `json:"kex_done"`
	Payment                PaymentParams   `json:"payment"`
}

// SameModuloAcceptedPort reports whether a round-2 KeyExchangeRequest is
// structurally the same as the round-1 request it followed, ignoring the
// accepted-port field that round 2 is allowed to fill in. Comparison goes
// through a canonical JSON re-encoding so protocol-parameters key ordering
// never causes a spurious mismatch (see SPEC_FULL.md §9).
func SameModuloAcceptedPort(round1, round2 KeyExchangeRequest) bool {
	round1.AcceptedPlatformH2HPort = nil
	round2.AcceptedPlatformH2HPort = nil
	a, err1 := json.Marshal(round1)
	b, err2 := json.Marshal(round2)
	if err1 != nil || err2 != nil {
		return false
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	na, _ := json.Marshal(va)
	nb, _ := json.Marshal(vb)
	return string(na) == string(nb)
}

// ErrorPayload is the body of an {"Error": {...}} envelope.
type ErrorPayload struct {
	Code uint64 `json:"code"`
	Msg  string `json:"msg"`
}

// Error codes used in §4.4.
const (
	ErrCodeNotSupported  = 536
	ErrCodeSetupError    = 537
	ErrCodeAlreadyExists = 538
)

// TunnelMsgType enumerates the three kinds of tunnel control message.
type TunnelMsgType string

const (
	TunnelOpenType  TunnelMsgType = "open"
	TunnelDataType  TunnelMsgType = "data"
	TunnelCloseType TunnelMsgType = "close"
)

// Tunnel close codes (§3).
const (
	TunnelCloseClean = iota
	TunnelCloseIOError
	TunnelCloseCancelled
	TunnelCloseProtocolError
)

// TunnelMsg is one message of the TCP-over-WebSocket tunnel protocol (§6.1).
// The "t" tag field matches the snake_case wire format from the spec.
type TunnelMsg struct {
	Type TunnelMsgType `json:"t"`
	ID   uint64        `json:"id"`
	B64  string        `json:"b64,omitempty"`
	Code uint8         `json:"code,omitempty"`
	Msg  string        `json:"msg,omitempty"`
}

func TunnelOpen(id uint64) TunnelMsg { return TunnelMsg{Type: TunnelOpenType, ID: id} }

func TunnelData(id uint64, b64 string) TunnelMsg {
	return TunnelMsg{Type: TunnelDataType, ID: id, B64: b64}
}

func TunnelClose(id uint64, code uint8, msg string) TunnelMsg {
	return TunnelMsg{Type: TunnelCloseType, ID: id, Code: code, Msg: msg}
}
