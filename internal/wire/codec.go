package wire

import "encoding/json"

// ParseError is returned by Decode when a frame is not a well-formed,
// single-key tagged envelope. Per §4.1 / §7, a ParseError is never fatal to
// the connection: the caller logs it and skips the frame.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "wire: " + e.Reason }

// Tag identifies which envelope variant a Decoded value carries.
type Tag string

const (
	TagRequest     Tag = "Request"
	TagResponse    Tag = "Response"
	TagKExRequest  Tag = "HydraKExRequest"
	TagKExResponse Tag = "HydraKExResponse"
	TagTunnel      Tag = "HydraTunnel"
	TagPing        Tag = "Ping"
	TagPong        Tag = "Pong"
	TagError       Tag = "Error"
)

// Decoded holds the single populated field matching its Tag.
type Decoded struct {
	Tag         Tag
	Request     *JsonRequest
	Response    *JsonResponse
	KExRequest  *KeyExchangeRequest
	KExResponse *KeyExchangeResponse
	Tunnel      *TunnelMsg
	PingID      uint64
	PongID      uint64
	Err         *ErrorPayload
}

// Encode wraps a payload as {"<tag>": payload} and marshals it to a WebSocket
// text frame. It never fails for the well-formed variant types defined in
// this package.
func Encode(tag Tag, payload any) (string, error) {
	b, err := json.Marshal(map[string]any{string(tag): payload})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func EncodeRequest(r JsonRequest) (string, error)   { return Encode(TagRequest, r) }
func EncodeResponse(r JsonResponse) (string, error) { return Encode(TagResponse, r) }
func EncodeKExRequest(r KeyExchangeRequest) (string, error) {
	return Encode(TagKExRequest, r)
}
func EncodeKExResponse(r KeyExchangeResponse) (string, error) {
	return Encode(TagKExResponse, r)
}
func EncodeTunnel(m TunnelMsg) (string, error) { return Encode(TagTunnel, m) }
func EncodePing(id uint64) (string, error)      { return Encode(TagPing, id) }
func EncodePong(id uint64) (string, error)      { return Encode(TagPong, id) }
func EncodeError(code uint64, msg string) (string, error) {
	return Encode(TagError, ErrorPayload{Code: code, Msg: msg})
}

// Decode parses one WebSocket text frame into its tagged envelope. Binary
// frames are not handled here (the event loop's transport,
// connection.WSTransport, skips those before Decode is called, per §4.1).
func Decode(text string) (Decoded, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Decoded{}, &ParseError{Reason: "invalid JSON: " + err.Error()}
	}
	if len(raw) != 1 {
		return Decoded{}, &ParseError{Reason: "envelope must carry exactly one tagged key"}
	}

	var tag string
	var body json.RawMessage
	for k, v := range raw {
		tag, body = k, v
	}

	d := Decoded{Tag: Tag(tag)}
	switch d.Tag {
	case TagRequest:
		var v JsonRequest
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad Request: " + err.Error()}
		}
		d.Request = &v
	case TagResponse:
		var v JsonResponse
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad Response: " + err.Error()}
		}
		d.Response = &v
	case TagKExRequest:
		var v KeyExchangeRequest
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad HydraKExRequest: " + err.Error()}
		}
		d.KExRequest = &v
	case TagKExResponse:
		var v KeyExchangeResponse
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad HydraKExResponse: " + err.Error()}
		}
		d.KExResponse = &v
	case TagTunnel:
		var v TunnelMsg
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad HydraTunnel: " + err.Error()}
		}
		d.Tunnel = &v
	case TagPing:
		var v uint64
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad Ping: " + err.Error()}
		}
		d.PingID = v
	case TagPong:
		var v uint64
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad Pong: " + err.Error()}
		}
		d.PongID = v
	case TagError:
		var v ErrorPayload
		if err := json.Unmarshal(body, &v); err != nil {
			return Decoded{}, &ParseError{Reason: "bad Error: " + err.Error()}
		}
		d.Err = &v
	default:
		return Decoded{}, &ParseError{Reason: "unknown envelope tag " + tag}
	}
	return d, nil
}
