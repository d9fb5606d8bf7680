package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// HandshakeStatus is the code field of a handshake response.
type HandshakeStatus int

const (
	HandshakeOK        HandshakeStatus = 200
	HandshakeFailed    HandshakeStatus = 500
	HandshakeOldClient HandshakeStatus = 501
)

// String returns the string representation of the handshake status.
func (hs HandshakeStatus) String() string {
	switch hs {
	case HandshakeOK:
		return "OK"
	case HandshakeFailed:
		return "Failed"
	case HandshakeOldClient:
		return "OldClient"
	default:
		return "Unknown"
	}
}

// Client metadata defaults sent in the handshake sys section.
const (
	DefaultClientType    = "go-websocket"
	DefaultClientVersion = "0.3.0"
)

// HandshakeRequest is the body of the client's handshake package.
type HandshakeRequest struct {
	Sys  HandshakeSys   `json:"sys"`
	User map[string]any `json:"user"`
}

// HandshakeSys describes the client to the server.
type HandshakeSys struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	RSA     map[string]any `json:"rsa"`
}

// NewHandshakeRequest builds a handshake request. Empty clientType or
// version fall back to the package defaults.
func NewHandshakeRequest(clientType, version string, user map[string]any) *HandshakeRequest {
	if clientType == "" {
		clientType = DefaultClientType
	}
	if version == "" {
		version = DefaultClientVersion
	}
	if user == nil {
		user = map[string]any{}
	}
	return &HandshakeRequest{
		Sys:  HandshakeSys{Type: clientType, Version: version, RSA: map[string]any{}},
		User: user,
	}
}

// Encode returns the JSON body for a handshake package.
func (hr *HandshakeRequest) Encode() ([]byte, error) {
	return json.Marshal(hr)
}

// HandshakeResponse is the parsed server handshake.
type HandshakeResponse struct {
	Code HandshakeStatus

	// Heartbeat is the negotiated heartbeat interval. Zero disables heartbeats.
	Heartbeat time.Duration

	// Dict maps routes to dictionary codes.
	Dict map[string]uint16

	// ServerProtos describe server → client messages (decode side).
	ServerProtos json.RawMessage

	// ClientProtos describe client → server messages (encode side).
	ClientProtos json.RawMessage

	// ProtoVersion is the protos version published by the server: a
	// json.Number, a string, or nil when absent.
	ProtoVersion any

	// User is application data from the server's handshake handler.
	User map[string]any

	// Raw is the whole response document.
	Raw map[string]any
}

type handshakeWire struct {
	Code *json.Number `json:"code"`
	Sys  *struct {
		Heartbeat *json.Number               `json:"heartbeat"`
		Dict      map[string]json.Number     `json:"dict"`
		Protos    map[string]json.RawMessage `json:"protos"`
	} `json:"sys"`
	User map[string]any `json:"user"`
}

// ParseHandshakeResponse parses a handshake body. A missing or non-200 code,
// or a missing sys section, fails with HandshakeRejected.
func ParseHandshakeResponse(body []byte) (*HandshakeResponse, error) {
	var w handshakeWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, WrapError(CodeHandshakeRejected, err, "invalid handshake body")
	}
	if w.Code == nil {
		return nil, Errorf(CodeHandshakeRejected, "missing code")
	}
	code, err := w.Code.Int64()
	if err != nil {
		return nil, WrapError(CodeHandshakeRejected, err, "invalid code")
	}
	status := HandshakeStatus(code)
	switch {
	case status == HandshakeOldClient:
		return nil, Errorf(CodeHandshakeRejected, "client version rejected (code %d)", code)
	case status != HandshakeOK:
		return nil, Errorf(CodeHandshakeRejected, "server returned code %d", code)
	case w.Sys == nil:
		return nil, Errorf(CodeHandshakeRejected, "missing sys section")
	}

	resp := &HandshakeResponse{
		Code: status,
		Dict: make(map[string]uint16, len(w.Sys.Dict)),
		User: w.User,
	}
	if resp.User == nil {
		resp.User = map[string]any{}
	}

	if w.Sys.Heartbeat != nil {
		secs, err := w.Sys.Heartbeat.Float64()
		if err != nil || secs < 0 || math.IsInf(secs, 0) {
			return nil, Errorf(CodeHandshakeRejected, "invalid heartbeat %q", w.Sys.Heartbeat.String())
		}
		resp.Heartbeat = time.Duration(secs * float64(time.Second))
	}

	for route, n := range w.Sys.Dict {
		c, err := n.Int64()
		if err != nil || c < 0 || c > math.MaxUint16 {
			return nil, Errorf(CodeHandshakeRejected, "invalid dictionary code %q for route %q", n.String(), route)
		}
		resp.Dict[route] = uint16(c)
	}

	if p := w.Sys.Protos; p != nil {
		resp.ServerProtos = nonNull(p["server"])
		resp.ClientProtos = nonNull(p["client"])
		v, err := protoVersion(p["version"])
		if err != nil {
			return nil, err
		}
		resp.ProtoVersion = v

	}

	if err := json.Unmarshal(body, &resp.Raw); err != nil {
		return nil, WrapError(CodeHandshakeRejected, err, "invalid handshake body")
	}
	return resp, nil
}

// protoVersion decodes protos.version, keeping numbers exact. Objects,
// arrays and booleans are rejected.
func protoVersion(raw json.RawMessage) (any, error) {
	if nonNull(raw) == nil {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, WrapError(CodeHandshakeRejected, err, "invalid protos version")
	}
	switch v.(type) {
	case json.Number, string:
		return v, nil
	default:
		return nil, Errorf(CodeHandshakeRejected, "invalid protos version %s", raw)
	}
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
