package errors

import (
	"sort"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// Registered error codes used outside the registry.
const (
	CodeConnectFailed = "P001"
	CodeTimeout       = "P010"
	CodeCanceled      = "P011"
	CodeConfigMissing = "C001"
	CodeConfigInvalid = "C002"
	CodeConfigParse   = "C003"
	CodeBadPayload    = "U001"
	CodeBadArgs       = "U002"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// protocolCodes maps protocol error classes to registry codes.
var protocolCodes = map[protocol.ErrorCode]string{
	protocol.CodeMalformedFrame:      "P002",
	protocol.CodeUnexpectedFrameKind: "P003",
	protocol.CodeHandshakeRejected:   "P004",
	protocol.CodeSchemaMismatch:      "P005",
	protocol.CodeUnknownRoute:        "P006",
	protocol.CodeTruncatedBuffer:     "P007",
	protocol.CodeHeartbeatTimeout:    "P008",
	protocol.CodeConnectionClosed:    "P009",
	protocol.CodeKicked:              "P012",
	protocol.CodeNotConnected:        "P013",
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Connection Errors (P001-P099)
	// ============================================

	"P001": {
		Category:   CategoryNetwork,
		Message:    "Could not connect to server",
		Detail:     "The WebSocket upgrade to the server failed.",
		Suggestion: "Check the server address and that the connector is listening",
	},
	"P002": {
		Category:   CategoryProtocol,
		Message:    "Malformed package",
		Detail:     "The server sent a package that could not be framed.",
		Suggestion: "Make sure the address points at a Pinus or Pomelo connector",
	},
	"P003": {
		Category:   CategoryProtocol,
		Message:    "Unexpected text frame",
		Detail:     "Pinus connectors send binary WebSocket frames only.",
		Suggestion: "Make sure the connector uses the hybrid connector, not sio",
	},
	"P004": {
		Category:   CategoryHandshake,
		Message:    "Handshake rejected",
		Detail:     "The server refused the handshake.",
		Suggestion: "Check handshake.type and handshake.version in pinus.toml",
	},
	"P005": {
		Category:   CategorySchema,
		Message:    "Payload does not match schema",
		Detail:     "A field's value does not fit the protobuf type declared by the server.",
		Suggestion: "Compare the payload with the route's protos on the server",
	},
	"P006": {
		Category:   CategorySchema,
		Message:    "Unknown route",
		Detail:     "The route has no client schema and strict schema mode is on.",
		Suggestion: "Set client.strict_schema = false or add the route to the server's clientProtos",
	},
	"P007": {
		Category:   CategoryProtocol,
		Message:    "Truncated message",
		Detail:     "A message body ended before its fields did.",
	},
	"P008": {
		Category:   CategoryNetwork,
		Message:    "Heartbeat timeout",
		Detail:     "The server stopped answering heartbeats.",
		Suggestion: "Check network connectivity to the server",
	},
	"P009": {
		Category: CategoryNetwork,
		Message:  "Connection closed",
		Detail:   "The connection closed before the operation completed.",
	},
	"P010": {
		Category:   CategoryNetwork,
		Message:    "Timed out",
		Detail:     "The operation did not complete before its deadline.",
		Suggestion: "Raise --timeout or client.connect_timeout",
	},
	"P011": {
		Category: CategoryCLI,
		Message:  "Canceled",
	},
	"P012": {
		Category: CategoryNetwork,
		Message:  "Kicked by server",
		Detail:   "The server closed the session.",
	},
	"P013": {
		Category:   CategoryNetwork,
		Message:    "Not connected",
		Detail:     "The client has no working connection.",
		Suggestion: "Connect before sending requests",
	},

	// ============================================
	// Config Errors (C001-C099)
	// ============================================

	"C001": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Suggestion: "Create pinus.toml or pass --url",
	},
	"C002": {
		Category: CategoryConfig,
		Message:  "Invalid config",
	},
	"C003": {
		Category:   CategoryConfig,
		Message:    "Config parse error",
		Suggestion: "Check that pinus.toml is valid TOML",
	},

	// ============================================
	// Usage Errors (U001-U099)
	// ============================================

	"U001": {
		Category:   CategoryCLI,
		Message:    "Invalid payload",
		Detail:     "Payloads must be JSON objects.",
		Suggestion: `Quote the payload, e.g. '{"uid": 1}'`,
	},
	"U002": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
