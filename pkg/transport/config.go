package transport

import (
	"log/slog"
	"net/http"
	"time"
)

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	// HandshakeTimeout bounds the HTTP upgrade.
	// Default: 8 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadLimit is the maximum size of an incoming message. A package body
	// is at most 16MB, plus the 4-byte header.
	// Default: 16MB + 4.
	ReadLimit int64

	// Header is sent with the upgrade request.
	Header http.Header

	// EnableCompression negotiates permessage-deflate.
	// Default: false.
	EnableCompression bool

	// Logger receives connection-level events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultWebSocketConfig returns a WebSocketConfig with sensible defaults.
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		HandshakeTimeout: 8 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadLimit:        1<<24 - 1 + 4,
	}
}

// Clone returns a copy of the WebSocketConfig.
func (c *WebSocketConfig) Clone() *WebSocketConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Header != nil {
		clone.Header = c.Header.Clone()
	}
	return &clone
}
