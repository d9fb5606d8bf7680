package session

import (
	"log/slog"
	"maps"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pinus/pkg/codec"
	"github.com/vango-dev/pinus/pkg/protocol"
	"github.com/vango-dev/pinus/pkg/telemetry"
)

// Config holds per-session configuration.
type Config struct {
	// ClientType is sent as sys.type in the handshake.
	// Default: "go-websocket"
	ClientType string

	// ClientVersion is sent as sys.version in the handshake. Servers that
	// reject it answer with code 501.
	// Default: "0.3.0"
	ClientVersion string

	// User is the application section of the handshake request.
	User map[string]any

	// Strict rejects outbound routes without a client schema instead of
	// falling back to JSON bodies.
	// Default: false
	Strict bool

	// Compress gzips outbound bodies larger than CompressThreshold.
	// Default: false
	Compress bool

	// CompressThreshold is the smallest body that gets compressed.
	// Default: 1024
	CompressThreshold int

	// Clock drives the heartbeat monitor and timing metrics.
	// Default: clock.New()
	Clock clock.Clock

	// Logger receives session events. A conn_id attribute is added.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics collects Prometheus metrics. Nil disables collection.
	Metrics *telemetry.Metrics

	// Tracer traces the handshake. Nil uses the global provider.
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ClientType:        protocol.DefaultClientType,
		ClientVersion:     protocol.DefaultClientVersion,
		CompressThreshold: codec.DefaultCompressThreshold,
		Clock:             clock.New(),
		Logger:            slog.Default(),
	}
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return DefaultConfig()
	}
	clone := *c
	if c.User != nil {
		clone.User = maps.Clone(c.User)
	}
	return &clone
}

// withDefaults returns a copy with zero fields filled from DefaultConfig.
func (c *Config) withDefaults() *Config {
	out := c.Clone()
	def := DefaultConfig()
	if out.ClientType == "" {
		out.ClientType = def.ClientType
	}
	if out.ClientVersion == "" {
		out.ClientVersion = def.ClientVersion
	}
	if out.CompressThreshold <= 0 {
		out.CompressThreshold = def.CompressThreshold
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	return out
}
