package pinus

import (
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pinus/pkg/protocol"
	"github.com/vango-dev/pinus/pkg/session"
	"github.com/vango-dev/pinus/pkg/telemetry"
	"github.com/vango-dev/pinus/pkg/transport"
)

// DefaultConnectTimeout bounds Connect when Config.ConnectTimeout is zero.
const DefaultConnectTimeout = 8 * time.Second

// ErrNoAddress is returned when a Config names neither a URL nor a host.
var ErrNoAddress = errors.New("pinus: no server address configured")

// HandshakeConfig is the client section of the handshake request.
type HandshakeConfig struct {
	// ClientType is sent as sys.type.
	// Default: "go-websocket"
	ClientType string

	// Version is sent as sys.version.
	// Default: "0.3.0"
	Version string

	// User is passed to the server's handshake handler.
	User map[string]any
}

// Config configures a Client.
type Config struct {
	// URL is the full server address, e.g. "ws://127.0.0.1:3010". When set,
	// Host, Port, Path and Secure are ignored.
	URL string

	// Host, Port and Path build "ws://host:port/path" when URL is empty.
	Host string
	Port int
	Path string

	// Secure selects wss:// for addresses built from Host.
	Secure bool

	// ConnectTimeout bounds dialing plus handshake.
	// Default: 8 seconds
	ConnectTimeout time.Duration

	// RequestTimeout bounds each Request in addition to its context.
	// Zero leaves requests bounded only by their context.
	// Default: 0
	RequestTimeout time.Duration

	// Handshake is the client handshake data.
	Handshake HandshakeConfig

	// StrictSchema rejects routes without a client schema instead of
	// sending JSON bodies.
	// Default: false
	StrictSchema bool

	// Compress gzips large outbound bodies.
	// Default: false
	Compress bool

	// WebSocket configures the default dialer. Ignored when Dialer is set.
	WebSocket *transport.WebSocketConfig

	// Dialer creates the transport for each connection.
	// Default: transport.WebSocketDialer(WebSocket)
	Dialer transport.Dialer

	// Clock drives heartbeats and timing.
	// Default: clock.New()
	Clock clock.Clock

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics collects Prometheus metrics. Nil disables collection.
	Metrics *telemetry.Metrics

	// Tracer traces connects and requests. Nil uses the global provider.
	Tracer trace.Tracer
}

// DefaultConfig returns a Config with default values and no address.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		Handshake: HandshakeConfig{
			ClientType: protocol.DefaultClientType,
			Version:    protocol.DefaultClientVersion,
		},
		WebSocket: transport.DefaultWebSocketConfig(),
		Clock:     clock.New(),
		Logger:    slog.Default(),
	}
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	clone := c
	if c.Handshake.User != nil {
		clone.Handshake.User = maps.Clone(c.Handshake.User)
	}
	clone.WebSocket = c.WebSocket.Clone()
	return clone
}

// Address returns the server URL.
func (c Config) Address() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Host == "" {
		return "", ErrNoAddress
	}

	u := url.URL{Scheme: "ws", Host: c.Host, Path: c.Path}
	if c.Secure {
		u.Scheme = "wss"
	}
	if c.Port > 0 {
		u.Host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return u.String(), nil
}

// withDefaults returns a copy with zero fields filled in.
func (c Config) withDefaults() Config {
	out := c.Clone()
	def := DefaultConfig()
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	if out.Handshake.ClientType == "" {
		out.Handshake.ClientType = def.Handshake.ClientType
	}
	if out.Handshake.Version == "" {
		out.Handshake.Version = def.Handshake.Version
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	if out.Logger == nil {
		out.Logger = def.Logger
	}
	if out.Dialer == nil {
		ws := out.WebSocket
		if ws == nil {
			ws = def.WebSocket
		}
		if ws.Logger == nil {
			ws.Logger = out.Logger
		}
		out.Dialer = transport.WebSocketDialer(ws)
	}
	return out
}

// sessionConfig derives the per-connection session configuration.
func (c Config) sessionConfig() *session.Config {
	return &session.Config{
		ClientType:    c.Handshake.ClientType,
		ClientVersion: c.Handshake.Version,
		User:          c.Handshake.User,
		Strict:        c.StrictSchema,
		Compress:      c.Compress,
		Clock:         c.Clock,
		Logger:        c.Logger,
		Metrics:       c.Metrics,
		Tracer:        c.Tracer,
	}
}
