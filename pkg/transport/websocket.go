package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// ErrAlreadyConnected is returned by Connect on a transport that has
// already been used.
var ErrAlreadyConnected = errors.New("transport: already connected")

// WebSocket is a Transport over a gorilla/websocket client connection.
// Each instance carries a single connection.
type WebSocket struct {
	url    string
	config *WebSocketConfig
	logger *slog.Logger

	// mu guards conn and serializes writes.
	mu      sync.Mutex
	conn    *websocket.Conn
	handler Handler

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	notified  sync.Once
	done      chan struct{}
}

// NewWebSocket creates a WebSocket transport for url (ws:// or wss://).
// A nil config uses DefaultWebSocketConfig.
func NewWebSocket(url string, config *WebSocketConfig) *WebSocket {
	if config == nil {
		config = DefaultWebSocketConfig()
	} else {
		config = config.Clone()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		url:    url,
		config: config,
		logger: logger.With("url", url),
		done:   make(chan struct{}),
	}
}

// WebSocketDialer returns a Dialer producing WebSocket transports that share
// config.
func WebSocketDialer(config *WebSocketConfig) Dialer {
	return func(url string) Transport {
		return NewWebSocket(url, config)
	}
}

// Connect dials the server, calls h.OnOpen, then starts the read loop.
func (w *WebSocket) Connect(ctx context.Context, h Handler) error {
	if w.closed.Load() {
		return protocol.Errorf(protocol.CodeConnectionClosed, "transport closed")
	}
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  w.config.HandshakeTimeout,
		EnableCompression: w.config.EnableCompression,
	}
	conn, _, err := dialer.DialContext(ctx, w.url, w.config.Header)
	if err != nil {
		close(w.done)
		return err
	}
	if w.config.ReadLimit > 0 {
		conn.SetReadLimit(w.config.ReadLimit)
	}

	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		conn.Close()
		close(w.done)
		return protocol.Errorf(protocol.CodeConnectionClosed, "transport closed during dial")
	}
	w.conn = conn
	w.handler = h
	w.mu.Unlock()

	w.logger.Debug("websocket connected")
	h.OnOpen()
	go w.readLoop(conn, h)
	return nil
}

// readLoop delivers inbound messages until the connection ends.
func (w *WebSocket) readLoop(conn *websocket.Conn, h Handler) {
	defer close(w.done)
	defer w.notifyClose(h)
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if w.closed.Load() {
				return
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				w.logger.Error("read error", "error", err)
				h.OnError(protocol.WrapError(protocol.CodeConnectionClosed, err, "read"))
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			h.OnMessage(data)
		default:
			w.logger.Error("unexpected text frame", "bytes", len(data))
			h.OnError(protocol.Errorf(protocol.CodeUnexpectedFrameKind, "text frame of %d bytes", len(data)))
			return
		}
	}
}

func (w *WebSocket) notifyClose(h Handler) {
	w.notified.Do(func() {
		w.closed.Store(true)
		h.OnClose()
	})
}

// Send writes data as one binary message.
func (w *WebSocket) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil || w.closed.Load() {
		return nil
	}
	if w.config.WriteTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame and closes the connection. The read loop then
// exits and reports OnClose.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.started.CompareAndSwap(false, true) {
			close(w.done)
			return
		}

		w.mu.Lock()
		conn := w.conn
		if conn != nil {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			err = conn.Close()
		}
		w.mu.Unlock()
	})
	return err
}

// Done returns a channel that's closed when the connection has fully ended.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}
