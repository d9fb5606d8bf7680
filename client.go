package pinus

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/vango-dev/pinus/pkg/protocol"
	"github.com/vango-dev/pinus/pkg/session"
	"github.com/vango-dev/pinus/pkg/telemetry"
)

// Errors returned by Client methods. Protocol failures are *protocol.Error
// values and match these with errors.Is.
var (
	ErrNotConnected      = protocol.ErrNotConnected
	ErrConnectionClosed  = protocol.ErrConnectionClosed
	ErrHandshakeRejected = protocol.ErrHandshakeRejected
	ErrHeartbeatTimeout  = protocol.ErrHeartbeatTimeout
	ErrKicked            = protocol.ErrKicked
	ErrUnknownRoute      = protocol.ErrUnknownRoute

	// ErrAlreadyConnected is returned by Connect while a connection is open.
	ErrAlreadyConnected = errors.New("pinus: already connected")
)

// PushHandler receives the payload of a server push.
type PushHandler func(payload map[string]any)

// StateHandler observes network state changes. err is the close cause for
// Disconnected, Timeout and Error.
type StateHandler func(state NetworkState, err error)

type result struct {
	payload map[string]any
	err     error
}

// Client is a Pinus client. It is safe for concurrent use and may be
// reconnected after a close.
type Client struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *conn
	state    NetworkState
	handlers map[string][]PushHandler
	watchers []StateHandler
}

// conn is one connection attempt. Request ids and pending requests belong
// to it, so a reconnect starts again at id 1. Fields other than client and
// sess are guarded by client.mu.
type conn struct {
	client  *Client
	sess    *session.Session
	reqID   uint32
	pending map[uint32]chan result
}

// nextID returns the next request id, skipping 0 on wraparound.
func (cn *conn) nextID() uint32 {
	cn.reqID++
	if cn.reqID == 0 {
		cn.reqID = 1
	}
	return cn.reqID
}

// New creates a client. No connection is made until Connect.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		config:   cfg,
		logger:   cfg.Logger.With("component", "pinus"),
		state:    StateClosed,
		handlers: make(map[string][]PushHandler),
	}
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.config.Clone()
}

// State returns the current network state.
func (c *Client) State() NetworkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server and completes the handshake. It returns the
// user section of the server's handshake response.
//
// Connect is bounded by ctx and Config.ConnectTimeout.
func (c *Client) Connect(ctx context.Context) (map[string]any, error) {
	addr, err := c.config.Address()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.conn != nil && c.conn.sess.State() != session.StateClosed {
		c.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	cn := &conn{client: c, pending: make(map[uint32]chan result)}
	cn.sess = session.New(c.config.Dialer(addr), c.config.sessionConfig(), cn, session.Hooks{
		OnClose: func(cause error) { c.onSessionClose(cn, cause) },
	})
	sess := cn.sess
	c.conn = cn
	c.state = StateConnecting
	c.mu.Unlock()
	c.emit(StateConnecting, nil)

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, c.config.Tracer, "pinus.connect",
		telemetry.AttrURL.String(addr),
		telemetry.AttrConnID.String(sess.ID()))

	c.logger.Info("connecting", "url", addr, "conn_id", sess.ID())
	if err := sess.Start(ctx); err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}

	select {
	case <-sess.Ready():
	case <-sess.Done():
	}
	if sess.State() != session.StateWorking {
		err := sess.Err()
		if err == nil {
			err = ErrConnectionClosed
		}
		telemetry.EndSpan(span, err)
		return nil, err
	}

	c.mu.Lock()
	connected := c.conn == cn && c.state == StateConnecting
	if connected {
		c.state = StateConnected
	}
	c.mu.Unlock()
	if connected {
		c.emit(StateConnected, nil)
	}
	telemetry.EndSpan(span, nil)
	return sess.Handshake().User, nil
}

// Request sends a request and waits for its response.
func (c *Client) Request(ctx context.Context, route string, payload map[string]any) (map[string]any, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}
	_, span := telemetry.StartSpan(ctx, c.config.Tracer, "pinus.request", telemetry.AttrRoute.String(route))

	c.mu.Lock()
	cn := c.conn
	if cn == nil || cn.pending == nil || cn.sess.State() != session.StateWorking {
		c.mu.Unlock()
		telemetry.EndSpan(span, ErrNotConnected)
		return nil, ErrNotConnected
	}
	id := cn.nextID()
	ch := make(chan result, 1)
	cn.pending[id] = ch
	c.mu.Unlock()

	span.SetAttributes(telemetry.AttrRequestID.Int64(int64(id)))
	start := c.config.Clock.Now()
	c.config.Metrics.RequestStarted()

	res := c.await(ctx, cn, route, id, payload, ch)

	c.config.Metrics.RequestFinished(route, c.config.Clock.Now().Sub(start), res.err)
	telemetry.EndSpan(span, res.err)
	if res.err != nil {
		c.logger.Debug("request failed", "route", route, "id", id, "error", res.err)
	}
	return res.payload, res.err
}

func (c *Client) await(ctx context.Context, cn *conn, route string, id uint32, payload map[string]any, ch chan result) result {
	if err := cn.sess.Send(route, id, payload); err != nil {
		c.removePending(cn, id)
		return result{err: err}
	}
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		c.removePending(cn, id)
		return result{err: ctx.Err()}
	}
}

// Notify sends a message that has no response.
func (c *Client) Notify(ctx context.Context, route string, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := telemetry.StartSpan(ctx, c.config.Tracer, "pinus.notify", telemetry.AttrRoute.String(route))

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	var err error = ErrNotConnected
	if cn != nil && cn.sess.State() == session.StateWorking {
		err = cn.sess.Send(route, 0, payload)
	}
	telemetry.EndSpan(span, err)
	return err
}

// On registers a handler for pushes on route. Several handlers may share a
// route; they run in registration order.
func (c *Client) On(route string, h PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[route] = append(c.handlers[route], h)
}

// Off removes every handler for route.
func (c *Client) Off(route string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, route)
}

// OnStateChange registers a network state observer.
func (c *Client) OnStateChange(h StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, h)
}

// Close closes the connection. Pending requests fail with
// ErrConnectionClosed. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn != nil {
		cn.sess.Close()
	}
}

func (c *Client) removePending(cn *conn, id uint32) {
	c.mu.Lock()
	delete(cn.pending, id)
	c.mu.Unlock()
}

// onSessionClose fails the pending requests of cn. The network state only
// changes when cn is still the current connection.
func (c *Client) onSessionClose(cn *conn, cause error) {
	c.mu.Lock()
	pending := cn.pending
	cn.pending = nil
	current := c.conn == cn
	state := stateForCause(cause)
	if current {
		c.state = state
	}
	c.mu.Unlock()

	err := error(ErrConnectionClosed)
	if cause != nil {
		err = protocol.WrapError(protocol.CodeConnectionClosed, cause, "connection closed")
	}
	for _, ch := range pending {
		ch <- result{err: err}
	}
	if current {
		c.emit(state, cause)
	}
}

func (c *Client) emit(state NetworkState, err error) {
	c.mu.Lock()
	watchers := append([]StateHandler(nil), c.watchers...)
	c.mu.Unlock()

	for _, w := range watchers {
		c.safeCall("state handler", func() { w(state, err) })
	}
}

// safeCall runs fn, logging instead of propagating a panic.
func (c *Client) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(what+" panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// ResolveResponse completes the pending request id.
func (cn *conn) ResolveResponse(id uint32, payload map[string]any) {
	c := cn.client
	c.mu.Lock()
	ch, ok := cn.pending[id]
	delete(cn.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for abandoned request", "id", id)
		return
	}
	ch <- result{payload: payload}
}

// DispatchPush runs the client's handlers for route.
func (cn *conn) DispatchPush(route string, payload map[string]any) {
	c := cn.client
	c.mu.Lock()
	handlers := append([]PushHandler(nil), c.handlers[route]...)
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.logger.Debug("push without handler", "route", route)
		return
	}
	for _, h := range handlers {
		c.safeCall("push handler", func() { h(payload) })
	}
}
