package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/pinus/pkg/codec"
	"github.com/vango-dev/pinus/pkg/protocol"
	"github.com/vango-dev/pinus/pkg/telemetry"
	"github.com/vango-dev/pinus/pkg/transport"
)

// State is the protocol state of a session.
type State int32

const (
	StateStart       State = iota // Created, not yet connecting
	StateHandshaking              // Transport connecting or handshake in flight
	StateWorking                  // Handshake acknowledged, data flows
	StateClosed                   // Terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateHandshaking:
		return "Handshaking"
	case StateWorking:
		return "Working"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrAlreadyStarted is returned by Start on a session that was started before.
var ErrAlreadyStarted = errors.New("session: already started")

// Dispatcher receives decoded inbound messages, in wire order, from the
// transport's read goroutine.
type Dispatcher interface {
	// ResolveResponse delivers the response to request id.
	ResolveResponse(id uint32, payload map[string]any)

	// DispatchPush delivers a server push.
	DispatchPush(route string, payload map[string]any)
}

// Hooks are optional lifecycle callbacks. None run while the session lock is
// held, and only OnClose runs once closing has begun.
type Hooks struct {
	// OnHandshake receives the user section of the handshake response.
	OnHandshake func(user map[string]any)

	// OnReady receives the full handshake response once working.
	OnReady func(resp *protocol.HandshakeResponse)

	// OnClose is called exactly once. cause is nil for a local Close.
	OnClose func(cause error)
}

// Session drives one connection through handshake, working and closed.
type Session struct {
	id         string
	transport  transport.Transport
	config     *Config
	dispatcher Dispatcher
	hooks      Hooks
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	// mu guards the fields below and serializes writes to the transport.
	mu        sync.Mutex
	state     State
	codec     *codec.Codec
	heartbeat *Monitor
	handshake *protocol.HandshakeResponse
	cause     error
	startedAt time.Time
	span      trace.Span

	ready chan struct{}
	done  chan struct{}
}

// New creates a session over t. The session does nothing until Start.
func New(t transport.Transport, cfg *Config, d Dispatcher, hooks Hooks) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	return &Session{
		id:         id,
		transport:  t,
		config:     cfg,
		dispatcher: d,
		hooks:      hooks,
		logger:     cfg.Logger.With("conn_id", id),
		metrics:    cfg.Metrics,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the connection id used in logs and spans.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Codec returns the codec built from the handshake, or nil before it.
func (s *Session) Codec() *codec.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// Heartbeat returns the negotiated heartbeat interval, or 0 before the
// handshake or when the server disabled heartbeats.
func (s *Session) Heartbeat() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeat == nil {
		return 0
	}
	return s.heartbeat.Interval()
}

// Handshake returns the server handshake response, or nil before it.
func (s *Session) Handshake() *protocol.HandshakeResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshake
}

// Err returns the close cause. It is nil while open and after a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Ready returns a channel closed when the session reaches working.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done returns a channel closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start connects the transport and sends the handshake once it opens.
// Cancelling ctx before the handshake completes closes the session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStart {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateHandshaking
	s.startedAt = s.config.Clock.Now()
	_, s.span = telemetry.StartSpan(ctx, s.config.Tracer, "pinus.handshake",
		telemetry.AttrConnID.String(s.id))
	s.mu.Unlock()

	s.logger.Debug("connecting")
	if err := s.transport.Connect(ctx, (*handler)(s)); err != nil {
		s.logger.Error("connect failed", "error", err)
		s.shutdown(err)
		return err
	}

	if ctx.Done() != nil {
		go s.watchHandshake(ctx)
	}
	return nil
}

func (s *Session) watchHandshake(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.terminate(protocol.WrapError(protocol.CodeConnectionClosed, ctx.Err(), "handshake"), true)
	case <-s.ready:
	case <-s.done:
	}
}

// Send encodes a request (id > 0) or notify (id == 0) and writes it as one
// data package. Outside the working state the message is dropped and Send
// returns nil. Encoding errors are returned without touching the connection.
func (s *Session) Send(route string, id uint32, payload map[string]any) error {
	s.mu.Lock()
	state, c := s.state, s.codec
	s.mu.Unlock()

	if state != StateWorking {
		s.logger.Debug("dropping message outside working state", "route", route, "state", state)
		return nil
	}

	body, err := c.Encode(route, id, payload)
	if err != nil {
		s.metrics.CodecError(err)
		return err
	}
	if err := s.sendPackage(protocol.PackageData, body); err != nil {
		if id > 0 {
			c.Forget(id)
		}
		return err
	}
	return nil
}

// sendPackage frames and writes one package unless the session is closed.
func (s *Session) sendPackage(t protocol.PackageType, body []byte) error {
	data, err := protocol.EncodePackage(t, body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	if err := s.transport.Send(data); err != nil {
		return err
	}
	s.metrics.PackageSent(t, len(data))
	return nil
}

// Close closes the session. It is safe to call more than once.
func (s *Session) Close() {
	s.shutdown(nil)
}

func (s *Session) shutdown(cause error) {
	s.terminate(cause, false)
}

// terminate moves the session to closed. With onlyHandshaking set it has no
// effect unless the handshake is still in flight.
func (s *Session) terminate(cause error, onlyHandshaking bool) {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed || (onlyHandshaking && prev != StateHandshaking) {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.cause = cause
	hb := s.heartbeat
	c := s.codec
	span := s.span
	s.span = nil
	s.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close", "error", err)
	}
	close(s.done)

	switch prev {
	case StateHandshaking:
		s.metrics.HandshakeFailed()
		if span != nil {
			spanErr := cause
			if spanErr == nil {
				spanErr = protocol.ErrConnectionClosed
			}
			telemetry.EndSpan(span, spanErr)
		}
	case StateWorking:
		s.metrics.ConnectionClosed()
	}

	outstanding := 0
	if c != nil {
		outstanding = c.Outstanding()
	}
	if cause == nil {
		s.logger.Info("session closed", "state", prev, "outstanding", outstanding)
	} else {
		s.logger.Warn("session closed", "state", prev, "outstanding", outstanding, "error", cause)
	}

	if s.hooks.OnClose != nil {
		s.hooks.OnClose(cause)
	}
}

func (s *Session) closed() bool {
	return s.State() == StateClosed
}

func (s *Session) onOpen() {
	req := protocol.NewHandshakeRequest(s.config.ClientType, s.config.ClientVersion, s.config.User)
	body, err := req.Encode()
	if err != nil {
		s.shutdown(protocol.WrapError(protocol.CodeHandshakeRejected, err, "encode handshake"))
		return
	}

	s.logger.Debug("sending handshake", "type", req.Sys.Type, "version", req.Sys.Version)
	if err := s.sendPackage(protocol.PackageHandshake, body); err != nil {
		s.shutdown(protocol.WrapError(protocol.CodeConnectionClosed, err, "send handshake"))
	}
}

func (s *Session) onMessage(data []byte) {
	s.metrics.BytesReceived(len(data))

	pkgs, err := protocol.DecodePackages(data)
	if err != nil {
		s.logger.Error("malformed package", "error", err, "bytes", len(data))
		s.shutdown(err)
		return
	}
	for _, p := range pkgs {
		if s.closed() {
			return
		}
		s.metrics.PackageReceived(p.Type)
		switch p.Type {
		case protocol.PackageHandshake:
			s.onHandshake(p.Body)
		case protocol.PackageHeartbeat:
			if _, ok := s.touch(); !ok {
				s.logger.Debug("ignoring heartbeat outside working state")
			}
		case protocol.PackageData:
			s.onData(p.Body)
		case protocol.PackageKick:
			s.onKick(p.Body)
		default:
			s.logger.Debug("ignoring package", "type", p.Type)
		}
	}
}

func (s *Session) onHandshake(body []byte) {
	if s.State() != StateHandshaking {
		s.logger.Debug("ignoring handshake outside handshaking state")
		return
	}

	resp, err := protocol.ParseHandshakeResponse(body)
	if err != nil {
		s.logger.Error("handshake rejected", "error", err)
		s.shutdown(err)
		return
	}
	c, err := codec.FromHandshake(resp, codec.Options{
		Strict:            s.config.Strict,
		Compress:          s.config.Compress,
		CompressThreshold: s.config.CompressThreshold,
	})
	if err != nil {
		err = protocol.WrapError(protocol.CodeHandshakeRejected, err, "invalid protos")
		s.logger.Error("handshake rejected", "error", err)
		s.shutdown(err)
		return
	}
	hb := NewMonitor(resp.Heartbeat, s.config.Clock, s.sendHeartbeat, s.heartbeatTimeout)

	s.mu.Lock()
	if s.state != StateHandshaking {
		s.mu.Unlock()
		return
	}
	s.codec = c
	s.heartbeat = hb
	s.handshake = resp
	s.mu.Unlock()

	hb.Start()
	if err := s.sendPackage(protocol.PackageHandshakeAck, nil); err != nil {
		s.shutdown(protocol.WrapError(protocol.CodeConnectionClosed, err, "send handshake ack"))
		return
	}

	s.mu.Lock()
	if s.state != StateHandshaking {
		s.mu.Unlock()
		return
	}
	s.state = StateWorking
	span := s.span
	s.span = nil
	elapsed := s.config.Clock.Now().Sub(s.startedAt)
	s.mu.Unlock()
	close(s.ready)

	s.metrics.HandshakeCompleted(elapsed)
	s.metrics.ConnectionOpened()
	if span != nil {
		telemetry.EndSpan(span, nil)
	}
	s.logger.Info("handshake complete",
		"heartbeat", resp.Heartbeat,
		"routes", c.Dict().Len(),
		"elapsed", elapsed)

	if s.hooks.OnHandshake != nil && !s.closed() {
		s.hooks.OnHandshake(resp.User)
	}
	if s.hooks.OnReady != nil && !s.closed() {
		s.hooks.OnReady(resp)
	}
}

// touch resets the heartbeat monitor and returns the codec when working.
func (s *Session) touch() (*codec.Codec, bool) {
	s.mu.Lock()
	if s.state != StateWorking {
		s.mu.Unlock()
		return nil, false
	}
	c, hb := s.codec, s.heartbeat
	s.mu.Unlock()

	if hb != nil {
		hb.Reset()
	}
	return c, true
}

func (s *Session) onData(body []byte) {
	c, ok := s.touch()
	if !ok {
		s.logger.Debug("ignoring data outside working state")
		return
	}

	msg, err := c.Decode(body)
	if err != nil {
		s.metrics.CodecError(err)
		s.logger.Error("decode failed", "error", err)
		s.shutdown(err)
		return
	}
	if s.dispatcher == nil || s.closed() {
		return
	}

	switch msg.Type {
	case protocol.MessageResponse:
		s.dispatcher.ResolveResponse(msg.ID, msg.Payload)
	case protocol.MessagePush:
		s.dispatcher.DispatchPush(msg.Route, msg.Payload)
	default:
		s.logger.Debug("ignoring server message", "type", msg.Type, "route", msg.Route)
	}
}

func (s *Session) onKick(body []byte) {
	reason := kickReason(body)
	s.metrics.Kicked()
	s.logger.Warn("kicked by server", "reason", reason)

	cause := &protocol.Error{Code: protocol.CodeKicked, Detail: reason}
	s.shutdown(cause)
}

// kickReason extracts the reason field of a kick body, falling back to the
// raw text.
func kickReason(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var k struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &k); err == nil {
		return k.Reason
	}
	return strings.TrimSpace(string(body))
}

func (s *Session) sendHeartbeat() {
	if err := s.sendPackage(protocol.PackageHeartbeat, nil); err != nil {
		s.logger.Warn("heartbeat send failed", "error", err)
	}
}

func (s *Session) heartbeatTimeout() {
	s.metrics.HeartbeatTimeout()
	s.logger.Warn("heartbeat timeout", "interval", s.Heartbeat())
	s.shutdown(protocol.Errorf(protocol.CodeHeartbeatTimeout, "no traffic for more than %s", 2*s.Heartbeat()))
}

// handler adapts Session to transport.Handler without exporting the
// callbacks on Session itself.
type handler Session

func (h *handler) OnOpen() {
	(*Session)(h).onOpen()
}

func (h *handler) OnMessage(data []byte) {
	(*Session)(h).onMessage(data)
}

func (h *handler) OnClose() {
	s := (*Session)(h)
	s.shutdown(protocol.Errorf(protocol.CodeConnectionClosed, "transport closed"))
}

func (h *handler) OnError(err error) {
	s := (*Session)(h)
	if !s.closed() {
		s.logger.Error("transport error", "error", err)
	}
	s.shutdown(err)
}
