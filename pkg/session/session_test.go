package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vango-dev/pinus/pkg/protocol"
	"github.com/vango-dev/pinus/pkg/transport"
)

// fakeTransport records sent packages and lets tests drive the handler.
type fakeTransport struct {
	mu         sync.Mutex
	handler    transport.Handler
	sent       [][]byte
	closes     int
	connectErr error
	noOpen     bool
}

func (f *fakeTransport) Connect(ctx context.Context, h transport.Handler) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	if !f.noOpen {
		h.OnOpen()
	}
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeTransport) packages(t *testing.T) []*protocol.Package {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*protocol.Package, 0, len(f.sent))
	for _, data := range f.sent {
		p, err := protocol.DecodePackage(data)
		if err != nil {
			t.Fatalf("sent invalid package %x: %v", data, err)
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeTransport) countType(t *testing.T, pt protocol.PackageType) int {
	t.Helper()
	n := 0
	for _, p := range f.packages(t) {
		if p.Type == pt {
			n++
		}
	}
	return n
}

func (f *fakeTransport) deliver(t *testing.T, pt protocol.PackageType, body []byte) {
	t.Helper()
	data, err := protocol.EncodePackage(pt, body)
	if err != nil {
		t.Fatalf("EncodePackage() error: %v", err)
	}
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnMessage(data)
}

type recorder struct {
	mu        sync.Mutex
	responses map[uint32]map[string]any
	pushes    []string
	users     []map[string]any
	ready     int
	closes    []error
}

func (r *recorder) ResolveResponse(id uint32, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responses == nil {
		r.responses = make(map[uint32]map[string]any)
	}
	r.responses[id] = payload
}

func (r *recorder) DispatchPush(route string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, route)
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnHandshake: func(user map[string]any) {
			r.mu.Lock()
			r.users = append(r.users, user)
			r.mu.Unlock()
		},
		OnReady: func(*protocol.HandshakeResponse) {
			r.mu.Lock()
			r.ready++
			r.mu.Unlock()
		},
		OnClose: func(cause error) {
			r.mu.Lock()
			r.closes = append(r.closes, cause)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) closeCauses() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.closes...)
}

const e2eHandshake = `{"code":200,"sys":{"heartbeat":5,"dict":{"a.b.c":1},"protos":{"server":{},"client":{},"version":1}},"user":{"uid":7}}`

type harness struct {
	sess  *Session
	ft    *fakeTransport
	rec   *recorder
	clock *clock.Mock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ft:    &fakeTransport{},
		rec:   &recorder{},
		clock: clock.NewMock(),
	}
	cfg := DefaultConfig()
	cfg.Clock = h.clock
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.User = map[string]any{"token": "abc"}
	h.sess = New(h.ft, cfg, h.rec, h.rec.hooks())
	t.Cleanup(h.sess.Close)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
}

func (h *harness) work(t *testing.T) {
	t.Helper()
	h.start(t)
	h.ft.deliver(t, protocol.PackageHandshake, []byte(e2eHandshake))
	if got := h.sess.State(); got != StateWorking {
		t.Fatalf("State() = %v, want Working", got)
	}
}

func TestStartSendsHandshake(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	pkgs := h.ft.packages(t)
	if len(pkgs) != 1 || pkgs[0].Type != protocol.PackageHandshake {
		t.Fatalf("sent %v, want one handshake package", pkgs)
	}
	var req struct {
		Sys struct {
			Type    string         `json:"type"`
			Version string         `json:"version"`
			RSA     map[string]any `json:"rsa"`
		} `json:"sys"`
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(pkgs[0].Body, &req); err != nil {
		t.Fatalf("handshake body is not JSON: %v", err)
	}
	if req.Sys.Type != "go-websocket" || req.Sys.Version != "0.3.0" || req.Sys.RSA == nil {
		t.Errorf("sys = %+v", req.Sys)
	}
	if req.User["token"] != "abc" {
		t.Errorf("user = %v", req.User)
	}
	if got := h.sess.State(); got != StateHandshaking {
		t.Errorf("State() = %v, want Handshaking", got)
	}
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if err := h.sess.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSendDroppedBeforeWorking(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Send("a.b.c", 0, nil); err != nil {
		t.Fatalf("Send() before start error = %v", err)
	}
	h.start(t)
	if err := h.sess.Send("a.b.c", 1, map[string]any{"x": 1}); err != nil {
		t.Fatalf("Send() while handshaking error = %v", err)
	}
	if got := h.ft.countType(t, protocol.PackageData); got != 0 {
		t.Errorf("data packages = %d, want 0", got)
	}
}

func TestHandshakeReachesWorking(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	pkgs := h.ft.packages(t)
	if len(pkgs) != 2 || pkgs[1].Type != protocol.PackageHandshakeAck || len(pkgs[1].Body) != 0 {
		t.Fatalf("sent %v, want handshake then empty ack", pkgs)
	}
	if got := h.sess.Heartbeat(); got != 5*time.Second {
		t.Errorf("Heartbeat() = %v, want 5s", got)
	}
	if code, ok := h.sess.Codec().Dict().Code("a.b.c"); !ok || code != 1 {
		t.Errorf("dict code = %d, %v; want 1", code, ok)
	}
	if h.sess.Handshake() == nil {
		t.Error("Handshake() = nil")
	}
	select {
	case <-h.sess.Ready():
	default:
		t.Error("Ready() not closed")
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.users) != 1 || h.rec.users[0]["uid"] != float64(7) {
		t.Errorf("OnHandshake users = %v", h.rec.users)
	}
	if h.rec.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.rec.ready)
	}
}

func TestHandshakeIgnoredOutsideHandshaking(t *testing.T) {
	h := newHarness(t)
	h.work(t)
	before := len(h.ft.packages(t))

	h.ft.deliver(t, protocol.PackageHandshake, []byte(e2eHandshake))
	if got := len(h.ft.packages(t)); got != before {
		t.Errorf("second handshake sent %d packages", got-before)
	}
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.rec.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.rec.ready)
	}
}

func TestSendWhileWorking(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	if err := h.sess.Send("a.b.c", 1, map[string]any{"x": 1}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := h.ft.countType(t, protocol.PackageData); got != 1 {
		t.Fatalf("data packages = %d, want 1", got)
	}

	pkgs := h.ft.packages(t)
	m, err := protocol.DecodeMessage(pkgs[len(pkgs)-1].Body, h.sess.Codec().Dict())
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	if m.Type != protocol.MessageRequest || m.ID != 1 || m.Route != "a.b.c" || !m.RouteCompressed {
		t.Errorf("message = %+v", m)
	}
	if string(m.Body) != `{"x":1}` {
		t.Errorf("body = %s", m.Body)
	}
}

func TestSendStrictUnknownRoute(t *testing.T) {
	h := newHarness(t)
	h.sess.config.Strict = true
	h.work(t)

	err := h.sess.Send("no.such.route", 0, nil)
	if !errors.Is(err, protocol.ErrUnknownRoute) {
		t.Fatalf("Send() error = %v, want UnknownRoute", err)
	}
	if got := h.sess.State(); got != StateWorking {
		t.Errorf("State() = %v after encode error, want Working", got)
	}
}

func TestDispatchResponseAndPush(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	if err := h.sess.Send("a.b.c", 3, nil); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	resp, _ := protocol.EncodeMessage(&protocol.Message{
		Type: protocol.MessageResponse, ID: 3, Body: []byte(`{"ok":true}`),
	}, nil)
	h.ft.deliver(t, protocol.PackageData, resp)

	push, _ := protocol.EncodeMessage(&protocol.Message{
		Type: protocol.MessagePush, Route: "onChat", Body: []byte(`{"msg":"hi"}`),
	}, nil)
	h.ft.deliver(t, protocol.PackageData, push)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if got := h.rec.responses[3]; got == nil || got["ok"] != true {
		t.Errorf("response 3 = %v", got)
	}
	if len(h.rec.pushes) != 1 || h.rec.pushes[0] != "onChat" {
		t.Errorf("pushes = %v", h.rec.pushes)
	}
}

func TestDecodeErrorClosesSession(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	resp, _ := protocol.EncodeMessage(&protocol.Message{
		Type: protocol.MessageResponse, ID: 99, Body: []byte(`{}`),
	}, nil)
	h.ft.deliver(t, protocol.PackageData, resp)

	if got := h.sess.State(); got != StateClosed {
		t.Fatalf("State() = %v, want Closed", got)
	}
	if !errors.Is(h.sess.Err(), protocol.ErrUnknownRoute) {
		t.Errorf("Err() = %v, want UnknownRoute", h.sess.Err())
	}
}

func TestMalformedPackageClosesSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.ft.mu.Lock()
	handler := h.ft.handler
	h.ft.mu.Unlock()
	handler.OnMessage([]byte{0x04, 0x00, 0x00, 0x05, 0x01})

	if !errors.Is(h.sess.Err(), protocol.ErrMalformedFrame) {
		t.Errorf("Err() = %v, want MalformedFrame", h.sess.Err())
	}
	if got := h.ft.closeCount(); got != 1 {
		t.Errorf("transport closes = %d, want 1", got)
	}
}

func TestKickClosesOnce(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"start", func(t *testing.T, h *harness) {}},
		{"handshaking", func(t *testing.T, h *harness) { h.start(t) }},
		{"working", func(t *testing.T, h *harness) { h.work(t) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			data, err := protocol.EncodePackage(protocol.PackageKick, []byte(`{"reason":"duplicate login"}`))
			if err != nil {
				t.Fatal(err)
			}
			(*handler)(h.sess).OnMessage(data)

			if got := h.sess.State(); got != StateClosed {
				t.Fatalf("State() = %v, want Closed", got)
			}
			(*handler)(h.sess).OnClose()
			h.sess.Close()

			if got := h.ft.closeCount(); got != 1 {
				t.Errorf("transport closes = %d, want 1", got)
			}
			causes := h.rec.closeCauses()
			if len(causes) != 1 {
				t.Fatalf("OnClose calls = %d, want 1", len(causes))
			}
			var pe *protocol.Error
			if !errors.As(causes[0], &pe) || pe.Code != protocol.CodeKicked || pe.Detail != "duplicate login" {
				t.Errorf("close cause = %v, want Kicked with reason", causes[0])
			}

			h.clock.Add(25 * time.Second)
			time.Sleep(10 * time.Millisecond)
			if got := h.ft.countType(t, protocol.PackageHeartbeat); got != 0 {
				t.Errorf("heartbeats after kick = %d, want 0", got)
			}
			if err := h.sess.Send("a.b.c", 0, nil); err != nil {
				t.Errorf("Send() after kick error = %v", err)
			}
			if got := h.ft.countType(t, protocol.PackageData); got != 0 {
				t.Errorf("data packages after kick = %d, want 0", got)
			}
		})
	}
}

func TestKickReason(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{``, ""},
		{`{"reason":"kick"}`, "kick"},
		{`{}`, ""},
		{` server shutdown `, "server shutdown"},
	}
	for _, tt := range tests {
		if got := kickReason([]byte(tt.body)); got != tt.want {
			t.Errorf("kickReason(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	heartbeats := func() int { return h.ft.countType(t, protocol.PackageHeartbeat) }

	h.clock.Add(5 * time.Second)
	waitFor(t, "heartbeat at 5s", func() bool { return heartbeats() == 1 })
	h.clock.Add(5 * time.Second)
	waitFor(t, "heartbeat at 10s", func() bool { return heartbeats() == 2 })
	h.clock.Add(5 * time.Second)

	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed by heartbeat timeout")
	}
	if !errors.Is(h.sess.Err(), protocol.ErrHeartbeatTimeout) {
		t.Errorf("Err() = %v, want HeartbeatTimeout", h.sess.Err())
	}
	if got := heartbeats(); got != 2 {
		t.Errorf("heartbeats = %d, want 2", got)
	}
	if got := h.ft.closeCount(); got != 1 {
		t.Errorf("transport closes = %d, want 1", got)
	}
	if got := len(h.rec.closeCauses()); got != 1 {
		t.Errorf("OnClose calls = %d, want 1", got)
	}
}

func TestInboundTrafficResetsHeartbeat(t *testing.T) {
	h := newHarness(t)
	h.work(t)

	heartbeats := func() int { return h.ft.countType(t, protocol.PackageHeartbeat) }

	h.clock.Add(5 * time.Second)
	waitFor(t, "heartbeat at 5s", func() bool { return heartbeats() == 1 })
	h.ft.deliver(t, protocol.PackageHeartbeat, nil)

	h.clock.Add(5 * time.Second)
	waitFor(t, "heartbeat at 10s", func() bool { return heartbeats() == 2 })
	h.clock.Add(5 * time.Second)
	waitFor(t, "heartbeat at 15s", func() bool { return heartbeats() == 3 })
	if got := h.sess.State(); got != StateWorking {
		t.Fatalf("State() = %v at 15s, want Working", got)
	}

	h.clock.Add(5 * time.Second)
	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed at 20s")
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.ft.deliver(t, protocol.PackageHandshake, []byte(`{"code":200,"sys":{"heartbeat":0}}`))

	if got := h.sess.Heartbeat(); got != 0 {
		t.Errorf("Heartbeat() = %v, want 0", got)
	}
	h.clock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	if got := h.ft.countType(t, protocol.PackageHeartbeat); got != 0 {
		t.Errorf("heartbeats = %d, want 0", got)
	}
	if got := h.sess.State(); got != StateWorking {
		t.Errorf("State() = %v, want Working", got)
	}
}

func TestHandshakeRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"server error", `{"code":500}`},
		{"old client", `{"code":501}`},
		{"missing sys", `{"code":200}`},
		{"not json", `<html>`},
		{"bad protos", `{"code":200,"sys":{"protos":{"client":{"m":{"fields":{"a":{"type":"Missing","id":1}}}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.start(t)
			h.ft.deliver(t, protocol.PackageHandshake, []byte(tt.body))

			if got := h.sess.State(); got != StateClosed {
				t.Fatalf("State() = %v, want Closed", got)
			}
			if !errors.Is(h.sess.Err(), protocol.ErrHandshakeRejected) {
				t.Errorf("Err() = %v, want HandshakeRejected", h.sess.Err())
			}
			if got := h.ft.closeCount(); got != 1 {
				t.Errorf("transport closes = %d, want 1", got)
			}
			if got := h.ft.countType(t, protocol.PackageHandshakeAck); got != 0 {
				t.Errorf("acks = %d, want 0", got)
			}
			h.rec.mu.Lock()
			defer h.rec.mu.Unlock()
			if len(h.rec.users) != 0 || h.rec.ready != 0 {
				t.Error("handshake hooks fired after rejection")
			}
		})
	}
}

func TestConnectError(t *testing.T) {
	h := newHarness(t)
	refused := errors.New("connection refused")
	h.ft.connectErr = refused

	err := h.sess.Start(context.Background())
	if !errors.Is(err, refused) {
		t.Fatalf("Start() error = %v, want %v", err, refused)
	}
	if !errors.Is(h.sess.Err(), refused) {
		t.Errorf("Err() = %v, want %v", h.sess.Err(), refused)
	}
	if got := h.sess.State(); got != StateClosed {
		t.Errorf("State() = %v, want Closed", got)
	}
	if got := len(h.rec.closeCauses()); got != 1 {
		t.Errorf("OnClose calls = %d, want 1", got)
	}
}

func TestContextCancelDuringHandshake(t *testing.T) {
	h := newHarness(t)
	h.ft.noOpen = true

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.sess.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()

	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after cancel")
	}
	if !errors.Is(h.sess.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", h.sess.Err())
	}
}

func TestContextCancelAfterWorking(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.sess.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	h.ft.deliver(t, protocol.PackageHandshake, []byte(e2eHandshake))
	cancel()
	time.Sleep(10 * time.Millisecond)

	if got := h.sess.State(); got != StateWorking {
		t.Errorf("State() = %v, want Working", got)
	}
}

func TestLocalCloseCause(t *testing.T) {
	h := newHarness(t)
	h.work(t)
	h.sess.Close()
	h.sess.Close()

	causes := h.rec.closeCauses()
	if len(causes) != 1 || causes[0] != nil {
		t.Errorf("OnClose causes = %v, want [nil]", causes)
	}
	if got := h.ft.closeCount(); got != 1 {
		t.Errorf("transport closes = %d, want 1", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStart:       "Start",
		StateHandshaking: "Handshaking",
		StateWorking:     "Working",
		StateClosed:      "Closed",
		State(42):        "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
