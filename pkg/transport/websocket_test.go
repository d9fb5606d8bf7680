package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// recorder is a Handler that records notifications.
type recorder struct {
	mu       sync.Mutex
	opens    int
	closes   int
	messages [][]byte
	errs     []error

	msgCh   chan []byte
	closeCh chan struct{}
}

func newRecorder() *recorder {
	return &recorder{msgCh: make(chan []byte, 16), closeCh: make(chan struct{})}
}

func (r *recorder) OnOpen() {
	r.mu.Lock()
	r.opens++
	r.mu.Unlock()
}

func (r *recorder) OnMessage(data []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, data)
	r.mu.Unlock()
	r.msgCh <- data
}

func (r *recorder) OnClose() {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	close(r.closeCh)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) waitClose(t *testing.T) {
	t.Helper()
	select {
	case <-r.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

// newServer starts a WebSocket server; script runs against each accepted
// connection.
func newServer(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestWebSocketEcho(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(kind, data)
		}
	})

	ws := NewWebSocket(url, nil)
	rec := newRecorder()
	if err := ws.Connect(context.Background(), rec); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if rec.opens != 1 {
		t.Errorf("opens = %d, want 1", rec.opens)
	}

	payload := []byte{0x03, 0x00, 0x00, 0x00}
	if err := ws.Send(payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-rec.msgCh:
		if !bytes.Equal(got, payload) {
			t.Errorf("echo = %x, want %x", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	if err := ws.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	ws.Close()
	rec.waitClose(t)
	<-ws.Done()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closes != 1 {
		t.Errorf("closes = %d, want 1", rec.closes)
	}
	if len(rec.errs) != 0 {
		t.Errorf("errs = %v, want none", rec.errs)
	}
}

func TestWebSocketSendBeforeOpenIgnored(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/unused", nil)
	if err := ws.Send([]byte{0x01}); err != nil {
		t.Errorf("Send() before open error = %v, want nil", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() before open error = %v", err)
	}
	select {
	case <-ws.Done():
	default:
		t.Error("Done() not closed after Close on an unopened transport")
	}
	if err := ws.Connect(context.Background(), newRecorder()); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Errorf("Connect() after Close error = %v, want ConnectionClosed", err)
	}
}

func TestWebSocketTextFrameRejected(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`))
		conn.ReadMessage()
	})

	ws := NewWebSocket(url, nil)
	rec := newRecorder()
	if err := ws.Connect(context.Background(), rec); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.waitClose(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.messages) != 0 {
		t.Errorf("text frame delivered as message: %x", rec.messages)
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], protocol.ErrUnexpectedFrameKind) {
		t.Errorf("errs = %v, want one UnexpectedFrameKind", rec.errs)
	}
	if err := ws.Send([]byte{0x01}); err != nil {
		t.Errorf("Send() after close error = %v, want nil", err)
	}
}

func TestWebSocketServerClose(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x05, 0x00, 0x00, 0x00})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
	})

	ws := NewWebSocket(url, nil)
	rec := newRecorder()
	if err := ws.Connect(context.Background(), rec); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.waitClose(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(rec.messages))
	}
	if len(rec.errs) != 0 {
		t.Errorf("errs = %v, want none for a normal close", rec.errs)
	}
}

func TestWebSocketConnectTwice(t *testing.T) {
	url := newServer(t, func(conn *websocket.Conn) { conn.ReadMessage() })

	ws := NewWebSocket(url, nil)
	if err := ws.Connect(context.Background(), newRecorder()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer ws.Close()
	if err := ws.Connect(context.Background(), newRecorder()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ws := NewWebSocket("ws://127.0.0.1:1/", nil)
	rec := newRecorder()
	if err := ws.Connect(ctx, rec); err == nil {
		t.Fatal("Connect() to a closed port succeeded")
	}
	if rec.opens != 0 {
		t.Errorf("opens = %d, want 0", rec.opens)
	}
	<-ws.Done()
}

func TestDefaultWebSocketConfig(t *testing.T) {
	cfg := DefaultWebSocketConfig()
	if cfg.HandshakeTimeout != 8*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 8s", cfg.HandshakeTimeout)
	}
	if cfg.ReadLimit != protocol.MaxPackageBody+protocol.PackageHeaderSize {
		t.Errorf("ReadLimit = %d", cfg.ReadLimit)
	}

	cfg.Header = http.Header{"X-Test": {"1"}}
	clone := cfg.Clone()
	clone.Header.Set("X-Test", "2")
	if cfg.Header.Get("X-Test") != "1" {
		t.Error("Clone() shares Header with the original")
	}
}
