package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/john/combinedchat/internal/message"
)

func next(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for transport event")
		return nil
	}
}

// dispatchUntil feeds events to the session until one yields want.
func dispatchUntil(t *testing.T, s *Session, want Outcome) Result {
	t.Helper()
	for i := 0; i < 20; i++ {
		if res := s.Dispatch(next(t, s)); res.Outcome == want {
			return res
		}
	}
	t.Fatalf("expected outcome %d, never seen", want)
	return Result{}
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct{ base, path, want string }{
		{"http://localhost:8000", "/ws", "ws://localhost:8000/ws"},
		{"https://chat.example.com/", "ws", "wss://chat.example.com/ws"},
		{"https://chat.example.com/api", "/ws", "wss://chat.example.com/api/ws"},
	}
	for _, c := range cases {
		got, err := WebSocketURL(c.base, c.path)
		if err != nil {
			t.Fatalf("WebSocketURL(%q): %v", c.base, err)
		}
		if got != c.want {
			t.Fatalf("expected %s, got %s", c.want, got)
		}
	}
	if _, err := WebSocketURL("ftp://x", "/ws"); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	subscribed := make(chan subscribeFrame, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeFrame
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","platform":"twitch","channel":"foo","id":"1","user":"a","message":"hi"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","platform":"kick","message":"Connected to Kick chat for bar"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url, _ := WebSocketURL(srv.URL, "/ws")
	s := New(WebsocketDialer{}, url, nil)
	defer s.Close()

	targets := message.Targets{Twitch: []string{"foo"}}
	if _, err := s.Connect(context.Background(), targets); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.State() != Connecting {
		t.Fatalf("expected connecting, got %s", s.State())
	}

	res := dispatchUntil(t, s, Established)
	if s.State() != Open {
		t.Fatalf("expected open, got %s", s.State())
	}
	if !res.Targets.Equal(targets) {
		t.Fatalf("expected established targets %+v, got %+v", targets, res.Targets)
	}

	sub := <-subscribed
	if sub.Action != "subscribe" || len(sub.Twitch) != 1 || sub.Twitch[0] != "foo" || sub.Kick == nil {
		t.Fatalf("unexpected subscribe frame %+v", sub)
	}

	var received []message.Event
	for {
		res := s.Dispatch(next(t, s))
		if res.Outcome == Received {
			received = append(received, res.Event)
			continue
		}
		if res.Outcome == Terminated {
			if res.Err != nil {
				t.Fatalf("expected clean close, got %v", res.Err)
			}
			break
		}
	}
	if len(received) != 2 {
		t.Fatalf("expected 2 decoded events (malformed dropped), got %d", len(received))
	}
	if received[0].ID != "1" || received[1].Kind != message.KindStatus {
		t.Fatalf("unexpected events %+v", received)
	}
	if s.State() != Closed {
		t.Fatalf("expected closed, got %s", s.State())
	}
}

func TestSubscribeFrameShape(t *testing.T) {
	data, err := json.Marshal(subscribeFrame{Action: "subscribe", Twitch: []string{"a"}, Kick: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"action":"subscribe","twitch":["a"],"kick":[]}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []any
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 8), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return websocket.TextMessage, data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type fakeDialer struct {
	conns chan *fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReconnectDiscardsStaleTransport(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 2)}
	dialer.conns <- first
	s := New(dialer, "ws://backend/ws", nil)
	defer s.Close()

	firstID, _ := s.Connect(context.Background(), message.Targets{Twitch: []string{"foo"}})
	dispatchUntil(t, s, Established)

	first.frames <- []byte(`{"type":"chat","id":"old"}`)
	dialer.conns <- second
	secondID, _ := s.Connect(context.Background(), message.Targets{Kick: []string{"bar"}})
	if firstID == secondID {
		t.Fatalf("expected distinct transport ids")
	}

	// Whatever the first transport still emits must be discarded.
	for {
		ev := next(t, s)
		res := s.Dispatch(ev)
		if ev.Transport() == firstID && res.Outcome != Ignored {
			t.Fatalf("expected stale event to be ignored, got %+v", res)
		}
		if res.Outcome == Established {
			break
		}
	}
	select {
	case <-first.done:
	default:
		t.Fatalf("expected first transport to be closed before reconnecting")
	}

	second.frames <- []byte(`{"type":"chat","id":"new"}`)
	res := dispatchUntil(t, s, Received)
	if res.Event.ID != "new" {
		t.Fatalf("expected event from current transport, got %q", res.Event.ID)
	}
}

func TestDisconnectIsCleanClose(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: make(chan *fakeConn, 1)}
	dialer.conns <- conn
	s := New(dialer, "ws://backend/ws", nil)
	defer s.Close()

	_, _ = s.Connect(context.Background(), message.Targets{Twitch: []string{"foo"}})
	dispatchUntil(t, s, Established)

	s.Disconnect()
	if s.State() != Closing {
		t.Fatalf("expected closing, got %s", s.State())
	}
	res := dispatchUntil(t, s, Terminated)
	if res.Err != nil {
		t.Fatalf("expected requested close to carry no error, got %v", res.Err)
	}
	if s.State() != Closed || s.Active() {
		t.Fatalf("expected closed and inactive, got %s", s.State())
	}
}

func TestDialFailureErrors(t *testing.T) {
	s := New(&fakeDialer{err: errors.New("connection refused")}, "ws://backend/ws", nil)
	defer s.Close()

	_, _ = s.Connect(context.Background(), message.Targets{Twitch: []string{"foo"}})
	res := dispatchUntil(t, s, Terminated)
	if res.Err == nil || !strings.Contains(res.Err.Error(), "refused") {
		t.Fatalf("expected dial error, got %v", res.Err)
	}
	if s.State() != Errored {
		t.Fatalf("expected errored, got %s", s.State())
	}
}

func TestConnectAfterClose(t *testing.T) {
	s := New(&fakeDialer{}, "ws://backend/ws", nil)
	s.Close()
	if _, err := s.Connect(context.Background(), message.Targets{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
