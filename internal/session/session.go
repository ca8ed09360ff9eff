// Package session owns the single live transport to the chat backend.
//
// Transport goroutines never touch session state. They post Events tagged
// with the transport's identity, and the owner feeds those back through
// Dispatch on its own goroutine. Events from a transport that has been
// replaced are discarded there.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("session: closed")

// State is the lifecycle of the current transport.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is something that happened on a transport.
type Event interface {
	Transport() string
}

// Opened reports a completed dial.
type Opened struct {
	TransportID string
	Conn        Conn
}

// Frame carries one inbound message.
type Frame struct {
	TransportID string
	Data        []byte
}

// Ended reports that the transport stopped, either because the dial
// failed or because reading failed.
type Ended struct {
	TransportID string
	Err         error
}

func (e Opened) Transport() string { return e.TransportID }
func (e Frame) Transport() string  { return e.TransportID }
func (e Ended) Transport() string  { return e.TransportID }

// Outcome classifies a dispatched event.
type Outcome int

const (
	// Ignored events need no reaction: stale, malformed, or absorbed.
	Ignored Outcome = iota
	// Established means the transport is open and subscribed.
	Established
	// Received carries a decoded chat event.
	Received
	// Terminated means the transport is gone. Result.Err is set when it
	// failed rather than being closed on request.
	Terminated
)

// Result is what Dispatch made of an Event.
type Result struct {
	Outcome Outcome
	Event   message.Event
	Targets message.Targets
	Err     error
}

type subscribeFrame struct {
	Action string   `json:"action"`
	Twitch []string `json:"twitch"`
	Kick   []string `json:"kick"`
}

type transport struct {
	id      string
	conn    Conn
	cancel  context.CancelFunc
	targets message.Targets
}

// Session is not safe for concurrent use; only the transport goroutines it
// starts run concurrently, and they communicate through Events.
type Session struct {
	dialer Dialer
	url    string
	logger *slog.Logger

	events chan Event
	stop   chan struct{}

	state   State
	current *transport
	stopped bool
}

// New creates an idle session that dials url.
func New(dialer Dialer, url string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		dialer: dialer,
		url:    url,
		logger: logger,
		events: make(chan Event, 64),
		stop:   make(chan struct{}),
	}
}

// Events is the channel transport goroutines post to.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the lifecycle state of the current transport.
func (s *Session) State() State {
	return s.state
}

// Active reports whether a transport is open or being opened.
func (s *Session) Active() bool {
	return s.state == Connecting || s.state == Open
}

// Targets returns the subscription of the current transport.
func (s *Session) Targets() message.Targets {
	if s.current == nil {
		return message.Targets{}
	}
	return s.current.targets.Clone()
}

// TransportID identifies the current transport, or "" when there is none.
func (s *Session) TransportID() string {
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// Connect replaces any existing transport with a new one for targets. The
// previous transport is closed first; its late events are discarded.
func (s *Session) Connect(ctx context.Context, targets message.Targets) (string, error) {
	if s.stopped {
		return "", ErrClosed
	}
	if s.current != nil {
		s.logger.Info("session: replacing transport", slog.String("transport", s.current.id))
		s.release(s.current)
		s.current = nil
	}

	dialCtx, cancel := context.WithCancel(ctx)
	t := &transport{id: uuid.NewString(), cancel: cancel, targets: targets.Clone()}
	s.current = t
	s.state = Connecting
	s.logger.Debug("session: connecting", slog.String("transport", t.id), slog.String("url", s.url))

	go s.run(dialCtx, t.id)
	return t.id, nil
}

// Disconnect requests closure of the current transport without waiting. The
// Terminated result arrives later through Dispatch.
func (s *Session) Disconnect() {
	if s.current == nil || s.state == Closing {
		return
	}
	s.state = Closing
	s.release(s.current)
}

// Close stops the session for good and releases the current transport.
func (s *Session) Close() {
	if s.stopped {
		return
	}
	s.stopped = true
	if s.current != nil {
		s.release(s.current)
		s.current = nil
	}
	s.state = Closed
	close(s.stop)
}

// Dispatch applies ev to the session state. It must be called from the
// goroutine that owns the session.
func (s *Session) Dispatch(ev Event) Result {
	t := s.current
	if t == nil || ev.Transport() != t.id {
		metrics.StaleEvent()
		s.logger.Debug("session: discarding event from stale transport", slog.String("transport", ev.Transport()))
		if o, ok := ev.(Opened); ok && o.Conn != nil {
			_ = o.Conn.Close()
		}
		return Result{Outcome: Ignored}
	}

	switch ev := ev.(type) {
	case Opened:
		if s.state == Closing {
			_ = ev.Conn.Close()
			return Result{Outcome: Ignored}
		}
		t.conn = ev.Conn
		sub := subscribeFrame{Action: "subscribe", Twitch: t.targets.Twitch, Kick: t.targets.Kick}
		if sub.Twitch == nil {
			sub.Twitch = []string{}
		}
		if sub.Kick == nil {
			sub.Kick = []string{}
		}
		if err := ev.Conn.WriteJSON(sub); err != nil {
			s.logger.Warn("session: subscribe failed", slog.Any("err", err))
			s.release(t)
			s.current = nil
			s.state = Errored
			return Result{Outcome: Terminated, Err: fmt.Errorf("send subscribe: %w", err)}
		}
		s.state = Open
		metrics.Connected()
		s.logger.Info("session: open",
			slog.String("transport", t.id),
			slog.Any("twitch", t.targets.Twitch),
			slog.Any("kick", t.targets.Kick))
		return Result{Outcome: Established, Targets: t.targets.Clone()}

	case Frame:
		metrics.FrameReceived()
		msg, err := message.Decode(ev.Data)
		if err != nil {
			metrics.FrameMalformed()
			s.logger.Warn("session: dropping malformed frame", slog.Any("err", err), slog.Int("bytes", len(ev.Data)))
			return Result{Outcome: Ignored}
		}
		return Result{Outcome: Received, Event: msg}

	case Ended:
		requested := s.state == Closing
		s.release(t)
		s.current = nil
		if requested || ev.Err == nil || isNormalClose(ev.Err) {
			s.state = Closed
			s.logger.Info("session: closed", slog.String("transport", t.id))
			return Result{Outcome: Terminated}
		}
		s.state = Errored
		s.logger.Warn("session: transport failed", slog.String("transport", t.id), slog.Any("err", ev.Err))
		return Result{Outcome: Terminated, Err: ev.Err}
	}
	return Result{Outcome: Ignored}
}

func (s *Session) release(t *transport) {
	t.cancel()
	if t.conn != nil {
		_ = t.conn.Close()
	}
}

// run dials and then reads until the connection fails.
func (s *Session) run(ctx context.Context, id string) {
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		s.post(Ended{TransportID: id, Err: err})
		return
	}
	if !s.post(Opened{TransportID: id, Conn: conn}) {
		_ = conn.Close()
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.post(Ended{TransportID: id, Err: err})
			return
		}
		if !s.post(Frame{TransportID: id, Data: data}) {
			return
		}
	}
}

func (s *Session) post(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}
