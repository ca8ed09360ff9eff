// Package store keeps a durable snapshot of the connection target, the
// subscribed channels and a bounded message history.
//
// The snapshot is a single JSON blob kept under one key of a Backend. Loading
// validates every field on its own so a corrupted or foreign blob degrades to
// defaults instead of failing. The first write failure disables the store for
// the rest of the process; it is never retried. While Run is going, writes
// are coalesced and the newest snapshot wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
)

// DefaultKey is the key the snapshot is stored under.
const DefaultKey = "combined-chat-state"

// ErrNotFound is returned by a Backend when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Backend is a key-value store for a single blob.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// State is the persisted snapshot.
type State struct {
	Connected bool            `json:"connected"`
	Channels  message.Targets `json:"channels"`
	Messages  []message.Event `json:"messages"`
}

// Store guards a Backend. Mutations come from the client loop; once Run is
// going they only update the in-memory snapshot and Run writes the latest
// one behind them, so the loop never waits on the backend.
type Store struct {
	backend      Backend
	key          string
	maxMessages  int
	logger       *slog.Logger
	interval     time.Duration
	writeTimeout time.Duration

	// writeMu orders backend writes; mu guards the fields below it.
	writeMu  sync.Mutex
	mu       sync.Mutex
	disabled bool
	current  State
	loaded   bool
	dirty    bool
	removed  bool
	behind   bool
}

// Option configures a Store.
type Option func(*Store)

// Write-behind defaults.
const (
	DefaultFlushInterval = 500 * time.Millisecond
	DefaultWriteTimeout  = 5 * time.Second
)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFlushInterval sets how often Run writes a changed snapshot.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithWriteTimeout bounds each backend write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a store that keeps at most maxMessages messages.
func New(backend Backend, maxMessages int, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		key:          DefaultKey,
		maxMessages:  maxMessages,
		logger:       slog.Default(),
		interval:     DefaultFlushInterval,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.disabled = true
	}
	return s
}

// Run writes changed snapshots every flush interval until ctx is done, then
// writes the last one. Afterwards the store writes synchronously again.
func (s *Store) Run(ctx context.Context) error {
	s.mu.Lock()
	s.behind = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-ctx.Done():
			s.mu.Lock()
			s.behind = false
			s.mu.Unlock()
			s.flush(context.Background())
			return ctx.Err()
		}
	}
}

// Disabled reports whether persistence has been turned off for this session.
func (s *Store) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Load reads the snapshot. It never fails: unreadable or invalid data yields
// the zero State, and a disabled store always returns the zero State.
func (s *Store) Load(ctx context.Context) State {
	if s.Disabled() {
		return State{}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.dirty {
		st := cloneState(s.current)
		s.mu.Unlock()
		return st
	}
	s.mu.Unlock()

	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("store: load failed", slog.Any("err", err))
		}
		data = nil
	}
	var st State
	if data != nil {
		st = decodeState(data, s.maxMessages)
	}
	s.mu.Lock()
	s.current = cloneState(st)
	s.loaded = true
	s.mu.Unlock()
	return st
}

// Save replaces the snapshot, keeping only the newest maxMessages messages.
func (s *Store) Save(ctx context.Context, st State) {
	s.change(ctx, false, func(cur *State) bool {
		*cur = cloneState(st)
		return false
	})
}

// Clear removes the snapshot.
func (s *Store) Clear(ctx context.Context) {
	s.change(ctx, false, func(cur *State) bool {
		*cur = State{}
		return true
	})
}

// Append adds a rendered event to the persisted history.
func (s *Store) Append(ctx context.Context, ev message.Event) {
	s.update(ctx, func(cur *State) { cur.Messages = append(cur.Messages, ev) })
}

// SetConnection records the connected flag and, when connected, the targets.
func (s *Store) SetConnection(ctx context.Context, connected bool, targets *message.Targets) {
	s.update(ctx, func(cur *State) {
		cur.Connected = connected
		if targets != nil {
			cur.Channels = targets.Clone()
		}
	})
}

// ResetHistory drops persisted messages while keeping the rest of the snapshot.
func (s *Store) ResetHistory(ctx context.Context) {
	s.update(ctx, func(cur *State) { cur.Messages = nil })
}

func (s *Store) update(ctx context.Context, fn func(cur *State)) {
	s.change(ctx, true, func(cur *State) bool {
		fn(cur)
		return false
	})
}

// change applies fn to the snapshot and either marks it for Run or writes
// it now. fn returns true when the key should be removed instead. With load
// set, a snapshot never read yet is loaded first so fn edits what is stored.
func (s *Store) change(ctx context.Context, load bool, fn func(cur *State) bool) {
	if s.Disabled() {
		return
	}
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if load && !loaded {
		s.Load(ctx)
	}

	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.removed = fn(&s.current)
	s.current.Messages = newest(s.current.Messages, s.maxMessages)
	s.dirty = true
	behind := s.behind
	s.mu.Unlock()

	if !behind {
		s.flush(ctx)
	}
}

// flush writes the current snapshot if it changed since the last write.
func (s *Store) flush(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty || s.disabled {
		s.mu.Unlock()
		return
	}
	st, removed := cloneState(s.current), s.removed
	s.dirty, s.removed = false, false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if removed {
		if err := s.backend.Remove(ctx, s.key); err != nil && !errors.Is(err, ErrNotFound) {
			s.disable(fmt.Errorf("remove state: %w", err))
		}
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		s.disable(fmt.Errorf("encode state: %w", err))
		return
	}
	if err := s.backend.Set(ctx, s.key, data); err != nil {
		s.disable(fmt.Errorf("write state: %w", err))
	}
}

func (s *Store) disable(err error) {
	s.mu.Lock()
	s.disabled = true
	s.current = State{}
	s.dirty = false
	s.mu.Unlock()
	metrics.SetPersistenceDisabled(true)
	s.logger.Warn("store: persistence disabled for this session", slog.Any("err", err))
}

// decodeState validates each field independently.
func decodeState(data []byte, maxMessages int) State {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}
	}

	var st State
	if v, ok := raw["connected"]; ok {
		var connected bool
		if json.Unmarshal(v, &connected) == nil {
			st.Connected = connected
		}
	}
	if v, ok := raw["channels"]; ok {
		st.Channels = decodeTargets(v)
	}
	if v, ok := raw["messages"]; ok {
		st.Messages = newest(decodeMessages(v), maxMessages)
	}
	return st
}

func decodeTargets(data json.RawMessage) message.Targets {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return message.Targets{}
	}
	var t message.Targets
	for _, p := range message.Platforms {
		v, ok := fields[string(p)]
		if !ok {
			continue
		}
		var slugs []string
		var list []string
		var text string
		if err := json.Unmarshal(v, &list); err == nil {
			slugs = channel.NormalizeList(list, p)
		} else if err := json.Unmarshal(v, &text); err == nil {
			slugs = channel.ParseList(text, p)
		}
		if len(slugs) > 0 {
			t.Set(p, slugs)
		}
	}
	return t
}

func decodeMessages(data json.RawMessage) []message.Event {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil
	}
	var out []message.Event
	for _, item := range items {
		ev, err := message.Decode(item)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func newest(events []message.Event, max int) []message.Event {
	if max > 0 && len(events) > max {
		events = events[len(events)-max:]
	}
	if len(events) == 0 {
		return nil
	}
	return append([]message.Event(nil), events...)
}

func cloneState(st State) State {
	out := State{Connected: st.Connected}
	if st.Channels.Twitch != nil {
		out.Channels.Twitch = append([]string{}, st.Channels.Twitch...)
	}
	if st.Channels.Kick != nil {
		out.Channels.Kick = append([]string{}, st.Channels.Kick...)
	}
	if len(st.Messages) > 0 {
		out.Messages = append([]message.Event(nil), st.Messages...)
	}
	return out
}
