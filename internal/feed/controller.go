// Package feed decides whether an inbound event is rendered now or held
// until the reader returns to the live edge, and keeps the rendered history
// to a rolling window.
package feed

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
)

// View is the rendering side of the feed.
type View interface {
	// Render appends ev at the bottom.
	Render(ev message.Event)
	// Evict removes the n oldest rendered events.
	Evict(n int)
	ScrollToBottom()
	ShowPaused(label string)
	HidePaused()
	Clear()
}

// Sink receives every event that becomes part of the rendered history.
type Sink func(ev message.Event)

// Options tune the controller. Zero fields take the defaults below.
type Options struct {
	MaxMessages int
	BufferLimit int
	UnreadCap   int
	// BottomEpsilon is how far from the bottom, in lines, still counts as
	// being at the bottom.
	BottomEpsilon float64
	// SuppressFor is how long after the controller scrolls the view itself
	// an at-bottom report is taken as the echo of that scroll. Reports away
	// from the bottom are never ignored.
	SuppressFor time.Duration
	Logger      *slog.Logger
}

const (
	DefaultMaxMessages   = 200
	DefaultBufferLimit   = 300
	DefaultUnreadCap     = 99
	DefaultBottomEpsilon = 2
	DefaultSuppressFor   = 150 * time.Millisecond
)

// Outcome is what Ingest did with an event.
type Outcome int

const (
	Rendered Outcome = iota
	Buffered
)

// Controller owns the rendered history and the pending buffer.
type Controller struct {
	opts Options
	view View
	sink Sink
	now  func() time.Time
	log  *slog.Logger

	history []message.Event
	pending []message.Event
	paused  bool
	unread  int

	distance      float64
	suppressUntil time.Time
}

// New creates a controller that starts at the bottom, unpaused. view and
// sink may be nil.
func New(view View, sink Sink, opts Options) *Controller {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.BufferLimit <= 0 {
		opts.BufferLimit = DefaultBufferLimit
	}
	if opts.UnreadCap <= 0 {
		opts.UnreadCap = DefaultUnreadCap
	}
	if opts.BottomEpsilon <= 0 {
		opts.BottomEpsilon = DefaultBottomEpsilon
	}
	if opts.SuppressFor <= 0 {
		opts.SuppressFor = DefaultSuppressFor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if view == nil {
		view = nopView{}
	}
	if sink == nil {
		sink = func(message.Event) {}
	}
	return &Controller{opts: opts, view: view, sink: sink, now: time.Now, log: opts.Logger}
}

// Ingest renders ev when the view is at the bottom and not paused;
// otherwise ev waits in the pending buffer.
func (c *Controller) Ingest(ev message.Event) Outcome {
	if c.paused || !c.AtBottom() {
		c.paused = true
		c.hold(ev)
		c.unread++
		metrics.SetUnread(c.unread)
		c.view.ShowPaused(c.Label())
		return Buffered
	}
	c.render(ev)
	c.sink(ev)
	c.scrollToBottom()
	return Rendered
}

// Scroll reports the view's distance from the bottom, in lines, after a user
// scroll. Reaching the bottom flushes; leaving it pauses without touching
// anything already rendered.
func (c *Controller) Scroll(distance float64) {
	if distance < 0 {
		distance = 0
	}
	if distance <= c.opts.BottomEpsilon && c.now().Before(c.suppressUntil) {
		return
	}
	c.distance = distance
	if c.AtBottom() {
		if c.paused || len(c.pending) > 0 {
			c.Flush()
		}
		return
	}
	if !c.paused {
		c.paused = true
		c.view.ShowPaused(c.Label())
	}
}

// Flush renders every pending event in arrival order and snaps to the
// bottom. It returns how many events were flushed.
func (c *Controller) Flush() int {
	n := len(c.pending)
	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		c.render(ev)
		c.sink(ev)
	}
	c.unread = 0
	c.paused = false
	metrics.SetUnread(0)
	c.view.HidePaused()
	c.scrollToBottom()
	if n > 0 {
		c.log.Debug("feed: flushed pending events", slog.Int("count", n))
	}
	return n
}

// Replay renders events restored from storage. They are not passed to the
// sink since they are already persisted.
func (c *Controller) Replay(events []message.Event) {
	for _, ev := range events {
		c.render(ev)
	}
	c.scrollToBottom()
}

// Clear drops the history and the pending buffer and returns to the bottom.
func (c *Controller) Clear() {
	c.history = nil
	c.pending = nil
	c.unread = 0
	c.paused = false
	c.distance = 0
	metrics.SetUnread(0)
	c.view.Clear()
	c.view.HidePaused()
}

// AtBottom reports whether the last known scroll position counts as the
// live edge.
func (c *Controller) AtBottom() bool {
	return c.distance <= c.opts.BottomEpsilon
}

func (c *Controller) Paused() bool { return c.paused }
func (c *Controller) Unread() int  { return c.unread }

// History returns a copy of the rendered events, oldest first.
func (c *Controller) History() []message.Event {
	return append([]message.Event(nil), c.history...)
}

// Pending returns a copy of the buffered events, oldest first.
func (c *Controller) Pending() []message.Event {
	return append([]message.Event(nil), c.pending...)
}

// Find returns the rendered event with the given id.
func (c *Controller) Find(id string) (message.Event, bool) {
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i], true
		}
	}
	return message.Event{}, false
}

// Label is the pause indicator text.
func (c *Controller) Label() string {
	switch {
	case c.unread == 0:
		return "Chat paused"
	case c.unread == 1:
		return "1 new message"
	case c.unread > c.opts.UnreadCap:
		return fmt.Sprintf("%d+ new messages", c.opts.UnreadCap)
	default:
		return fmt.Sprintf("%d new messages", c.unread)
	}
}

func (c *Controller) hold(ev message.Event) {
	if len(c.pending) >= c.opts.BufferLimit {
		drop := len(c.pending) - c.opts.BufferLimit + 1
		c.pending = append(c.pending[:0:0], c.pending[drop:]...)
		for i := 0; i < drop; i++ {
			metrics.Dropped()
		}
	}
	c.pending = append(c.pending, ev)
	metrics.Buffered()
}

func (c *Controller) render(ev message.Event) {
	c.view.Render(ev)
	c.history = append(c.history, ev)
	metrics.Rendered()
	if over := len(c.history) - c.opts.MaxMessages; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
		c.view.Evict(over)
		for i := 0; i < over; i++ {
			metrics.Evicted()
		}
	}
}

// scrollToBottom moves the view itself. The at-bottom report it may echo
// is ignored for a short while.
func (c *Controller) scrollToBottom() {
	c.distance = 0
	c.suppressUntil = c.now().Add(c.opts.SuppressFor)
	c.view.ScrollToBottom()
}

type nopView struct{}

func (nopView) Render(message.Event) {}
func (nopView) Evict(int)            {}
func (nopView) ScrollToBottom()      {}
func (nopView) ShowPaused(string)    {}
func (nopView) HidePaused()          {}
func (nopView) Clear()               {}
