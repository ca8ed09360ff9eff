// Package client runs the chat core: one loop that owns the session, the
// feed, presence, the reply context and the store, and turns renderer
// intents and transport events into state changes.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/feed"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
	"github.com/john/combinedchat/internal/presence"
	"github.com/john/combinedchat/internal/session"
	"github.com/john/combinedchat/internal/store"
)

// Renderer draws the feed and the controls around it. All calls are made
// from the client loop.
type Renderer interface {
	feed.View
	Connection(state session.State, targets message.Targets)
	Presence(snap presence.Snapshot)
	ComposeOptions(options []compose.Target, reply *compose.ReplyTarget)
	ComposeBusy(busy bool)
	Auth(status backend.AuthStatus)
}

// API is the part of the backend client the loop calls.
type API interface {
	SendAll(ctx context.Context, reqs []backend.SendRequest) []backend.SendResult
	Moderate(ctx context.Context, req backend.ModerateRequest) error
	AuthStatus(ctx context.Context) (backend.AuthStatus, error)
	Logout(ctx context.Context) error
}

// Options configures a Client.
type Options struct {
	Feed   feed.Options
	Logger *slog.Logger
	// OnRender is called for every event added to the rendered history,
	// after it has been persisted.
	OnRender func(message.Event)
	// NoResume skips reconnecting from persisted state on start.
	NoResume bool
}

// Client is the explicit session object. Its exported methods may be called
// from any goroutine; they queue work for Run.
type Client struct {
	sess     *session.Session
	api      API
	store    *store.Store
	renderer Renderer
	logger   *slog.Logger
	onRender func(message.Event)
	noResume bool

	feed     *feed.Controller
	presence *presence.Tracker
	compose  *compose.Context

	intents chan func()
	done    chan struct{}
	ctx     context.Context

	targets message.Targets
	auth    backend.AuthStatus
	sending bool
	resumed bool
}

// New wires the core. st may be a disabled store; renderer must not be nil.
func New(sess *session.Session, api API, st *store.Store, renderer Renderer, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if st == nil {
		st = store.New(nil, opts.Feed.MaxMessages)
	}
	c := &Client{
		sess:     sess,
		api:      api,
		store:    st,
		renderer: renderer,
		logger:   opts.Logger,
		onRender: opts.OnRender,
		noResume: opts.NoResume,
		presence: presence.New(),
		compose:  compose.New(),
		intents:  make(chan func(), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	if opts.Feed.Logger == nil {
		opts.Feed.Logger = opts.Logger
	}
	c.feed = feed.New(renderer, c.persist, opts.Feed)
	return c
}

// Run restores persisted state and processes events until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.sess.Close()

	c.restore()
	c.refreshAuth()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.sess.Events():
			c.handleTransport(ev)
		case fn := <-c.intents:
			fn()
		}
	}
}

func (c *Client) enqueue(fn func()) {
	select {
	case c.intents <- fn:
	case <-c.done:
	}
}

// Connect subscribes to targets, replacing any current connection.
func (c *Client) Connect(targets message.Targets) {
	targets = targets.Clone()
	c.enqueue(func() { c.connect(targets, false) })
}

// Disconnect closes the connection. Cleanup happens when the close lands.
func (c *Client) Disconnect() {
	c.enqueue(func() {
		if c.sess.TransportID() == "" {
			return
		}
		c.sess.Disconnect()
		c.renderer.Connection(c.sess.State(), c.targets)
	})
}

// Resume reconnects to the last channels without clearing history. It does
// nothing while a connection is open or being opened.
func (c *Client) Resume() {
	c.enqueue(func() {
		if c.sess.Active() {
			return
		}
		if c.targets.Empty() {
			c.notice(message.KindStatus, "", "Nothing to reconnect to.")
			return
		}
		c.connect(c.targets, true)
	})
}

// Scroll reports the view's distance from the bottom after a user scroll.
func (c *Client) Scroll(distance float64) {
	c.enqueue(func() { c.feed.Scroll(distance) })
}

// ResumeFeed flushes buffered events and returns to the live edge.
func (c *Client) ResumeFeed() {
	c.enqueue(func() { c.feed.Flush() })
}

// Reply pins the rendered event with the given id as the reply target.
func (c *Client) Reply(id string) {
	c.enqueue(func() {
		ev, ok := c.feed.Find(id)
		if !ok {
			ev = message.Event{ID: ""}
		}
		c.reply(ev)
	})
}

// ReplyTo pins ev as the reply target.
func (c *Client) ReplyTo(ev message.Event) {
	c.enqueue(func() { c.reply(ev) })
}

// CancelReply clears the reply target.
func (c *Client) CancelReply() {
	c.enqueue(func() {
		if c.compose.Clear() {
			c.refreshOptions()
		}
	})
}

// Send sends text to targets. No targets means every available option.
func (c *Client) Send(text string, targets []compose.Target) {
	targets = append([]compose.Target(nil), targets...)
	c.enqueue(func() { c.send(text, targets) })
}

// Moderate applies a moderation action.
func (c *Client) Moderate(req backend.ModerateRequest) {
	c.enqueue(func() { c.moderate(req) })
}

// RefreshAuth reloads the login status.
func (c *Client) RefreshAuth() {
	c.enqueue(c.refreshAuth)
}

// Logout ends the backend login session.
func (c *Client) Logout() {
	c.enqueue(c.logout)
}

// restore replays persisted history and, if the last session was connected,
// reconnects once to the same channels without clearing history.
func (c *Client) restore() {
	st := c.store.Load(c.ctx)
	c.targets = st.Channels.Clone()
	if len(st.Messages) > 0 {
		c.feed.Replay(st.Messages)
	}
	c.renderer.Connection(c.sess.State(), c.targets)
	if c.noResume || !st.Connected || st.Channels.Empty() {
		return
	}
	if c.resumed || c.sess.Active() {
		return
	}
	c.resumed = true
	c.logger.Info("client: resuming previous session",
		slog.Any("twitch", st.Channels.Twitch),
		slog.Any("kick", st.Channels.Kick))
	c.connect(st.Channels, true)
}

func (c *Client) connect(targets message.Targets, resume bool) {
	if targets.Empty() {
		c.notice(message.KindError, "", "Add at least one Twitch or Kick channel before connecting.")
		return
	}
	if !resume && !targets.Equal(c.targets) {
		c.feed.Clear()
		c.store.ResetHistory(c.ctx)
	}
	c.targets = targets.Clone()
	c.compose.Clear()
	c.presence.Begin(targets)

	if _, err := c.sess.Connect(c.ctx, targets); err != nil {
		c.notice(message.KindError, "", fmt.Sprintf("Could not connect: %v", err))
		return
	}
	c.renderer.Connection(c.sess.State(), c.targets)
	c.presenceChanged()
}

func (c *Client) handleTransport(ev session.Event) {
	res := c.sess.Dispatch(ev)
	switch res.Outcome {
	case session.Established:
		targets := res.Targets
		c.store.SetConnection(c.ctx, true, &targets)
		c.renderer.Connection(session.Open, targets)
		c.refreshOptions()
	case session.Received:
		c.receive(res.Event)
	case session.Terminated:
		c.closed(res.Err)
	}
}

func (c *Client) receive(ev message.Event) {
	if ev.Kind == message.KindStatus || ev.Kind == message.KindError {
		if c.presence.Observe(ev) {
			c.presenceChanged()
		}
	}
	c.feed.Ingest(ev)
}

func (c *Client) closed(err error) {
	if summary := c.presence.Summary(); summary != "" {
		c.notice(message.KindStatus, "", "Disconnected from "+summary)
	} else if err == nil {
		c.notice(message.KindStatus, "", "Disconnected")
	}
	if err != nil {
		c.notice(message.KindError, "", fmt.Sprintf("Connection lost: %v", err))
	}
	c.presence.Reset()
	c.compose.Clear()
	c.store.SetConnection(c.ctx, false, nil)
	c.renderer.Connection(c.sess.State(), c.targets)
	c.presenceChanged()
}

func (c *Client) reply(ev message.Event) {
	if err := c.compose.SetTarget(ev); err != nil {
		c.notice(message.KindStatus, ev.Platform, "This message cannot be replied to.")
		return
	}
	c.refreshOptions()
}

func (c *Client) options() ([]compose.Target, *compose.ReplyTarget) {
	var reply *compose.ReplyTarget
	if r, ok := c.compose.Current(); ok {
		reply = &r
	}
	connected := c.presence.Snapshot().Connected
	return compose.Options(connected, c.auth.Linked(), reply), reply
}

func (c *Client) refreshOptions() {
	opts, reply := c.options()
	c.renderer.ComposeOptions(opts, reply)
}

func (c *Client) presenceChanged() {
	c.renderer.Presence(c.presence.Snapshot())
	c.refreshOptions()
}

func (c *Client) send(text string, targets []compose.Target) {
	if c.sending {
		c.notice(message.KindStatus, "", "Still sending the previous message.")
		return
	}
	opts, reply := c.options()
	if len(targets) == 0 {
		targets = opts
	}
	text, err := compose.Validate(text, targets, opts, reply)
	if err != nil {
		c.notice(message.KindError, "", sendProblem(err))
		return
	}

	reqs := make([]backend.SendRequest, len(targets))
	for i, t := range targets {
		reqs[i] = backend.SendRequest{Platform: t.Platform, Channel: t.Channel, Message: text}
		if reply != nil {
			reqs[i].ReplyToMessageID = reply.MessageID
		}
	}

	c.sending = true
	c.renderer.ComposeBusy(true)
	ctx := c.ctx
	go func() {
		results := c.api.SendAll(ctx, reqs)
		c.enqueue(func() { c.sent(results, reply != nil) })
	}()
}

func (c *Client) sent(results []backend.SendResult, wasReply bool) {
	c.sending = false
	c.renderer.ComposeBusy(false)

	var ok, failed []string
	for _, r := range results {
		target := compose.Target{Platform: r.Request.Platform, Channel: r.Request.Channel}.String()
		metrics.SendResult(string(r.Request.Platform), r.Err == nil)
		if r.Err != nil {
			c.logger.Warn("client: send failed", slog.String("target", target), slog.Any("err", r.Err))
			failed = append(failed, fmt.Sprintf("%s (%s)", target, Describe(r.Err)))
			continue
		}
		ok = append(ok, target)
	}

	switch {
	case len(failed) == 0:
		if wasReply && c.compose.Clear() {
			c.refreshOptions()
		}
	case len(ok) == 0:
		c.notice(message.KindError, "", "Failed to send to "+strings.Join(failed, "; "))
	default:
		c.notice(message.KindError, "", fmt.Sprintf("Sent to %s; failed for %s",
			strings.Join(ok, ", "), strings.Join(failed, "; ")))
	}
}

func (c *Client) moderate(req backend.ModerateRequest) {
	if err := req.Validate(); err != nil {
		c.notice(message.KindError, req.Platform, fmt.Sprintf("Cannot %s: %v", req.Action, err))
		return
	}
	ctx := c.ctx
	go func() {
		err := c.api.Moderate(ctx, req)
		c.enqueue(func() {
			metrics.ModerationResult(string(req.Action), err == nil)
			if err != nil {
				c.notice(message.KindError, req.Platform, fmt.Sprintf("Could not %s %s: %s", req.Action, req.TargetUser, Describe(err)))
				return
			}
			c.notice(message.KindStatus, req.Platform, moderationDone(req))
		})
	}()
}

func (c *Client) refreshAuth() {
	ctx := c.ctx
	go func() {
		st, err := c.api.AuthStatus(ctx)
		c.enqueue(func() {
			if err != nil {
				c.logger.Warn("client: auth status failed", slog.Any("err", err))
				c.notice(message.KindError, "", "Could not load login status: "+Describe(err))
				return
			}
			c.auth = st
			c.renderer.Auth(st)
			c.refreshOptions()
		})
	}()
}

func (c *Client) logout() {
	ctx := c.ctx
	go func() {
		err := c.api.Logout(ctx)
		c.enqueue(func() {
			if err != nil {
				c.notice(message.KindError, "", "Logout failed: "+Describe(err))
				return
			}
			c.auth = backend.AuthStatus{}
			c.compose.Clear()
			c.renderer.Auth(c.auth)
			c.refreshOptions()
			c.notice(message.KindStatus, "", "Logged out.")
		})
	}()
}

// persist is the feed sink.
func (c *Client) persist(ev message.Event) {
	c.store.Append(c.ctx, ev)
	if c.onRender != nil {
		c.onRender(ev)
	}
}

// notice adds a locally generated line to the feed.
func (c *Client) notice(kind message.Kind, p message.Platform, text string) {
	ev := message.Status(p, text)
	if kind == message.KindError {
		ev = message.Error(p, text)
	}
	c.feed.Ingest(ev)
}

// Describe turns an error into text for the feed.
func Describe(err error) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

func sendProblem(err error) string {
	switch {
	case errors.Is(err, compose.ErrEmptyMessage):
		return "Type a message first."
	case errors.Is(err, compose.ErrNoTarget):
		return "No connected channel with a linked account to send to."
	case errors.Is(err, compose.ErrCrossPost):
		return "A reply can only be sent to the channel it came from."
	}
	return "Cannot send: " + err.Error()
}

func moderationDone(req backend.ModerateRequest) string {
	where := compose.Target{Platform: req.Platform, Channel: req.Channel}
	switch req.Action {
	case backend.Ban:
		return fmt.Sprintf("Banned %s in %s.", req.TargetUser, where)
	case backend.Timeout:
		return fmt.Sprintf("Timed out %s in %s for %ds.", req.TargetUser, where, req.DurationSeconds)
	case backend.Unban:
		return fmt.Sprintf("Unbanned %s in %s.", req.TargetUser, where)
	default:
		return fmt.Sprintf("Removed timeout for %s in %s.", req.TargetUser, where)
	}
}
