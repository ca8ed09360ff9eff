// Package compose holds the reply pointer and the rules for where an
// outgoing message may go.
package compose

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/message"
)

// MaxMessageLength is the longest message the backend accepts, in runes.
const MaxMessageLength = 500

var (
	ErrNotRepliable = errors.New("this message cannot be replied to")
	ErrEmptyMessage = errors.New("message is empty")
	ErrTooLong      = fmt.Errorf("message is longer than %d characters", MaxMessageLength)
	ErrNoTarget     = errors.New("no channel selected")
	ErrNotConnected = errors.New("channel is not connected")
	ErrCrossPost    = errors.New("a reply can only be sent to the channel it came from")
)

// Target is one place a message can be sent.
type Target struct {
	Platform message.Platform `json:"platform"`
	Channel  string           `json:"channel"`
}

func (t Target) String() string {
	return string(t.Platform) + ":" + t.Channel
}

// ParseTarget reads "platform:channel".
func ParseTarget(s string) (Target, error) {
	p, ch, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || ch == "" {
		return Target{}, fmt.Errorf("parse target %q: want platform:channel", s)
	}
	platform := message.Platform(strings.ToLower(p))
	if !platform.Valid() {
		return Target{}, fmt.Errorf("parse target %q: unknown platform", s)
	}
	slug := channel.Normalize(platform, ch)
	if slug == "" {
		return Target{}, fmt.Errorf("parse target %q: empty channel", s)
	}
	return Target{Platform: platform, Channel: slug}, nil
}

// ReplyTarget is a copy of the event being replied to, taken when it was
// selected. It stays valid after the event leaves the history.
type ReplyTarget struct {
	Platform  message.Platform `json:"platform"`
	Channel   string           `json:"channel"`
	MessageID string           `json:"message_id"`
	Username  string           `json:"username"`
	UserID    string           `json:"user_id,omitempty"`
	Message   string           `json:"message"`
	Emotes    []message.Emote  `json:"emotes,omitempty"`
}

// Target returns where the reply must be sent.
func (r ReplyTarget) Target() Target {
	return Target{Platform: r.Platform, Channel: r.Channel}
}

// Context tracks the optional reply target.
type Context struct {
	reply *ReplyTarget
}

// New returns a context with no reply target.
func New() *Context {
	return &Context{}
}

// SetTarget pins ev as the reply target. Events without an id are refused
// and leave the context unchanged.
func (c *Context) SetTarget(ev message.Event) error {
	if !ev.Repliable() || !ev.Platform.Valid() || ev.Channel == "" {
		return ErrNotRepliable
	}
	c.reply = &ReplyTarget{
		Platform:  ev.Platform,
		Channel:   ev.Channel,
		MessageID: strings.TrimSpace(ev.ID),
		Username:  ev.User,
		UserID:    ev.UserID,
		Message:   ev.Message,
		Emotes:    copyEmotes(ev.Emotes),
	}
	return nil
}

// Clear drops the reply target and reports whether one was set.
func (c *Context) Clear() bool {
	had := c.reply != nil
	c.reply = nil
	return had
}

// Current returns a copy of the reply target.
func (c *Context) Current() (ReplyTarget, bool) {
	if c.reply == nil {
		return ReplyTarget{}, false
	}
	r := *c.reply
	r.Emotes = copyEmotes(r.Emotes)
	return r, true
}

// Options lists the targets a message can be sent to: channels currently
// joined on a platform with a linked account. A reply narrows the list to
// the reply's own channel.
func Options(connected message.Targets, linked map[message.Platform]bool, reply *ReplyTarget) []Target {
	var out []Target
	for _, p := range message.Platforms {
		if !linked[p] {
			continue
		}
		for _, ch := range connected.Get(p) {
			t := Target{Platform: p, Channel: ch}
			if reply != nil && t != reply.Target() {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// Validate checks an outgoing message before any request is made and
// returns the trimmed text.
func Validate(text string, targets, options []Target, reply *ReplyTarget) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrTooLong
	}
	if len(targets) == 0 {
		return "", ErrNoTarget
	}
	if reply != nil && (len(targets) != 1 || targets[0] != reply.Target()) {
		return "", ErrCrossPost
	}
	for _, t := range targets {
		if !contains(options, t) {
			return "", fmt.Errorf("%s: %w", t, ErrNotConnected)
		}
	}
	return text, nil
}

func contains(list []Target, t Target) bool {
	for _, o := range list {
		if o == t {
			return true
		}
	}
	return false
}

func copyEmotes(in []message.Emote) []message.Emote {
	if len(in) == 0 {
		return nil
	}
	out := make([]message.Emote, len(in))
	for i, e := range in {
		out[i] = e
		out[i].Positions = append([][2]int(nil), e.Positions...)
	}
	return out
}
