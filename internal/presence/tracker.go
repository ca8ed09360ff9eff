// Package presence infers which (platform, channel) pairs are joined on the
// backend from the status and error lines it sends.
package presence

import (
	"fmt"
	"strings"

	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
)

// Snapshot is a copy of the tracker's sets.
type Snapshot struct {
	Connected     message.Targets `json:"connected"`
	EverConnected message.Targets `json:"ever_connected"`
	Attempted     message.Targets `json:"attempted"`
}

// Tracker keeps, per platform, the channels currently joined, every channel
// joined since the last reset, and the channels of the last connect attempt.
// Connected is always a subset of EverConnected.
type Tracker struct {
	connected message.Targets
	ever      message.Targets
	attempted message.Targets
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Begin starts a connect attempt. Changed targets reset everything; the same
// targets keep the ever-connected history and only drop live presence.
func (t *Tracker) Begin(targets message.Targets) {
	if !targets.Equal(t.attempted) {
		t.Reset()
	} else {
		t.connected = message.Targets{}
		t.publish()
	}
	t.attempted = targets.Clone()
}

// Reset clears all sets.
func (t *Tracker) Reset() {
	t.connected = message.Targets{}
	t.ever = message.Targets{}
	t.attempted = message.Targets{}
	t.publish()
}

// Observe applies a status or error event and reports whether any set changed.
func (t *Tracker) Observe(ev message.Event) bool {
	var change Change
	var ok bool
	switch ev.Kind {
	case message.KindStatus:
		change, ok = Classify(ev, t.attempted, t.connected)
	case message.KindError:
		change, ok = classifyError(ev, t.connected)
	}
	if !ok {
		return false
	}

	p, ch := change.Platform, change.Channel
	changed := false
	if change.Joined {
		changed = add(&t.connected, p, ch)
		if add(&t.ever, p, ch) {
			changed = true
		}
	} else {
		changed = remove(&t.connected, p, ch)
	}
	if changed {
		t.publish()
	}
	return changed
}

// Connected lists channels currently joined on p.
func (t *Tracker) Connected(p message.Platform) []string {
	return append([]string(nil), t.connected.Get(p)...)
}

// EverConnected lists channels joined on p since the last reset.
func (t *Tracker) EverConnected(p message.Platform) []string {
	return append([]string(nil), t.ever.Get(p)...)
}

// Attempted lists channels the last connect attempt targeted on p.
func (t *Tracker) Attempted(p message.Platform) []string {
	return append([]string(nil), t.attempted.Get(p)...)
}

// IsConnected reports whether ch is joined on p.
func (t *Tracker) IsConnected(p message.Platform, ch string) bool {
	return t.connected.Contains(p, ch)
}

// Dropped lists channels on p that were joined at some point but are not now.
func (t *Tracker) Dropped(p message.Platform) []string {
	var out []string
	for _, ch := range t.ever.Get(p) {
		if !t.connected.Contains(p, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Snapshot copies the current sets.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		Connected:     t.connected.Clone(),
		EverConnected: t.ever.Clone(),
		Attempted:     t.attempted.Clone(),
	}
}

// Summary describes every channel joined since the last reset, for example
// "twitch: foo, bar; kick: baz". It is empty when nothing was joined.
func (t *Tracker) Summary() string {
	var parts []string
	for _, p := range message.Platforms {
		if chans := t.ever.Get(p); len(chans) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", p, strings.Join(chans, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

func (t *Tracker) publish() {
	for _, p := range message.Platforms {
		metrics.SetPresence(string(p), len(t.connected.Get(p)))
	}
}

func add(set *message.Targets, p message.Platform, ch string) bool {
	if set.Contains(p, ch) {
		return false
	}
	set.Set(p, append(set.Get(p), ch))
	return true
}

func remove(set *message.Targets, p message.Platform, ch string) bool {
	list := set.Get(p)
	for i, c := range list {
		if c == ch {
			out := append(append([]string(nil), list[:i]...), list[i+1:]...)
			set.Set(p, out)
			return true
		}
	}
	return false
}
