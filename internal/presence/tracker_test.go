package presence

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/john/combinedchat/internal/message"
)

func status(p message.Platform, ch, text string) message.Event {
	return message.Event{Kind: message.KindStatus, Platform: p, Channel: ch, Message: text}
}

func TestConnectedToFoo(t *testing.T) {
	tr := New()
	tr.Begin(message.Targets{Twitch: []string{"foo"}})

	if !tr.Observe(status(message.Twitch, "foo", "Connected to foo")) {
		t.Fatalf("expected a presence change")
	}
	if got := tr.Connected(message.Twitch); !reflect.DeepEqual(got, []string{"foo"}) {
		t.Fatalf("expected connected twitch [foo], got %v", got)
	}
	if tr.Observe(status(message.Twitch, "foo", "Connected to foo")) {
		t.Fatalf("repeated join must not report a change")
	}
}

func TestClassifyBackendStatusLines(t *testing.T) {
	attempted := message.Targets{Twitch: []string{"foo"}, Kick: []string{"bar-baz"}}
	cases := []struct {
		name   string
		ev     message.Event
		want   Change
		wantOK bool
	}{
		{"twitch listening", status(message.Twitch, "", "Listening to Twitch chat for #foo"), Change{message.Twitch, "foo", true}, true},
		{"kick connected", status(message.Kick, "", "Connected to Kick chat for bar_baz"), Change{message.Kick, "bar-baz", true}, true},
		{"kick disconnected", status(message.Kick, "", "Disconnected from Kick chat for bar-baz"), Change{message.Kick, "bar-baz", false}, true},
		{"stopped listening", status(message.Twitch, "", "Stopped listening to foo"), Change{message.Twitch, "foo", false}, true},
		{"platform from text", status("", "", "Connected to Kick chat for bar-baz"), Change{message.Kick, "bar-baz", true}, true},
		{"no channel named, single attempt", status(message.Twitch, "", "Connected to Twitch chat"), Change{message.Twitch, "foo", true}, true},
		{"unrelated status", status(message.Twitch, "", "Slow mode enabled"), Change{}, false},
		{"chat kind ignored", message.Event{Kind: message.KindChat, Platform: message.Twitch, Message: "connected to foo"}, Change{}, false},
	}
	for _, c := range cases {
		got, ok := Classify(c.ev, attempted, message.Targets{})
		if ok != c.wantOK || got != c.want {
			t.Fatalf("%s: expected %+v/%v, got %+v/%v", c.name, c.want, c.wantOK, got, ok)
		}
	}
}

func TestErrorLeavesOnlyJoinedChannel(t *testing.T) {
	tr := New()
	tr.Begin(message.Targets{Twitch: []string{"foo", "bar"}})
	tr.Observe(status(message.Twitch, "foo", "Connected to foo"))

	if tr.Observe(message.Event{Kind: message.KindError, Platform: message.Twitch, Channel: "bar", Message: "Failed to join bar"}) {
		t.Fatalf("error for a channel that is not joined must not change presence")
	}
	if !tr.Observe(message.Event{Kind: message.KindError, Platform: message.Twitch, Channel: "foo", Message: "Connection lost"}) {
		t.Fatalf("expected error to mark foo as left")
	}
	if len(tr.Connected(message.Twitch)) != 0 {
		t.Fatalf("expected no connected channels, got %v", tr.Connected(message.Twitch))
	}
	if got := tr.Dropped(message.Twitch); !reflect.DeepEqual(got, []string{"foo"}) {
		t.Fatalf("expected foo dropped, got %v", got)
	}
}

func TestBeginResetsOnlyOnChangedTargets(t *testing.T) {
	tr := New()
	targets := message.Targets{Twitch: []string{"foo"}}
	tr.Begin(targets)
	tr.Observe(status(message.Twitch, "foo", "Connected to foo"))

	tr.Begin(targets)
	if len(tr.Connected(message.Twitch)) != 0 {
		t.Fatalf("reconnect must clear live presence")
	}
	if got := tr.EverConnected(message.Twitch); !reflect.DeepEqual(got, []string{"foo"}) {
		t.Fatalf("reconnect to same targets keeps ever-connected, got %v", got)
	}

	tr.Begin(message.Targets{Kick: []string{"bar"}})
	if len(tr.EverConnected(message.Twitch)) != 0 {
		t.Fatalf("new targets must reset ever-connected")
	}
}

func TestSummary(t *testing.T) {
	tr := New()
	tr.Begin(message.Targets{Twitch: []string{"foo"}, Kick: []string{"bar"}})
	tr.Observe(status(message.Twitch, "foo", "Connected to foo"))
	tr.Observe(status(message.Kick, "bar", "Connected to bar"))
	if got := tr.Summary(); got != "twitch: foo; kick: bar" {
		t.Fatalf("unexpected summary %q", got)
	}
	tr.Reset()
	if tr.Summary() != "" {
		t.Fatalf("expected empty summary after reset")
	}
}

func TestConnectedSubsetOfEverConnected(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	channels := []string{"a", "b", "c", "d"}
	texts := []string{"Connected to", "Listening to", "Disconnected from", "Stopped listening to", "Left"}
	tr := New()

	for i := 0; i < 3000; i++ {
		p := message.Platforms[rng.Intn(len(message.Platforms))]
		ch := channels[rng.Intn(len(channels))]
		switch rng.Intn(10) {
		case 0:
			tr.Begin(message.Targets{Twitch: channels[:rng.Intn(4)+1]})
		case 1:
			tr.Reset()
		case 2:
			tr.Observe(message.Event{Kind: message.KindError, Platform: p, Channel: ch, Message: "boom"})
		default:
			tr.Observe(status(p, ch, texts[rng.Intn(len(texts))]+" "+ch))
		}

		for _, pl := range message.Platforms {
			ever := tr.EverConnected(pl)
			for _, c := range tr.Connected(pl) {
				found := false
				for _, e := range ever {
					if e == c {
						found = true
					}
				}
				if !found {
					t.Fatalf("step %d: %s/%s connected but not ever-connected", i, pl, c)
				}
			}
		}
	}
}
