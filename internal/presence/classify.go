package presence

import (
	"regexp"
	"strings"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/message"
)

// The backend reports joins and parts only as prose, so intent is read from
// the text. Left phrases are tried first: "stopped listening to" also
// contains a joined phrase.
var (
	leftPattern   = regexp.MustCompile(`(?i)\b(disconnected from|stopped listening to|left|parted)\b`)
	joinedPattern = regexp.MustCompile(`(?i)\b(connected to|listening to|joined)\b`)
)

// Words that end a status line without naming a channel.
var noChannel = map[string]bool{
	"chat": true, "channel": true, "twitch": true, "kick": true, "irc": true, "websocket": true,
}

// Change is one inferred presence transition.
type Change struct {
	Platform message.Platform
	Channel  string
	Joined   bool
}

// Classify infers a presence change from a status line. attempted and
// connected resolve lines that do not name their channel.
func Classify(ev message.Event, attempted, connected message.Targets) (Change, bool) {
	if ev.Kind != message.KindStatus {
		return Change{}, false
	}
	p := platformOf(ev)
	if p == "" {
		return Change{}, false
	}

	var joined bool
	var rest string
	if loc := leftPattern.FindStringIndex(ev.Message); loc != nil {
		rest = ev.Message[loc[1]:]
	} else if loc := joinedPattern.FindStringIndex(ev.Message); loc != nil {
		joined = true
		rest = ev.Message[loc[1]:]
	} else {
		return Change{}, false
	}

	ch := resolve(p, ev.Channel, rest, attempted.Get(p), attempted, connected)
	if ch == "" {
		return Change{}, false
	}
	return Change{Platform: p, Channel: ch, Joined: joined}, true
}

// classifyError finds the joined channel an error line refers to.
func classifyError(ev message.Event, connected message.Targets) (Change, bool) {
	if ev.Kind != message.KindError {
		return Change{}, false
	}
	p := platformOf(ev)
	if p == "" {
		return Change{}, false
	}
	joined := connected.Get(p)
	ch := resolve(p, ev.Channel, ev.Message, joined, connected, connected)
	if ch == "" || !connected.Contains(p, ch) {
		return Change{}, false
	}
	return Change{Platform: p, Channel: ch}, true
}

// resolve picks the channel a line is about: the explicit field, else the
// last word of the text when it is a plausible slug, else the only
// fallback channel.
func resolve(p message.Platform, field, text string, fallback []string, known ...message.Targets) string {
	if ch := channel.Normalize(p, field); ch != "" {
		return ch
	}
	if ch := lastWord(p, text); ch != "" {
		for _, k := range known {
			if k.Contains(p, ch) {
				return ch
			}
		}
		if len(fallback) == 0 {
			return ch
		}
	}
	if len(fallback) == 1 {
		return fallback[0]
	}
	return ""
}

func lastWord(p message.Platform, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	word := strings.TrimRight(fields[len(fields)-1], ".!:,;")
	ch := channel.Normalize(p, word)
	if noChannel[ch] {
		return ""
	}
	return ch
}

// platformOf uses the event's platform, else a platform named in the text.
func platformOf(ev message.Event) message.Platform {
	if ev.Platform.Valid() {
		return ev.Platform
	}
	text := strings.ToLower(ev.Message)
	for _, p := range message.Platforms {
		if strings.Contains(text, string(p)) {
			return p
		}
	}
	return ""
}
