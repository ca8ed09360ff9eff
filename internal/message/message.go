package message

import (
	"encoding/json"
	"errors"
	"strings"
)

// Platform identifies an upstream chat service.
type Platform string

const (
	Twitch Platform = "twitch"
	Kick   Platform = "kick"
)

// Platforms lists the supported platforms in display order.
var Platforms = []Platform{Twitch, Kick}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	return p == Twitch || p == Kick
}

// Kind is the event tag sent by the backend in the "type" field.
type Kind string

const (
	KindChat   Kind = "chat"
	KindStatus Kind = "status"
	KindError  Kind = "error"
)

// ErrNoKind is returned by Decode for a frame without a "type".
var ErrNoKind = errors.New("frame has no type")

// Event represents one inbound frame from the backend. Kinds other than
// chat, status and error are carried through untouched: Raw keeps the frame
// and marshalling writes it back as it arrived.
type Event struct {
	Kind                Kind          `json:"type"`
	Platform            Platform      `json:"platform,omitempty"`
	Channel             string        `json:"channel,omitempty"`
	ID                  string        `json:"id,omitempty"`
	User                string        `json:"user,omitempty"`
	UserID              string        `json:"user_id,omitempty"`
	Message             string        `json:"message,omitempty"`
	Color               string        `json:"color,omitempty"`
	Badges              []Badge       `json:"badges,omitempty"`
	Emotes              []Emote       `json:"emotes,omitempty"`
	Reply               *ReplyContext `json:"reply,omitempty"`
	ChannelDisplayName  string        `json:"channel_display_name,omitempty"`
	ChannelProfileImage string        `json:"channel_profile_image,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ReplyContext describes the message an inbound chat line answers.
type ReplyContext struct {
	MessageID string   `json:"message_id,omitempty"`
	User      string   `json:"user,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Message   string   `json:"message,omitempty"`
	Platform  Platform `json:"platform,omitempty"`
	Emotes    []Emote  `json:"emotes,omitempty"`
}

// Emote marks the rune ranges of an emote inside Message. Positions are
// inclusive [start, end] pairs.
type Emote struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	URL       string   `json:"url,omitempty"`
	Positions [][2]int `json:"positions,omitempty"`
}

// Badge is a chat badge. The backend sends either a bare string or an object.
type Badge struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Count    int    `json:"count,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// UnmarshalJSON accepts "moderator" as well as {"type":"moderator"}.
func (b *Badge) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*b = Badge{Type: name}
		return nil
	}
	type plain Badge
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Badge(p)
	return nil
}

// Known reports whether the event is chat, status or error.
func (k Kind) Known() bool {
	return k == KindChat || k == KindStatus || k == KindError
}

// Decode parses a single backend frame.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.Kind == "" {
		return Event{}, ErrNoKind
	}
	if !ev.Kind.Known() {
		ev.Raw = append(json.RawMessage(nil), data...)
	}
	return ev, nil
}

// MarshalJSON writes an opaque event back as the frame it was decoded from.
func (e Event) MarshalJSON() ([]byte, error) {
	if !e.Kind.Known() && len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type plain Event
	return json.Marshal(plain(e))
}

// Verbatim is the text shown for an opaque event.
func (e Event) Verbatim() string {
	if len(e.Raw) > 0 {
		return string(e.Raw)
	}
	return e.Message
}

// Repliable reports whether the event carries an identifier a reply can point at.
func (e Event) Repliable() bool {
	return strings.TrimSpace(e.ID) != ""
}

// Status builds a locally generated status line.
func Status(p Platform, text string) Event {
	return Event{Kind: KindStatus, Platform: p, Message: text}
}

// Error builds a locally generated error line.
func Error(p Platform, text string) Event {
	return Event{Kind: KindError, Platform: p, Message: text}
}
