package message

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeChatFrame(t *testing.T) {
	raw := []byte(`{"type":"chat","platform":"kick","channel":"foo-bar","id":"42","user":"alice","user_id":"7",
		"message":"hi Kappa","badges":["moderator",{"type":"subscriber","count":3}],
		"emotes":[{"id":"25","name":"Kappa","positions":[[3,7]]}],
		"reply":{"message_id":"41","user":"bob","message":"hey"}}`)

	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != KindChat || ev.Platform != Kick || ev.Channel != "foo-bar" {
		t.Fatalf("unexpected header %+v", ev)
	}
	if len(ev.Badges) != 2 || ev.Badges[0].Type != "moderator" || ev.Badges[1].Count != 3 {
		t.Fatalf("unexpected badges %+v", ev.Badges)
	}
	if len(ev.Emotes) != 1 || ev.Emotes[0].Positions[0] != [2]int{3, 7} {
		t.Fatalf("unexpected emotes %+v", ev.Emotes)
	}
	if ev.Reply == nil || ev.Reply.MessageID != "41" {
		t.Fatalf("expected reply context, got %+v", ev.Reply)
	}
	if !ev.Repliable() {
		t.Fatalf("expected event with id to be repliable")
	}
}

func TestDecodeUnknownKindPassesThrough(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"video","message":"clip"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != "video" || ev.Message != "clip" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Repliable() {
		t.Fatalf("event without id must not be repliable")
	}
}

func TestOpaqueEventMarshalsAsReceived(t *testing.T) {
	frame := `{"type":"raid","platform":"twitch","viewers":12,"from":{"login":"x"}}`
	ev, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != frame {
		t.Fatalf("expected %s, got %s", frame, data)
	}
	if ev.Verbatim() != frame {
		t.Fatalf("expected verbatim text to be the frame, got %q", ev.Verbatim())
	}

	chat, err := Decode([]byte(`{"type":"chat","id":"1","message":"hi","extra":true}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat.Raw != nil {
		t.Fatalf("known kinds must not keep the raw frame")
	}
	data, _ = json.Marshal(chat)
	if string(data) != `{"type":"chat","id":"1","message":"hi"}` {
		t.Fatalf("unexpected chat encoding %s", data)
	}
}

func TestDecodeRequiresType(t *testing.T) {
	if _, err := Decode([]byte(`{"message":"no kind"}`)); !errors.Is(err, ErrNoKind) {
		t.Fatalf("expected ErrNoKind, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestTargetsEqualAndContains(t *testing.T) {
	a := Targets{Twitch: []string{"foo"}, Kick: []string{"bar"}}
	b := a.Clone()
	if !a.Equal(b) {
		t.Fatalf("expected clone to be equal")
	}
	b.Set(Kick, []string{"baz"})
	if a.Equal(b) {
		t.Fatalf("expected changed targets to differ")
	}
	if !a.Contains(Twitch, "foo") || a.Contains(Twitch, "bar") {
		t.Fatalf("unexpected Contains result")
	}
	if (Targets{}).Count() != 0 || !(Targets{}).Empty() {
		t.Fatalf("zero targets should be empty")
	}
}
