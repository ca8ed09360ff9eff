package tui

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
)

func sized(t *testing.T, f *fakeIntents) *Model {
	t.Helper()
	m := NewModel(f)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	return m
}

func chat(id, text string) message.Event {
	return message.Event{Kind: message.KindChat, Platform: message.Twitch, Channel: "foo", ID: id, User: "u", Message: text}
}

func TestRenderAssignsReferences(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	m.Update(renderMsg{ev: chat("abc", "first")})
	m.Update(renderMsg{ev: message.Status(message.Twitch, "Connected to foo")})
	m.Update(renderMsg{ev: chat("def", "second")})

	if len(m.entries) != 3 || m.entries[0].ref != 1 || m.entries[1].ref != 0 || m.entries[2].ref != 2 {
		t.Fatalf("unexpected refs %+v", m.entries)
	}
	if got := m.resolve("2"); got != "def" {
		t.Fatalf("expected #2 to resolve to def, got %q", got)
	}
	if got := m.resolve("raw-id"); got != "raw-id" {
		t.Fatalf("expected raw id passthrough, got %q", got)
	}

	m.Update(evictMsg{n: 1})
	if len(m.entries) != 2 || m.resolve("1") != "1" {
		t.Fatalf("expected evicted reference to stop resolving")
	}
}

func TestEnterSendsAndClears(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	m.input.SetValue("hello chat")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if len(f.sent) != 1 || f.sent[0] != "hello chat" {
		t.Fatalf("expected message sent, got %v", f.sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input cleared, got %q", m.input.Value())
	}
}

func TestBadCommandKeepsInput(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	m.input.SetValue("/connect youtube:x")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if m.input.Value() != "/connect youtube:x" || !m.noteErr {
		t.Fatalf("expected input kept with an error note, got %q %q", m.input.Value(), m.note)
	}
	if len(f.connected) != 0 {
		t.Fatalf("expected no connect")
	}
}

func TestPageUpReportsDistance(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	for i := range 60 {
		m.Update(renderMsg{ev: chat(fmt.Sprint(i), "line")})
	}
	m.Update(scrollBottomMsg{})
	m.Update(tea.KeyMsg{Type: tea.KeyPgUp})

	if len(f.scrolls) != 1 || f.scrolls[0] <= 0 {
		t.Fatalf("expected a positive scroll distance, got %v", f.scrolls)
	}
}

func TestEndResumesWhenInputEmpty(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	m.Update(pausedMsg{label: "3 new messages"})
	if !strings.Contains(m.View(), "3 new messages") {
		t.Fatalf("expected pause bar in view")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnd})
	if f.resumed != 1 {
		t.Fatalf("expected resume, got %d", f.resumed)
	}
}

func TestEscCancelsReply(t *testing.T) {
	f := &fakeIntents{}
	m := sized(t, f)
	reply := &compose.ReplyTarget{Platform: message.Kick, Channel: "bar", MessageID: "1", Username: "bob", Message: "hey"}
	m.Update(optionsMsg{reply: reply})
	if !strings.Contains(m.View(), "Replying to @bob") {
		t.Fatalf("expected reply line in view")
	}
	if !strings.Contains(m.prompt(), "kick:bar") {
		t.Fatalf("expected reply target in prompt, got %q", m.prompt())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if f.cancels != 1 {
		t.Fatalf("expected cancel, got %d", f.cancels)
	}
}

func TestBridgeKeepsOrder(t *testing.T) {
	b := NewBridge()
	b.Render(chat("1", "a"))
	b.Evict(1)
	b.ShowPaused("1 new message")

	got := make(chan tea.Msg, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.attach(ctx, func(msg tea.Msg) { got <- msg })
	b.HidePaused()

	var msgs []tea.Msg
	timeout := time.After(2 * time.Second)
	for len(msgs) < 4 {
		select {
		case msg := <-got:
			msgs = append(msgs, msg)
		case <-timeout:
			t.Fatalf("expected 4 messages, got %d", len(msgs))
		}
	}
	if _, ok := msgs[0].(renderMsg); !ok {
		t.Fatalf("expected render first, got %T", msgs[0])
	}
	if _, ok := msgs[1].(evictMsg); !ok {
		t.Fatalf("expected evict second, got %T", msgs[1])
	}
	if p, ok := msgs[3].(pausedMsg); !ok || p.label != "" {
		t.Fatalf("expected hide last, got %#v", msgs[3])
	}
}
