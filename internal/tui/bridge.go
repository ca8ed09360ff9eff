package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/presence"
	"github.com/john/combinedchat/internal/session"
)

type (
	renderMsg       struct{ ev message.Event }
	evictMsg        struct{ n int }
	scrollBottomMsg struct{}
	pausedMsg       struct{ label string }
	clearMsg        struct{}
	connectionMsg   struct {
		state   session.State
		targets message.Targets
	}
	presenceMsg struct{ snap presence.Snapshot }
	optionsMsg  struct {
		options []compose.Target
		reply   *compose.ReplyTarget
	}
	busyMsg struct{ busy bool }
	authMsg struct{ status backend.AuthStatus }
)

// Bridge is the client's renderer. It turns renderer calls into program
// messages, queued in order so the client loop never waits on the UI.
type Bridge struct {
	mu    sync.Mutex
	queue []tea.Msg
	wake  chan struct{}
}

// NewBridge creates a bridge. Calls made before the program starts are
// delivered once it does.
func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1)}
}

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) take() []tea.Msg {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// attach forwards queued messages to send until ctx ends.
func (b *Bridge) attach(ctx context.Context, send func(tea.Msg)) {
	go func() {
		for {
			for _, msg := range b.take() {
				send(msg)
			}
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
			}
		}
	}()
}

func (b *Bridge) Render(ev message.Event) { b.push(renderMsg{ev: ev}) }
func (b *Bridge) Evict(n int)             { b.push(evictMsg{n: n}) }
func (b *Bridge) ScrollToBottom()         { b.push(scrollBottomMsg{}) }
func (b *Bridge) ShowPaused(label string) { b.push(pausedMsg{label: label}) }
func (b *Bridge) HidePaused()             { b.push(pausedMsg{}) }
func (b *Bridge) Clear()                  { b.push(clearMsg{}) }

func (b *Bridge) Connection(state session.State, targets message.Targets) {
	b.push(connectionMsg{state: state, targets: targets.Clone()})
}

func (b *Bridge) Presence(snap presence.Snapshot) { b.push(presenceMsg{snap: snap}) }

func (b *Bridge) ComposeOptions(options []compose.Target, reply *compose.ReplyTarget) {
	b.push(optionsMsg{options: append([]compose.Target(nil), options...), reply: reply})
}

func (b *Bridge) ComposeBusy(busy bool)          { b.push(busyMsg{busy: busy}) }
func (b *Bridge) Auth(status backend.AuthStatus) { b.push(authMsg{status: status}) }
