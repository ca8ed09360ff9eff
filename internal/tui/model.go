// Package tui is a terminal renderer for the chat client.
package tui

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/presence"
	"github.com/john/combinedchat/internal/session"
)

// header, pause bar, reply line, input, note
const chromeHeight = 5

type entry struct {
	ev   message.Event
	ref  int
	line string
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	intents Intents
	runner  *Runner

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int

	entries []entry
	nextRef int

	paused   string
	state    session.State
	targets  message.Targets
	presence presence.Snapshot
	options  []compose.Target
	reply    *compose.ReplyTarget
	busy     bool
	auth     backend.AuthStatus

	note    string
	noteErr bool
}

// NewModel creates the screen model for in.
func NewModel(in Intents) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.CharLimit = compose.MaxMessageLength * 4
	input.Focus()

	m := &Model{
		intents:  in,
		viewport: viewport.New(0, 0),
		input:    input,
		nextRef:  1,
	}
	m.runner = NewRunner(in)
	m.runner.Resolve = m.resolve
	return m
}

// Run shows the chat screen until the user quits or ctx ends.
func Run(ctx context.Context, in Intents, bridge *Bridge) error {
	p := tea.NewProgram(NewModel(in),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	bridge.attach(ctx, p.Send)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		before := m.viewport.YOffset
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.YOffset != before {
			m.intents.Scroll(m.distance())
		}
		return m, cmd

	case renderMsg:
		e := entry{ev: msg.ev}
		if msg.ev.Repliable() {
			e.ref = m.nextRef
			m.nextRef++
		}
		e.line = formatEvent(msg.ev, e.ref)
		m.entries = append(m.entries, e)
		m.refresh()
	case evictMsg:
		n := min(msg.n, len(m.entries))
		m.entries = append([]entry(nil), m.entries[n:]...)
		m.refresh()
	case scrollBottomMsg:
		m.viewport.GotoBottom()
	case pausedMsg:
		m.paused = msg.label
	case clearMsg:
		m.entries = nil
		m.refresh()
	case connectionMsg:
		m.state, m.targets = msg.state, msg.targets
	case presenceMsg:
		m.presence = msg.snap
	case optionsMsg:
		m.options, m.reply = msg.options, msg.reply
	case busyMsg:
		m.busy = msg.busy
	case authMsg:
		m.auth = msg.status
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		line := m.input.Value()
		quit, note, err := m.runner.Exec(line)
		switch {
		case err != nil:
			m.setNote(err.Error(), true)
			return m, nil
		case quit:
			return m, tea.Quit
		}
		m.setNote(note, false)
		m.input.Reset()
		return m, nil
	case "esc":
		if m.reply != nil {
			m.intents.CancelReply()
		}
		m.setNote("", false)
		return m, nil
	case "pgup", "pgdown", "ctrl+up", "ctrl+down":
		before := m.viewport.YOffset
		switch msg.String() {
		case "pgup":
			m.viewport.ViewUp()
		case "pgdown":
			m.viewport.ViewDown()
		case "ctrl+up":
			m.viewport.LineUp(1)
		case "ctrl+down":
			m.viewport.LineDown(1)
		}
		if m.viewport.YOffset != before {
			m.intents.Scroll(m.distance())
		}
		return m, nil
	case "end":
		if m.input.Value() == "" {
			m.intents.ResumeFeed()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setNote(text string, isErr bool) {
	m.note, m.noteErr = text, isErr
	m.resize()
}

// distance is how many lines the viewport is above the bottom.
func (m *Model) distance() float64 {
	d := m.viewport.TotalLineCount() - m.viewport.YOffset - m.viewport.Height
	return float64(max(d, 0))
}

// resolve maps a "#n" reference to the event id shown with it.
func (m *Model) resolve(ref string) string {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return ref
	}
	for _, e := range m.entries {
		if e.ref == n {
			return e.ev.ID
		}
	}
	return ref
}

func (m *Model) resize() {
	noteLines := 1
	if m.note != "" {
		noteLines = lipgloss.Height(m.note)
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chromeHeight-noteLines+1, 1)
	m.input.Width = max(m.width-4, 10)
	m.refresh()
}

func (m *Model) refresh() {
	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		lines[i] = e.line
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(lipgloss.NewStyle().Width(max(m.width, 1)).Render(strings.Join(lines, "\n")))
	if atBottom && m.paused == "" {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	parts := []string{m.header(), m.viewport.View()}

	if m.paused != "" {
		parts = append(parts, pausedStyle.Render("▼ "+m.paused+"  (End to resume)"))
	} else {
		parts = append(parts, "")
	}

	if m.reply != nil {
		parts = append(parts, replyStyle.Render("Replying to @"+m.reply.Username+": "+truncate(m.reply.Message, 60)+"  (Esc to cancel)"))
	} else {
		parts = append(parts, "")
	}

	parts = append(parts, m.prompt()+m.input.View())

	switch {
	case m.note == "":
		parts = append(parts, "")
	case m.noteErr:
		parts = append(parts, errorStyle.Render(m.note))
	default:
		parts = append(parts, metaStyle.Render(m.note))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) header() string {
	state := m.state.String()
	switch m.state {
	case session.Open:
		state = lipgloss.NewStyle().Foreground(okColor).Render("● " + state)
	case session.Connecting, session.Closing:
		state = lipgloss.NewStyle().Foreground(warnColor).Render("◌ " + state)
	case session.Errored:
		state = errorStyle.Render("✕ " + state)
	default:
		state = metaStyle.Render("○ " + state)
	}

	parts := []string{headerStyle.Render("combinedchat"), state}
	for _, p := range message.Platforms {
		chans := m.targets.Get(p)
		if len(chans) == 0 {
			continue
		}
		names := make([]string, len(chans))
		for i, ch := range chans {
			names[i] = m.channelStyle(p, ch).Render(ch)
		}
		parts = append(parts, platformTag(p)+" "+strings.Join(names, " "))
	}
	if m.auth.Authenticated && m.auth.User != nil {
		parts = append(parts, metaStyle.Render("as "+m.auth.User.DisplayName))
	}
	return strings.Join(parts, "  ")
}

// channelStyle marks joined channels green and dropped ones red.
func (m *Model) channelStyle(p message.Platform, ch string) lipgloss.Style {
	switch {
	case m.presence.Connected.Contains(p, ch):
		return lipgloss.NewStyle().Foreground(okColor)
	case m.presence.EverConnected.Contains(p, ch):
		return lipgloss.NewStyle().Foreground(errorColor).Strikethrough(true)
	}
	return metaStyle
}

func (m *Model) prompt() string {
	if m.busy {
		return metaStyle.Render("sending… ")
	}
	targets := m.options
	if to := m.runner.To(); len(to) > 0 {
		targets = to
	}
	if m.reply != nil {
		targets = []compose.Target{m.reply.Target()}
	}
	if len(targets) == 0 {
		return metaStyle.Render("(not sending) ")
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.String()
	}
	return metaStyle.Render(strings.Join(names, ", ") + " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
