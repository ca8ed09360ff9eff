package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/john/combinedchat/internal/message"
)

var (
	twitchColor = lipgloss.Color("#9146FF")
	kickColor   = lipgloss.Color("#53FC18")
	metaColor   = lipgloss.Color("241")
	errorColor  = lipgloss.Color("203")
	okColor     = lipgloss.Color("42")
	warnColor   = lipgloss.Color("214")

	metaStyle   = lipgloss.NewStyle().Foreground(metaColor)
	statusStyle = lipgloss.NewStyle().Foreground(metaColor).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(errorColor)
	userStyle   = lipgloss.NewStyle().Bold(true)
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(warnColor).Padding(0, 1)
	replyStyle  = lipgloss.NewStyle().Foreground(metaColor).Italic(true)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

func platformTag(p message.Platform) string {
	switch p {
	case message.Twitch:
		return lipgloss.NewStyle().Foreground(twitchColor).Render("TW")
	case message.Kick:
		return lipgloss.NewStyle().Foreground(kickColor).Render("KC")
	}
	return metaStyle.Render("--")
}

// formatEvent renders one feed line. ref is shown for events that can be
// replied to and is 0 otherwise.
func formatEvent(ev message.Event, ref int) string {
	switch ev.Kind {
	case message.KindStatus:
		return statusStyle.Render("* " + ev.Message)
	case message.KindError:
		return errorStyle.Render("! " + ev.Message)
	}
	if !ev.Kind.Known() {
		return metaStyle.Render(ev.Verbatim())
	}

	var b strings.Builder
	if ref > 0 {
		b.WriteString(metaStyle.Render(fmt.Sprintf("#%d ", ref)))
	}
	b.WriteString(platformTag(ev.Platform))
	b.WriteString(metaStyle.Render("/" + ev.Channel + " "))

	name := userStyle
	if ev.Color != "" {
		name = name.Foreground(lipgloss.Color(ev.Color))
	}
	b.WriteString(name.Render(ev.User))
	if ev.Reply != nil && ev.Reply.User != "" {
		b.WriteString(replyStyle.Render(" ↳ @" + ev.Reply.User))
	}
	b.WriteString(": ")
	b.WriteString(ev.Message)
	return b.String()
}
