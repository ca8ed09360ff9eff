package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/compose"
	"github.com/john/combinedchat/internal/message"
)

// Intents is what an input line can ask the client to do.
type Intents interface {
	Connect(targets message.Targets)
	Resume()
	Disconnect()
	Scroll(distance float64)
	ResumeFeed()
	Reply(id string)
	CancelReply()
	Send(text string, targets []compose.Target)
	Moderate(req backend.ModerateRequest)
	RefreshAuth()
	Logout()
}

// Kind identifies a parsed input line.
type Kind int

const (
	Say Kind = iota
	Connect
	Reconnect
	Disconnect
	Reply
	Cancel
	To
	Moderate
	Live
	Auth
	Logout
	Help
	Quit
)

// Command is one parsed input line.
type Command struct {
	Kind       Kind
	Text       string
	Targets    message.Targets
	To         []compose.Target
	Ref        string
	Moderation backend.ModerateRequest
}

// HelpText lists the slash commands.
const HelpText = `/connect twitch:a,b kick:c   subscribe to channels
/reconnect                   reconnect to the last channels
/disconnect                  close the connection
/reply <ref>                 reply to a message (#ref shown in the feed)
/cancel                      drop the reply target
/to [platform:channel ...]   send only to these channels (none = all)
/ban platform:channel user
/timeout <secs> platform:channel user
/unban platform:channel user
/untimeout platform:channel user
/resume                      jump back to live messages
/auth                        reload login status
/logout                      end the login session
/quit`

var errNoArgs = errors.New("missing arguments")

// Parse reads one input line. Lines without a leading slash are messages;
// a doubled slash sends the line with one slash removed.
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: Say, Text: line}, nil
	}
	if strings.HasPrefix(trimmed, "//") {
		return Command{Kind: Say, Text: trimmed[1:]}, nil
	}

	fields := strings.Fields(trimmed)
	name, args := strings.ToLower(fields[0][1:]), fields[1:]
	switch name {
	case "connect", "join":
		targets, err := parseTargets(args)
		if err != nil {
			return Command{}, fmt.Errorf("/%s: %w", name, err)
		}
		return Command{Kind: Connect, Targets: targets}, nil
	case "reconnect":
		return Command{Kind: Reconnect}, nil
	case "disconnect", "part":
		return Command{Kind: Disconnect}, nil
	case "reply", "r":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("/reply: want one message reference")
		}
		return Command{Kind: Reply, Ref: strings.TrimPrefix(args[0], "#")}, nil
	case "cancel":
		return Command{Kind: Cancel}, nil
	case "to":
		to := make([]compose.Target, 0, len(args))
		for _, a := range args {
			t, err := compose.ParseTarget(a)
			if err != nil {
				return Command{}, fmt.Errorf("/to: %w", err)
			}
			to = append(to, t)
		}
		return Command{Kind: To, To: to}, nil
	case "ban", "timeout", "unban", "untimeout":
		req, err := parseModeration(name, args)
		if err != nil {
			return Command{}, fmt.Errorf("/%s: %w", name, err)
		}
		return Command{Kind: Moderate, Moderation: req}, nil
	case "resume", "live":
		return Command{Kind: Live}, nil
	case "auth", "login":
		return Command{Kind: Auth}, nil
	case "logout":
		return Command{Kind: Logout}, nil
	case "help", "?":
		return Command{Kind: Help}, nil
	case "quit", "exit", "q":
		return Command{Kind: Quit}, nil
	}
	return Command{}, fmt.Errorf("unknown command /%s (try /help)", name)
}

// parseTargets reads "twitch:a,b kick:c". A platform may repeat.
func parseTargets(args []string) (message.Targets, error) {
	if len(args) == 0 {
		return message.Targets{}, errNoArgs
	}
	raw := map[message.Platform][]string{}
	for _, a := range args {
		p, list, ok := strings.Cut(a, ":")
		platform := message.Platform(strings.ToLower(p))
		if !ok || !platform.Valid() {
			return message.Targets{}, fmt.Errorf("%q: want twitch:<channels> or kick:<channels>", a)
		}
		raw[platform] = append(raw[platform], list)
	}
	targets := message.Targets{
		Twitch: channel.ParseList(strings.Join(raw[message.Twitch], ","), message.Twitch),
		Kick:   channel.ParseList(strings.Join(raw[message.Kick], ","), message.Kick),
	}
	if targets.Empty() {
		return message.Targets{}, fmt.Errorf("no usable channel names")
	}
	return targets, nil
}

func parseModeration(name string, args []string) (backend.ModerateRequest, error) {
	action, err := backend.ParseAction(name)
	if err != nil {
		return backend.ModerateRequest{}, err
	}
	var req backend.ModerateRequest
	req.Action = action
	if action == backend.Timeout {
		if len(args) != 3 {
			return req, fmt.Errorf("want <secs> platform:channel user")
		}
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			return req, fmt.Errorf("duration %q must be a positive number of seconds", args[0])
		}
		req.DurationSeconds = secs
		args = args[1:]
	}
	if len(args) != 2 {
		return req, fmt.Errorf("want platform:channel user")
	}
	where, err := compose.ParseTarget(args[0])
	if err != nil {
		return req, err
	}
	req.Platform = where.Platform
	req.Channel = where.Channel
	req.TargetUser = strings.TrimPrefix(args[1], "@")
	return req, req.Validate()
}

// Runner applies input lines to the client and remembers the /to selection.
type Runner struct {
	intents Intents
	to      []compose.Target
	// Resolve maps a reference typed after /reply to a message id. Nil
	// means references are message ids.
	Resolve func(ref string) string
}

// NewRunner creates a runner for in.
func NewRunner(in Intents) *Runner {
	return &Runner{intents: in}
}

// To returns the channels messages are limited to, if any.
func (r *Runner) To() []compose.Target {
	return append([]compose.Target(nil), r.to...)
}

// Exec parses and applies line. note is feedback for the input area.
func (r *Runner) Exec(line string) (quit bool, note string, err error) {
	cmd, err := Parse(line)
	if err != nil {
		return false, "", err
	}
	switch cmd.Kind {
	case Say:
		if strings.TrimSpace(cmd.Text) == "" {
			return false, "", nil
		}
		r.intents.Send(cmd.Text, r.To())
	case Connect:
		r.intents.Connect(cmd.Targets)
	case Reconnect:
		r.intents.Resume()
	case Disconnect:
		r.intents.Disconnect()
	case Reply:
		id := cmd.Ref
		if r.Resolve != nil {
			id = r.Resolve(cmd.Ref)
		}
		r.intents.Reply(id)
	case Cancel:
		r.intents.CancelReply()
	case To:
		r.to = cmd.To
		if len(r.to) == 0 {
			return false, "Sending to every connected channel.", nil
		}
		names := make([]string, len(r.to))
		for i, t := range r.to {
			names[i] = t.String()
		}
		return false, "Sending to " + strings.Join(names, ", ") + ".", nil
	case Moderate:
		r.intents.Moderate(cmd.Moderation)
	case Live:
		r.intents.ResumeFeed()
	case Auth:
		r.intents.RefreshAuth()
	case Logout:
		r.intents.Logout()
	case Help:
		return false, HelpText, nil
	case Quit:
		return true, "", nil
	}
	return false, "", nil
}
