// Package channel turns user-entered channel names, handles and URLs into
// comparable slugs.
package channel

import (
	"strings"
	"unicode"

	"github.com/john/combinedchat/internal/message"
)

var urlPrefixes = map[message.Platform][]string{
	message.Twitch: {
		"https://www.twitch.tv/", "http://www.twitch.tv/",
		"https://m.twitch.tv/", "http://m.twitch.tv/",
		"https://twitch.tv/", "http://twitch.tv/",
		"www.twitch.tv/", "m.twitch.tv/", "twitch.tv/",
	},
	message.Kick: {
		"https://www.kick.com/", "http://www.kick.com/",
		"https://kick.com/", "http://kick.com/",
		"www.kick.com/", "kick.com/",
	},
}

// Normalize returns the canonical slug for raw on platform p, or "" when
// nothing usable remains.
func Normalize(p message.Platform, raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, raw)
	s = strings.TrimLeft(s, "@#")

	for _, prefix := range urlPrefixes[p] {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	// Anything past the first path segment (/popout/..., ?tab=...) is not part of the name.
	if i := strings.IndexAny(s, "/?"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "@#")

	if p == message.Kick {
		s = strings.ReplaceAll(s, "_", "-")
	}
	return s
}

// ParseList splits free text on commas and newlines and normalizes each token.
func ParseList(raw string, p message.Platform) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	return NormalizeList(tokens, p)
}

// NormalizeList normalizes an already split list, drops empties and
// duplicates (first occurrence wins) and truncates to message.MaxChannels.
func NormalizeList(items []string, p message.Platform) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		slug := Normalize(p, item)
		if slug == "" {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		out = append(out, slug)
		if len(out) == message.MaxChannels {
			break
		}
	}
	return out
}

// ParseTargets builds a subscription target from the raw input of both fields.
func ParseTargets(rawTwitch, rawKick string) message.Targets {
	return message.Targets{
		Twitch: ParseList(rawTwitch, message.Twitch),
		Kick:   ParseList(rawKick, message.Kick),
	}
}
