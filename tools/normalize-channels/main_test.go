package main

import (
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	targets, rejected := parseArgs([]string{
		"twitch:https://www.twitch.tv/Foo",
		"twitch:@bar,#foo",
		"kick:kick.com/Some_Streamer",
		"youtube:nope",
		"kick:",
		"plain",
	})
	if strings.Join(targets.Twitch, ",") != "foo,bar" {
		t.Fatalf("expected twitch foo,bar got %v", targets.Twitch)
	}
	if strings.Join(targets.Kick, ",") != "some-streamer" {
		t.Fatalf("expected kick some-streamer got %v", targets.Kick)
	}
	if len(rejected) != 3 {
		t.Fatalf("expected 3 rejected args, got %v", rejected)
	}
}

func TestSnippet(t *testing.T) {
	targets, _ := parseArgs([]string{"twitch:foo", "kick:bar"})
	out, err := snippet(targets)
	if err != nil {
		t.Fatalf("snippet: %v", err)
	}
	want := "channels:\n    twitch:\n        - foo\n    kick:\n        - bar\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}
