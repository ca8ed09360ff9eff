package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/message"
)

// kickChannelResponse is the part of Kick's channel API we read
type kickChannelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

type channelsSnippet struct {
	Channels struct {
		Twitch []string `yaml:"twitch,omitempty"`
		Kick   []string `yaml:"kick,omitempty"`
	} `yaml:"channels"`
}

func main() {
	check := flag.Bool("check", false, "look up each Kick channel on kick.com")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: normalize-channels [-check] <platform:channel>...")
		fmt.Fprintln(os.Stderr, "\nExample:")
		fmt.Fprintln(os.Stderr, "  normalize-channels twitch:https://twitch.tv/Foo twitch:@bar kick:Some_Streamer")
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	targets, rejected := parseArgs(flag.Args())
	if len(rejected) > 0 {
		fmt.Fprintln(os.Stderr, "✗ Ignored:")
		for _, r := range rejected {
			fmt.Fprintf(os.Stderr, "  %s\n", r)
		}
		fmt.Fprintln(os.Stderr)
	}
	if targets.Empty() {
		os.Exit(1)
	}

	if *check {
		client := &http.Client{Timeout: 10 * time.Second}
		for _, slug := range targets.Kick {
			id, err := resolveKickChannel(client, slug)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ kick:%s: %v\n", slug, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "✓ kick:%s (chatroom %d)\n", slug, id)
		}
		fmt.Fprintln(os.Stderr)
	}

	out, err := snippet(targets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render yaml: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Add this to your config.yaml:")
	fmt.Println("---")
	fmt.Print(out)
}

// parseArgs reads platform:channel arguments; a channel part may hold a
// comma separated list.
func parseArgs(args []string) (message.Targets, []string) {
	raw := map[message.Platform][]string{}
	var rejected []string
	for _, a := range args {
		p, list, ok := strings.Cut(a, ":")
		platform := message.Platform(strings.ToLower(p))
		if !ok || !platform.Valid() {
			rejected = append(rejected, a+" (want twitch:<name> or kick:<name>)")
			continue
		}
		if len(channel.ParseList(list, platform)) == 0 {
			rejected = append(rejected, a+" (no channel name)")
			continue
		}
		raw[platform] = append(raw[platform], list)
	}
	return channel.ParseTargets(strings.Join(raw[message.Twitch], ","), strings.Join(raw[message.Kick], ",")), rejected
}

func snippet(t message.Targets) (string, error) {
	var s channelsSnippet
	s.Channels.Twitch = t.Twitch
	s.Channels.Kick = t.Kick
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func resolveKickChannel(client *http.Client, slug string) (int, error) {
	url := fmt.Sprintf("https://kick.com/api/v2/channels/%s", slug)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	// Kick rejects requests that do not look like a browser.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://kick.com/")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return 0, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info kickChannelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("JSON decode failed: %w", err)
	}
	return info.Chatroom.ID, nil
}
