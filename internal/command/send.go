package command

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/client"
	"github.com/john/combinedchat/internal/compose"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message to one or more channels",
		Example: "  combinedchat send --to twitch:foo --to kick:bar gg everyone\n" +
			"  combinedchat send --to twitch:foo --reply-to 4f1c... thanks!",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			rawTargets, _ := cmd.Flags().GetStringSlice("to")
			replyTo, _ := cmd.Flags().GetString("reply-to")
			targets, err := parseTargetList(rawTargets)
			if err != nil {
				return err
			}
			if replyTo != "" && len(targets) != 1 {
				return fmt.Errorf("a reply goes to exactly one channel, got %d", len(targets))
			}

			text, err := compose.Validate(strings.Join(args, " "), targets, targets, nil)
			if err != nil {
				return fmt.Errorf("cannot send: %w", err)
			}

			reqs := make([]backend.SendRequest, len(targets))
			for i, t := range targets {
				reqs[i] = backend.SendRequest{Platform: t.Platform, Channel: t.Channel, Message: text, ReplyToMessageID: replyTo}
			}
			return reportSends(cmd.OutOrStdout(), a.api.SendAll(cmd.Context(), reqs))
		},
	}
	cmd.Flags().StringSlice("to", nil, "platform:channel to send to (repeatable or comma separated)")
	cmd.Flags().String("reply-to", "", "message id to reply to")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func parseTargetList(raw []string) ([]compose.Target, error) {
	var out []compose.Target
	seen := map[compose.Target]bool{}
	for _, r := range raw {
		t, err := compose.ParseTarget(r)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no target given")
	}
	return out, nil
}

// reportSends prints one line per target and fails if any send failed.
func reportSends(w io.Writer, results []backend.SendResult) error {
	failed := 0
	for _, r := range results {
		target := compose.Target{Platform: r.Request.Platform, Channel: r.Request.Channel}
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s: failed: %s\n", target, client.Describe(r.Err))
			continue
		}
		fmt.Fprintf(w, "%s: sent\n", target)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sends failed", failed, len(results))
	}
	return nil
}
