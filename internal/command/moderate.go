package command

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/client"
	"github.com/john/combinedchat/internal/compose"
)

// NewModerateCmd creates the moderate command.
func NewModerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderate <ban|timeout|unban|untimeout> <platform:channel> <user>",
		Short: "Ban, time out or lift a restriction on a user",
		Example: "  combinedchat moderate timeout twitch:foo troll --duration 600\n" +
			"  combinedchat moderate unban kick:bar troll",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := backend.ParseAction(args[0])
			if err != nil {
				return err
			}
			where, err := compose.ParseTarget(args[1])
			if err != nil {
				return err
			}
			duration, _ := cmd.Flags().GetInt("duration")
			userID, _ := cmd.Flags().GetString("user-id")

			req := backend.ModerateRequest{
				Platform:        where.Platform,
				Channel:         where.Channel,
				TargetUser:      strings.TrimPrefix(args[2], "@"),
				TargetUserID:    userID,
				Action:          action,
				DurationSeconds: duration,
			}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("cannot %s: %w", action, err)
			}

			a, err := newApp(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.api.Moderate(cmd.Context(), req); err != nil {
				return fmt.Errorf("%s %s: %s", action, req.TargetUser, client.Describe(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s: done\n", action, req.TargetUser, where)
			return nil
		},
	}
	cmd.Flags().Int("duration", 0, "timeout length in seconds")
	cmd.Flags().String("user-id", "", "platform user id, when known")
	return cmd
}
