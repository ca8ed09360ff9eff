// Package command holds the combinedchat command line.
package command

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const AppName = "combinedchat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Twitch and Kick chat in one terminal",
		Long: "combinedchat merges Twitch and Kick chat from a combined-chat backend into one feed,\n" +
			"with replies, multi-channel sends and moderation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is fine.
			_ = godotenv.Load()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default $CONFIG_PATH or config.yaml)")
	cmd.PersistentFlags().String("backend", "", "backend URL, overrides backend.url")
	cmd.PersistentFlags().String("session", "", "login session cookie as name=value (or $COMBINEDCHAT_SESSION)")
	addConnectFlags(cmd)

	cmd.AddCommand(
		NewHeadlessCmd(),
		NewSendCmd(),
		NewModerateCmd(),
		NewAuthCmd(),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

func addConnectFlags(cmd *cobra.Command) {
	cmd.Flags().String("twitch", "", "Twitch channels to connect to, comma separated")
	cmd.Flags().String("kick", "", "Kick channels to connect to, comma separated")
	cmd.Flags().Bool("connect", false, "connect to the configured channels instead of resuming the last session")
}
