package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/john/combinedchat/internal/client"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect or end the backend login session",
	}
	cmd.AddCommand(newAuthStatusCmd(), newAuthLogoutCmd())
	return cmd
}

func newAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the logged in user and linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.api.AuthStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("load login status: %s", client.Describe(err))
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			if !st.Authenticated || st.User == nil {
				fmt.Fprintln(out, "Not logged in.")
				return nil
			}
			fmt.Fprintf(out, "Logged in as %s\n", st.User.DisplayName)
			for _, acct := range st.Accounts {
				line := fmt.Sprintf("  %-6s %s", acct.Platform, acct.Username)
				if len(acct.Scopes) > 0 {
					line += " [" + strings.Join(acct.Scopes, " ") + "]"
				}
				if acct.ExpiresAt != "" {
					line += " expires " + acct.ExpiresAt
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the raw status as JSON")
	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the backend login session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.api.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %s", client.Describe(err))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
