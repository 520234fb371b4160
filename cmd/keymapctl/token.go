package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/keymap-core/internal/auth"
)

// newTokenCmd mints an API token locally from the shared secret. It does
// not contact keymapd.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		secret  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token from the JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv("KEYMAPD_JWT_SECRET")
			}
			token, err := auth.GenerateToken(subject, r, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "keymapctl", "token subject")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOperator), "role: viewer or operator")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (env KEYMAPD_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
