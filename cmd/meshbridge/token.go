package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/IceNet-01/meshtastic-bridge-headless/internal/statusapi"
)

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the status API",
		Long: `Mint a bearer token for a daemon whose status API runs with an auth
secret. The secret here must match the daemon's http.auth_secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			auth := statusapi.NewTokenAuth(secret)
			tok, expires, err := auth.GenerateToken(subject, ttl)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Println(tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Auth secret shared with the daemon")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}
