package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbcare/telecall/internal/auth"
	"github.com/tbcare/telecall/internal/core/domain"
)

func newTokenCommand() *cobra.Command {
	var (
		user   string
		name   string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			id := domain.NewUserID()
			if user != "" {
				var err error
				if id, err = domain.ParseUserID(user); err != nil {
					return fmt.Errorf("--user: %w", err)
				}
			}
			token, err := auth.Issue(secret, auth.User{ID: id, Name: name}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 signing secret (env JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
