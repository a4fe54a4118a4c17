package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"editorbridge/internal/auth"
	"editorbridge/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID    string
		userName  string
		userEmail string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a collaboration token",
		Long:  "Sign a collaboration token with the configured environment id and access key, the same way the token endpoint does.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			claims := auth.NewClaims(cfg.Token.EnvironmentID, auth.User{
				ID:    userID,
				Name:  userName,
				Email: userEmail,
			}, time.Now(), cfg.Token.TTL)
			token, err := auth.IssueToken([]byte(cfg.Token.AccessKey), claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user id (default anonymous)")
	cmd.Flags().StringVar(&userName, "user-name", "", "display name (default Anonymous User)")
	cmd.Flags().StringVar(&userEmail, "user-email", "", "email claim, omitted when empty")
	return cmd
}
