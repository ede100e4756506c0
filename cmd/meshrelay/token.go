package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meshrelay/internal/authutil"
	"meshrelay/internal/config"
)

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a control API bearer token signed with MESH_API_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.APISecret == "" {
				return errors.New("MESH_API_SECRET is not set")
			}
			issuer, err := authutil.NewIssuer(cfg.APISecret)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "token subject, used as the default sender")
	cmd.Flags().DurationVar(&ttl, "ttl", authutil.DefaultTokenTTL, "token lifetime")
	return cmd
}
