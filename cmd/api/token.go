package main

import (
	"fmt"
	"time"

	"sentimatrix-automation/config"
	"sentimatrix-automation/internal/service"

	"github.com/spf13/cobra"
)

var tokenUserID string

// tokenCmd mints a bearer token for local testing of the management API.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a management API token for a user",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		svc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
		token, expiry, err := svc.Generate(tokenUserID)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.OutOrStdout(), token)
		fmt.Fprintf(c.ErrOrStderr(), "expires %s\n", expiry.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id to put in the sub claim")
	_ = tokenCmd.MarkFlagRequired("user")
}
