package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/code-runner/internal/auth"
	"github.com/sakif/code-runner/internal/config"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <client>",
	Short: "Mint a bearer token for a client",
	Long: `Mint an HS256 bearer token signed with JWT_SECRET.

Examples:
  JWT_SECRET=$(openssl rand -hex 32) code-runner token ci-runner
  code-runner token nightly --ttl 24h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
		if err != nil {
			return err
		}

		token, err := tokens.GenerateWithDuration(args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
