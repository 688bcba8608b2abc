package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/config"
	"github.com/tonimelisma/acctsync/internal/server"
)

const defaultTokenTTL = time.Hour

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP trigger surface",
		Long: `Print a JWT for --actor signed with server.jwt_secret. The web app
normally mints these itself; this command is for scripts and manual testing.

Example:
  curl -H "Authorization: Bearer $(acctsync token --actor u-1)" \
       -X POST http://127.0.0.1:8780/api/sync/bill -d '{"ids":["b-1"]}'`,
		Args: cobra.NoArgs,
		RunE: runToken,
	}

	cmd.Flags().Duration("ttl", defaultTokenTTL, "token lifetime")

	return cmd
}

func runToken(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	actorID, err := cc.requireActor("token")
	if err != nil {
		return err
	}

	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}

	if cc.Cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is not set (set %s)", config.EnvJWTSecret)
	}

	tok, err := server.IssueToken([]byte(cc.Cfg.Server.JWTSecret), actorID, ttl, time.Now())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), tok)

	return nil
}
