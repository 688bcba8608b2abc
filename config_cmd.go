package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/config"
)

const secretMask = "********"

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), redacted(cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, cc.CfgPath, cmd.OutOrStdout())
		},
	}
}

// redacted returns a copy of cfg with secrets masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg

	if c.Provider.ClientSecret != "" {
		c.Provider.ClientSecret = secretMask
	}

	if c.Server.JWTSecret != "" {
		c.Server.JWTSecret = secretMask
	}

	return &c
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with the defaults",
		Long: `Write a config file containing every setting at its default value. The
file goes to --config, ACCTSYNC_CONFIG, or the platform default location.
An existing file is never overwritten.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			err := config.WriteTemplate(cc.CfgPath)
			if errors.Is(err, config.ErrConfigExists) {
				return fmt.Errorf("%s already exists; edit it or remove it first", cc.CfgPath)
			}

			if err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", cc.CfgPath)

			return nil
		},
	}
}
