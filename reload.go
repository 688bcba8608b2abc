package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/config"
)

func newReloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "reload",
		Short:       "Tell a running serve process to reload its config",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pidPath, err := cmd.Flags().GetString("pid-file")
			if err != nil {
				return err
			}

			pid, err := signalServe(pidPath)
			if err != nil {
				return err
			}

			cc.Statusf("Sent reload to acctsync serve (pid %d)\n", pid)

			return nil
		},
	}

	cmd.Flags().String("pid-file", config.DefaultPIDPath(), "pid file written by acctsync serve")

	return cmd
}
