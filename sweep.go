package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	isync "github.com/tonimelisma/acctsync/internal/sync"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retry sweep",
		Long: `Retry failed records whose backoff has elapsed and recover records stuck
in processing past the lease timeout, then exit. "acctsync serve" runs the
same sweep on the configured interval.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, stop := interruptible(cmd.Context(), cc.Logger)
	defer stop()

	svc, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	sweeper, err := svc.newSweeper(cc.Cfg)
	if err != nil {
		return err
	}

	report, err := sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	return printSweepReport(cmd.OutOrStdout(), cc.Flags.JSON, report)
}

func printSweepReport(w io.Writer, asJSON bool, r isync.SweepReport) error {
	if asJSON {
		return printJSON(w, r)
	}

	printTable(w, []string{"CANDIDATES", "STALE", "RETRIED", "SUCCEEDED", "FAILED", "SKIPPED"}, [][]string{{
		fmt.Sprint(r.Candidates), fmt.Sprint(r.Stale), fmt.Sprint(r.Retried),
		fmt.Sprint(r.Succeeded), fmt.Sprint(r.Failed), fmt.Sprint(r.Skipped),
	}})

	return nil
}
