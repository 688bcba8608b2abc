package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/server"
	"github.com/tonimelisma/acctsync/internal/store"
)

// errSyncFailed is returned after the results table has been printed, so
// main exits non-zero without repeating the failures.
var errSyncFailed = errors.New("one or more records failed to sync")

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <type> [ids...]",
		Short: "Sync entities to the provider now",
		Long: `Drive the named entities to a terminal sync state. Dependencies (the
vendor of a bill, the customer of an invoice, ...) are synced first.

Without ids, the oldest pending record of the type is popped from the queue
and synced; --drain keeps popping until the queue is empty.

Examples:
  acctsync sync bill --actor u-1 b-1001 b-1002
  acctsync sync invoice --drain`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSync,
	}

	cmd.Flags().Bool("drain", false, "without ids, sync pending records until the queue is empty")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	entityType, err := store.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	ids := args[1:]

	var actorID string
	if len(ids) > 0 {
		if actorID, err = cc.requireActor("sync with ids"); err != nil {
			return err
		}
	}

	drain, err := cmd.Flags().GetBool("drain")
	if err != nil {
		return err
	}

	ctx, stop := interruptible(cmd.Context(), cc.Logger)
	defer stop()

	svc, err := openEngine(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var results []server.SyncResult
	if len(ids) > 0 {
		results = syncIDs(ctx, svc.orchestrator, actorID, entityType, ids)
	} else {
		results = syncQueued(ctx, svc.orchestrator, cc.Flags.Actor, entityType, drain, cc.Logger)
	}

	return reportSync(cmd.OutOrStdout(), cc, entityType, results)
}

// syncIDs syncs each id in order. A failure does not stop the batch.
func syncIDs(ctx context.Context, syncer server.Syncer, actorID string, t store.EntityType, ids []string) []server.SyncResult {
	results := make([]server.SyncResult, 0, len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		out, err := syncer.Sync(ctx, actorID, syncer.Key(t, id))
		results = append(results, server.ResultFor(id, out, err))
	}

	return results
}

// syncQueued pops pending records of t, only actorID's when it is set. A
// failed record leaves the pending queue, so draining always terminates.
func syncQueued(
	ctx context.Context, syncer server.Syncer, actorID string, t store.EntityType, drain bool, logger *slog.Logger,
) []server.SyncResult {
	var results []server.SyncResult

	for ctx.Err() == nil {
		out, found, err := syncer.SyncNext(ctx, actorID, t)
		if !found {
			if err != nil {
				results = append(results, server.ResultFor("", out, err))
			}

			break
		}

		logger.Debug("synced queued record", slog.String("key", out.Key.String()))

		results = append(results, server.ResultFor(out.Key.ID, out, err))

		if !drain {
			break
		}
	}

	return results
}

func reportSync(w io.Writer, cc *CLIContext, t store.EntityType, results []server.SyncResult) error {
	failed := 0

	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	if cc.Flags.JSON {
		if err := printJSON(w, server.SyncResponse{Success: failed == 0, Results: results}); err != nil {
			return err
		}
	} else if len(results) == 0 {
		cc.Statusf("No pending %s records\n", t)
	} else {
		printSyncTable(w, results)
	}

	if failed > 0 {
		cc.Statusf("%d of %d %s records failed\n", failed, len(results), t)

		return errSyncFailed
	}

	return nil
}

func printSyncTable(w io.Writer, results []server.SyncResult) {
	rows := make([][]string, 0, len(results))

	for _, r := range results {
		outcome := "synced"

		switch {
		case !r.Success:
			outcome = r.ErrorType
		case r.Cached:
			outcome = "already synced"
		}

		detail := r.ProviderRef
		if !r.Success {
			detail = fmt.Sprintf("%s (%s)", r.Message, truncate(r.Error, 80))
		}

		rows = append(rows, []string{orDash(r.EntityID), outcome, orDash(detail)})
	}

	printTable(w, []string{"ENTITY", "RESULT", "DETAIL"}, rows)
}
