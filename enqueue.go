package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/store"
	isync "github.com/tonimelisma/acctsync/internal/sync"
)

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <type> <ids...>",
		Short: "Queue entities for a later sync",
		Long: `Mark entities pending so the next "acctsync sync <type>" pop or HTTP
trigger picks them up. Records already synced, pending or in progress are
left alone; failed records are re-queued.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runEnqueue,
	}
}

type enqueueResult struct {
	EntityID string `json:"entity_id"`
	Queued   bool   `json:"queued"`
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	actorID, err := cc.requireActor("enqueue")
	if err != nil {
		return err
	}

	entityType, err := store.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	results, err := enqueueAll(ctx, svc, actorID, store.Key{Type: entityType, Provider: cc.Cfg.Provider.Name}, args[1:])
	if err != nil {
		return err
	}

	return reportEnqueue(cmd.OutOrStdout(), cc, results)
}

// enqueueAll queues each id under base's type and provider. An entity owned
// by another actor stops the batch. Only records that actually changed are
// audited.
func enqueueAll(ctx context.Context, svc *services, actorID string, base store.Key, ids []string) ([]enqueueResult, error) {
	results := make([]enqueueResult, 0, len(ids))

	for _, id := range ids {
		key := base
		key.ID = id

		owner, err := svc.store.EntityOwner(ctx, key.Type, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return results, fmt.Errorf("enqueueing %s: %w", key, err)
		}

		if err == nil && owner != actorID {
			return results, fmt.Errorf("enqueueing %s: %w", key, isync.ErrNotOwned)
		}

		changed, err := svc.store.Enqueue(ctx, key, actorID)
		if err != nil {
			return results, fmt.Errorf("enqueueing %s: %w", key, err)
		}

		if changed {
			svc.audit.Info(ctx, actorID, "sync.enqueue", map[string]any{
				"entity_type": string(key.Type),
				"entity_id":   key.ID,
				"provider":    key.Provider,
			})
		}

		results = append(results, enqueueResult{EntityID: id, Queued: changed})
	}

	return results, nil
}

func reportEnqueue(w io.Writer, cc *CLIContext, results []enqueueResult) error {
	if cc.Flags.JSON {
		return printJSON(w, results)
	}

	rows := make([][]string, 0, len(results))

	for _, r := range results {
		state := "unchanged"
		if r.Queued {
			state = "queued"
		}

		rows = append(rows, []string{r.EntityID, state})
	}

	printTable(w, []string{"ENTITY", "STATE"}, rows)

	return nil
}
