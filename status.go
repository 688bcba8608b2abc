package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/server"
	"github.com/tonimelisma/acctsync/internal/store"
)

const defaultStatusLimit = 50

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [type] [id]",
		Short: "Show sync record state",
		Long: `Without arguments, show record counts per entity type and status.
With a type, list that type's records, most recently updated first.
With a type and id, show one record in full.`,
		Args: cobra.MaximumNArgs(2),
		RunE: runStatus,
	}

	cmd.Flags().String("status", "", "only list records in this status (pending, processing, success, error)")
	cmd.Flags().Int("limit", defaultStatusLimit, "maximum records to list")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	provider := cc.Cfg.Provider.Name

	if len(args) == 0 {
		counts, err := svc.store.CountByStatus(ctx, provider)
		if err != nil {
			return err
		}

		return printCounts(w, cc.Flags.JSON, counts)
	}

	entityType, err := store.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	if len(args) == 2 {
		rec, err := svc.store.GetRecord(ctx, store.Key{Type: entityType, ID: args[1], Provider: provider})
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no sync record for %s %s", entityType, args[1])
		}

		if err != nil {
			return err
		}

		return printRecord(w, cc.Flags.JSON, rec)
	}

	statusFlag, err := cmd.Flags().GetString("status")
	if err != nil {
		return err
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	filter := store.RecordFilter{Provider: provider, Type: entityType, Limit: limit}

	if statusFlag != "" {
		st, err := parseStatus(statusFlag)
		if err != nil {
			return err
		}

		filter.Status = st
	}

	recs, err := svc.store.ListRecords(ctx, filter)
	if err != nil {
		return err
	}

	return printRecords(w, cc.Flags.JSON, recs)
}

func parseStatus(s string) (store.Status, error) {
	switch st := store.Status(s); st {
	case store.StatusPending, store.StatusProcessing, store.StatusSuccess, store.StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q (valid: pending, processing, success, error)", s)
	}
}

var statusColumns = []store.Status{
	store.StatusPending, store.StatusProcessing, store.StatusSuccess, store.StatusError,
}

// printCounts renders one row per entity type, in dependency order, so the
// table shape does not depend on which types have records.
func printCounts(w io.Writer, asJSON bool, counts map[store.EntityType]map[store.Status]int) error {
	if asJSON {
		return printJSON(w, counts)
	}

	rows := make([][]string, 0, len(store.EntityTypes))

	for _, t := range store.EntityTypes {
		row := []string{string(t)}
		for _, st := range statusColumns {
			row = append(row, strconv.Itoa(counts[t][st]))
		}

		rows = append(rows, row)
	}

	printTable(w, []string{"TYPE", "PENDING", "PROCESSING", "SUCCESS", "ERROR"}, rows)

	return nil
}

func printRecords(w io.Writer, asJSON bool, recs []store.SyncRecord) error {
	if asJSON {
		views := make([]server.RecordView, 0, len(recs))
		for i := range recs {
			views = append(views, server.ViewOf(&recs[i]))
		}

		return printJSON(w, views)
	}

	rows := make([][]string, 0, len(recs))

	for i := range recs {
		r := &recs[i]
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			strconv.Itoa(r.Retries),
			orDash(r.ProviderRef),
			orDash(r.ErrorType),
			formatTime(r.UpdatedAt),
		})
	}

	printTable(w, []string{"ID", "STATUS", "RETRIES", "PROVIDER REF", "ERROR", "UPDATED"}, rows)

	return nil
}

func printRecord(w io.Writer, asJSON bool, rec *store.SyncRecord) error {
	if asJSON {
		return printJSON(w, server.ViewOf(rec))
	}

	fields := [][]string{
		{"Entity:", fmt.Sprintf("%s %s", rec.Type, rec.ID)},
		{"Provider:", rec.Provider},
		{"Status:", string(rec.Status)},
		{"Provider ref:", orDash(rec.ProviderRef)},
		{"Retries:", strconv.Itoa(rec.Retries)},
		{"Last synced:", formatTime(rec.LastSyncedAt)},
		{"Actor:", orDash(rec.ActorID)},
	}

	if rec.Status == store.StatusError {
		fields = append(fields,
			[]string{"Error type:", rec.ErrorType},
			[]string{"Error:", rec.ErrorMessage},
		)
	}

	for _, f := range fields {
		fmt.Fprintf(w, "%-14s %s\n", f[0], f[1])
	}

	return nil
}
