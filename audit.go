package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/store"
)

const defaultAuditLimit = 50

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log",
		Long: `List audit entries, newest first. --actor narrows the list to one actor;
without it every actor's entries are shown.`,
		Args: cobra.NoArgs,
		RunE: runAudit,
	}

	cmd.Flags().String("function", "", "only entries recorded by this function (e.g. sync.create)")
	cmd.Flags().String("severity", "", "only entries of this severity (debug, info, warn, error)")
	cmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")
	cmd.Flags().Int("limit", defaultAuditLimit, "maximum entries to show")

	return cmd
}

type auditRow struct {
	CreatedAt time.Time      `json:"created_at"`
	ActorID   string         `json:"actor_id,omitempty"`
	Function  string         `json:"function"`
	Severity  string         `json:"severity"`
	ErrorType string         `json:"error_type,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	filter := store.AuditFilter{ActorID: cc.Flags.Actor}

	var err error

	if filter.Function, err = cmd.Flags().GetString("function"); err != nil {
		return err
	}

	severity, err := cmd.Flags().GetString("severity")
	if err != nil {
		return err
	}

	filter.Severity = store.Severity(severity)

	since, err := cmd.Flags().GetDuration("since")
	if err != nil {
		return err
	}

	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	if filter.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return err
	}

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	entries, err := svc.store.ListAudit(ctx, filter)
	if err != nil {
		return err
	}

	return printAudit(cmd.OutOrStdout(), cc.Flags.JSON, entries)
}

func printAudit(w io.Writer, asJSON bool, entries []store.AuditEntry) error {
	if asJSON {
		rows := make([]auditRow, 0, len(entries))
		for i := range entries {
			e := &entries[i]
			rows = append(rows, auditRow{
				CreatedAt: e.CreatedAt.UTC(),
				ActorID:   e.ActorID,
				Function:  e.Function,
				Severity:  string(e.Severity),
				ErrorType: e.ErrorType,
				Error:     e.Error,
				Payload:   e.Payload,
			})
		}

		return printJSON(w, rows)
	}

	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		detail := e.Error
		if detail == "" && len(e.Payload) > 0 {
			if b, err := json.Marshal(e.Payload); err == nil {
				detail = string(b)
			}
		}

		rows = append(rows, []string{
			formatTime(e.CreatedAt),
			string(e.Severity),
			e.Function,
			orDash(e.ActorID),
			orDash(e.ErrorType),
			truncate(detail, 100),
		})
	}

	printTable(w, []string{"TIME", "SEVERITY", "FUNCTION", "ACTOR", "TYPE", "DETAIL"}, rows)

	return nil
}
