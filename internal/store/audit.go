package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sqlInsertAudit = `INSERT INTO audit_log
	(id, created_at, actor_id, function, payload, error, error_type, severity)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// AppendAudit appends one entry. ID and CreatedAt are filled in when empty.
// The table has no update or delete path.
func (s *Store) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.nowFunc()
	}

	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	payload, err := encodeJSON(e.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, sqlInsertAudit,
		e.ID, toNanos(e.CreatedAt), nullString(e.ActorID), e.Function, payload,
		nullString(e.Error), nullString(e.ErrorType), e.Severity)
	if err != nil {
		return fmt.Errorf("store: appending audit entry %s: %w", e.Function, err)
	}

	return nil
}

// AuditFilter narrows ListAudit. Zero fields match everything.
type AuditFilter struct {
	ActorID  string
	Function string
	Severity Severity
	Since    time.Time
	Limit    int
}

// ListAudit returns entries matching f, newest first.
func (s *Store) ListAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var (
		conds []string
		args  []any
	)

	if f.ActorID != "" {
		conds = append(conds, "actor_id = ?")
		args = append(args, f.ActorID)
	}

	if f.Function != "" {
		conds = append(conds, "function = ?")
		args = append(args, f.Function)
	}

	if f.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, f.Severity)
	}

	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, toNanos(f.Since))
	}

	query := `SELECT id, created_at, actor_id, function, payload, error, error_type, severity FROM audit_log`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if f.Limit > 0 {
		query += ` LIMIT ?`

		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry

	for rows.Next() {
		var (
			e         AuditEntry
			createdAt int64
			actorID   sql.NullString
			payload   sql.NullString
			errMsg    sql.NullString
			errType   sql.NullString
		)

		if err := rows.Scan(&e.ID, &createdAt, &actorID, &e.Function, &payload, &errMsg, &errType, &e.Severity); err != nil {
			return nil, fmt.Errorf("store: scanning audit entry: %w", err)
		}

		p, err := decodeJSON(payload)
		if err != nil {
			return nil, err
		}

		e.CreatedAt = time.Unix(0, createdAt)
		e.ActorID = actorID.String
		e.Payload = p
		e.Error = errMsg.String
		e.ErrorType = errType.String

		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating audit log: %w", err)
	}

	return out, nil
}
