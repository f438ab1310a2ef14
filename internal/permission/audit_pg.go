package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAuditStore is the Postgres-backed audit log used in fleet mode.
type PGAuditStore struct {
	pool *pgxpool.Pool
}

func NewPGAuditStore(pool *pgxpool.Pool) *PGAuditStore {
	return &PGAuditStore{pool: pool}
}

func (s *PGAuditStore) Append(e AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO policy_audit (timestamp, session_id, workspace_id, tool, input_summary, decision, layer, rule_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.Timestamp, e.SessionID, e.WorkspaceID, e.Tool, e.InputSummary, e.Decision, e.Layer, e.RuleID, e.Source)
	return err
}

func (s *PGAuditStore) List(opts AuditListOpts) ([]AuditEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `SELECT timestamp, session_id, workspace_id, tool, input_summary, decision, layer, rule_id, source
		FROM policy_audit WHERE 1=1`
	args := []interface{}{}
	n := 0
	next := func() int { n++; return n }

	if opts.SessionID != "" {
		query += fmt.Sprintf(" AND session_id = $%d", next())
		args = append(args, opts.SessionID)
	}
	if opts.WorkspaceID != "" {
		query += fmt.Sprintf(" AND workspace_id = $%d", next())
		args = append(args, opts.WorkspaceID)
	}
	if !opts.Before.IsZero() {
		query += fmt.Sprintf(" AND timestamp < $%d", next())
		args = append(args, opts.Before)
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", next())
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.Timestamp, &e.SessionID, &e.WorkspaceID, &e.Tool, &e.InputSummary,
			&e.Decision, &e.Layer, &e.RuleID, &e.Source); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
