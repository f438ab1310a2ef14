// Package pg implements SessionStore (and the PGStores wiring) over
// Postgres for fleet mode, grounded on the teacher's internal/store/pg
// factory idiom and the rules.PGStore/audit PGAuditStore upsert patterns
// used elsewhere in this module.
package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrelay/gateway/internal/store"
)

// SessionStore is the Postgres-backed SessionStore used in fleet mode.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore wraps an existing pool. Use Migrate (cmd/migrate) to
// create the schema.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) Save(sess store.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tracePaths, err := json.Marshal(sess.TracePaths)
	if err != nil {
		return fmt.Errorf("marshal trace paths: %w", err)
	}
	changeStats, err := json.Marshal(sess.ChangeStats)
	if err != nil {
		return fmt.Errorf("marshal change stats: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, workspace_id, display_name, status, model, thinking_level,
			context_window, trace_paths, last_activity, created_at, change_stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			display_name = EXCLUDED.display_name,
			status = EXCLUDED.status,
			model = EXCLUDED.model,
			thinking_level = EXCLUDED.thinking_level,
			context_window = EXCLUDED.context_window,
			trace_paths = EXCLUDED.trace_paths,
			last_activity = EXCLUDED.last_activity,
			change_stats = EXCLUDED.change_stats`,
		sess.ID, sess.WorkspaceID, sess.DisplayName, string(sess.Status), sess.Model, sess.ThinkingLevel,
		sess.ContextWindow, tracePaths, sess.LastActivity, sess.CreatedAt, changeStats)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(id string) (store.Session, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, display_name, status, model, thinking_level,
			context_window, trace_paths, last_activity, created_at, change_stats
		FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		if err == pgxNoRows {
			return store.Session{}, false, nil
		}
		return store.Session{}, false, err
	}
	return sess, true, nil
}

func (s *SessionStore) List() ([]store.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, display_name, status, model, thinking_level,
			context_window, trace_paths, last_activity, created_at, change_stats
		FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

var pgxNoRows = fmt.Errorf("no rows")

func scanSession(r rowScanner) (store.Session, error) {
	var sess store.Session
	var statusStr string
	var tracePaths, changeStats []byte

	if err := r.Scan(&sess.ID, &sess.WorkspaceID, &sess.DisplayName, &statusStr, &sess.Model,
		&sess.ThinkingLevel, &sess.ContextWindow, &tracePaths, &sess.LastActivity, &sess.CreatedAt,
		&changeStats); err != nil {
		if err.Error() == "no rows in result set" {
			return store.Session{}, pgxNoRows
		}
		return store.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = store.Status(statusStr)
	if len(tracePaths) > 0 {
		_ = json.Unmarshal(tracePaths, &sess.TracePaths)
	}
	if len(changeStats) > 0 {
		_ = json.Unmarshal(changeStats, &sess.ChangeStats)
	}
	return sess, nil
}
