package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Rule Store used in fleet mode, mirroring
// the shape of the teacher's internal/store/pg PGSessionStore (a thin pool
// wrapper, no in-process caching beyond what the pool itself buffers).
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing pool. The caller is responsible for running
// migrations (see internal/store/pg and cmd's `migrate` subcommand) before
// constructing this store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetAll() ([]Rule, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, effect, tool, match, scope, scope_id, description, created_at, expires_at, protected
		FROM policy_rules WHERE expires_at IS NULL OR expires_at > now() ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var matchJSON []byte
		var expires *time.Time
		if err := rows.Scan(&r.ID, &r.Effect, &r.Tool, &matchJSON, &r.Scope, &r.ScopeID,
			&r.Description, &r.CreatedAt, &expires, &r.Protected); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if len(matchJSON) > 0 {
			if err := json.Unmarshal(matchJSON, &r.Match); err != nil {
				return nil, fmt.Errorf("unmarshal rule match: %w", err)
			}
		}
		r.ExpiresAt = expires
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Add(r Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	matchJSON, err := json.Marshal(r.Match)
	if err != nil {
		return fmt.Errorf("marshal rule match: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO policy_rules (id, effect, tool, match, scope, scope_id, description, created_at, expires_at, protected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.Effect, r.Tool, matchJSON, r.Scope, r.ScopeID, r.Description, r.CreatedAt, r.ExpiresAt, r.Protected)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *PGStore) Update(id string, partial PartialUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if partial.Effect != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE policy_rules SET effect = $1 WHERE id = $2`, *partial.Effect, id); err != nil {
			return fmt.Errorf("update rule effect: %w", err)
		}
	}
	if partial.Description != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE policy_rules SET description = $1 WHERE id = $2`, *partial.Description, id); err != nil {
			return fmt.Errorf("update rule description: %w", err)
		}
	}
	if partial.ExpiresAt != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE policy_rules SET expires_at = $1 WHERE id = $2`, *partial.ExpiresAt, id); err != nil {
			return fmt.Errorf("update rule expiry: %w", err)
		}
	}
	return nil
}

func (s *PGStore) Remove(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `DELETE FROM policy_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

func (s *PGStore) SeedIfEmpty(initial []Rule) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM policy_rules`).Scan(&count); err != nil {
		return fmt.Errorf("count rules: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, r := range initial {
		if err := s.Add(r); err != nil {
			return err
		}
	}
	return nil
}
