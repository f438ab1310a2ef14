package pairing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the fleet-mode implementation of Store. Pairing tokens are
// deliberately not persisted to Postgres: they are short-lived and
// single-gateway by construction (a pairing exchange always happens
// against the one gateway instance a phone is talking to), so they are
// kept in an in-process map guarded by a mutex. Device tokens, which must
// be revocable fleet-wide, go to the `devices` table.
type PGStore struct {
	pool *pgxpool.Pool
	mem  *memPairingTokens
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, mem: newMemPairingTokens()}
}

func (s *PGStore) CreatePairingToken(label string, ttl time.Duration) (PairingToken, error) {
	return s.mem.create(label, ttl)
}

func (s *PGStore) ConsumePairingToken(code string) (PairingToken, bool, error) {
	return s.mem.consume(code)
}

func (s *PGStore) IssueDeviceToken(label string) (DeviceToken, string, error) {
	raw, err := generateDeviceToken()
	if err != nil {
		return DeviceToken{}, "", err
	}
	d := DeviceToken{ID: uuid.NewString(), Label: label, CreatedAt: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = s.pool.Exec(ctx, `INSERT INTO devices (token_hash, label, created_at, revoked) VALUES ($1, $2, $3, FALSE)`,
		hashToken(raw), label, d.CreatedAt)
	if err != nil {
		return DeviceToken{}, "", fmt.Errorf("insert device token: %w", err)
	}
	return d, raw, nil
}

func (s *PGStore) ValidateDeviceToken(raw string) (DeviceToken, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d DeviceToken
	var lastSeen *time.Time
	row := s.pool.QueryRow(ctx, `SELECT token_hash, label, created_at, last_seen_at, revoked FROM devices WHERE token_hash = $1`, hashToken(raw))
	var tokenHash string
	if err := row.Scan(&tokenHash, &d.Label, &d.CreatedAt, &lastSeen, &d.Revoked); err != nil {
		if err == pgx.ErrNoRows {
			return DeviceToken{}, false, nil
		}
		return DeviceToken{}, false, fmt.Errorf("query device token: %w", err)
	}
	d.ID = tokenHash
	d.LastSeenAt = lastSeen
	if d.Revoked {
		return d, false, nil
	}
	return d, true, nil
}

func (s *PGStore) ListDevices() ([]DeviceToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT token_hash, label, created_at, last_seen_at, revoked FROM devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceToken
	for rows.Next() {
		var d DeviceToken
		if err := rows.Scan(&d.ID, &d.Label, &d.CreatedAt, &d.LastSeenAt, &d.Revoked); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) RevokeDevice(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `UPDATE devices SET revoked = TRUE WHERE token_hash = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	return nil
}

func (s *PGStore) TouchDevice(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `UPDATE devices SET last_seen_at = $1 WHERE token_hash = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// memPairingTokens is a small mutex-guarded in-process pairing-code store
// shared by PGStore (fleet mode still pairs against one gateway at a
// time).
type memPairingTokens struct {
	mu     sync.Mutex
	tokens map[string]PairingToken
}

func newMemPairingTokens() *memPairingTokens {
	return &memPairingTokens{tokens: make(map[string]PairingToken)}
}

func (m *memPairingTokens) create(label string, ttl time.Duration) (PairingToken, error) {
	code, err := generateCode()
	if err != nil {
		return PairingToken{}, err
	}
	now := time.Now()
	t := PairingToken{Code: code, Label: label, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	m.mu.Lock()
	m.tokens[hashToken(code)] = t
	m.mu.Unlock()
	return t, nil
}

func (m *memPairingTokens) consume(code string) (PairingToken, bool, error) {
	h := hashToken(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[h]
	if !ok {
		return PairingToken{}, false, nil
	}
	if t.Consumed() || t.Expired(time.Now()) {
		return t, false, nil
	}
	now := time.Now()
	t.ConsumedAt = &now
	m.tokens[h] = t
	return t, true, nil
}
