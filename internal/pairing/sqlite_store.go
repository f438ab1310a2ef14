package pairing

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded, local-file implementation of Store used in
// standalone mode — the "embedded/local fallback store" named in
// SPEC_FULL.md's ambient stack table. Pairing codes and device tokens
// need atomic single-use consumption and revocation, which a plain
// JSONL/snapshot file makes awkward; a tiny local database is the
// idiomatic fit the pack shows for this shape of state.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens (creating and migrating if necessary) a SQLite
// database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	schema := []string{
		`CREATE TABLE IF NOT EXISTS pairing_tokens (
			code_hash TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			consumed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			token_hash TEXT UNIQUE NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_seen_at INTEGER,
			revoked INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create pairing schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreatePairingToken(label string, ttl time.Duration) (PairingToken, error) {
	code, err := generateCode()
	if err != nil {
		return PairingToken{}, err
	}
	now := time.Now()
	t := PairingToken{Code: code, Label: label, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO pairing_tokens (code_hash, label, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		hashToken(code), label, now.Unix(), t.ExpiresAt.Unix())
	if err != nil {
		return PairingToken{}, fmt.Errorf("insert pairing token: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ConsumePairingToken(code string) (PairingToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := hashToken(code)
	var label string
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64
	row := s.db.QueryRow(`SELECT label, created_at, expires_at, consumed_at FROM pairing_tokens WHERE code_hash = ?`, h)
	if err := row.Scan(&label, &createdAt, &expiresAt, &consumedAt); err != nil {
		if err == sql.ErrNoRows {
			return PairingToken{}, false, nil
		}
		return PairingToken{}, false, fmt.Errorf("query pairing token: %w", err)
	}

	t := PairingToken{
		Code:      code,
		Label:     label,
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}
	if consumedAt.Valid {
		ts := time.Unix(consumedAt.Int64, 0)
		t.ConsumedAt = &ts
		return t, false, nil
	}
	if t.Expired(time.Now()) {
		return t, false, nil
	}

	now := time.Now()
	res, err := s.db.Exec(`UPDATE pairing_tokens SET consumed_at = ? WHERE code_hash = ? AND consumed_at IS NULL`,
		now.Unix(), h)
	if err != nil {
		return PairingToken{}, false, fmt.Errorf("consume pairing token: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// raced with a concurrent consumer
		return t, false, nil
	}
	t.ConsumedAt = &now
	return t, true, nil
}

func (s *SQLiteStore) IssueDeviceToken(label string) (DeviceToken, string, error) {
	raw, err := generateDeviceToken()
	if err != nil {
		return DeviceToken{}, "", err
	}
	d := DeviceToken{ID: uuid.NewString(), Label: label, CreatedAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO devices (id, token_hash, label, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, hashToken(raw), label, d.CreatedAt.Unix())
	if err != nil {
		return DeviceToken{}, "", fmt.Errorf("insert device token: %w", err)
	}
	return d, raw, nil
}

func (s *SQLiteStore) ValidateDeviceToken(raw string) (DeviceToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d DeviceToken
	var createdAt int64
	var lastSeenAt sql.NullInt64
	var revoked int
	row := s.db.QueryRow(`SELECT id, label, created_at, last_seen_at, revoked FROM devices WHERE token_hash = ?`, hashToken(raw))
	if err := row.Scan(&d.ID, &d.Label, &createdAt, &lastSeenAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return DeviceToken{}, false, nil
		}
		return DeviceToken{}, false, fmt.Errorf("query device token: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	if lastSeenAt.Valid {
		ts := time.Unix(lastSeenAt.Int64, 0)
		d.LastSeenAt = &ts
	}
	d.Revoked = revoked != 0
	if d.Revoked {
		return d, false, nil
	}
	return d, true, nil
}

func (s *SQLiteStore) ListDevices() ([]DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, label, created_at, last_seen_at, revoked FROM devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceToken
	for rows.Next() {
		var d DeviceToken
		var createdAt int64
		var lastSeenAt sql.NullInt64
		var revoked int
		if err := rows.Scan(&d.ID, &d.Label, &createdAt, &lastSeenAt, &revoked); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		if lastSeenAt.Valid {
			ts := time.Unix(lastSeenAt.Int64, 0)
			d.LastSeenAt = &ts
		}
		d.Revoked = revoked != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RevokeDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE devices SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke device: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE devices SET last_seen_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}
