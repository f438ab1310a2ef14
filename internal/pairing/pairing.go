// Package pairing implements the device-pairing flow (SPEC_FULL.md
// "[EXPANSION] Device/pairing record"): a short-lived, single-use
// PairingToken is exchanged once for a long-lived, revocable DeviceToken.
// Grounded on the teacher's zalo-personal pairing-code flow
// (checkDMPolicy / sendPairingReply) for the shape of "short code, owner
// approval, long-lived token" — reimplemented here against this module's
// own device-token semantics rather than a chat-platform DM.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// PairingToken is a short-lived, single-use code an operator hands to a
// new client out of band (spec.md §4.J "Pairing").
type PairingToken struct {
	Code      string     `json:"code"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

func (t PairingToken) Expired(now time.Time) bool { return now.After(t.ExpiresAt) }
func (t PairingToken) Consumed() bool             { return t.ConsumedAt != nil }

// DeviceToken is a long-lived, revocable credential issued after a
// successful pairing exchange.
type DeviceToken struct {
	ID         string     `json:"id"`
	Label      string     `json:"label,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// Store persists pairing and device tokens keyed by hash, never by raw
// token value (spec.md §3 EXPANSION "persisted... keyed by token hash,
// never raw token").
type Store interface {
	// CreatePairingToken stores a new pairing code with the given TTL and
	// returns the raw code to hand to the operator.
	CreatePairingToken(label string, ttl time.Duration) (PairingToken, error)

	// ConsumePairingToken atomically marks a pairing code consumed and
	// returns it, or ok=false if unknown, expired, or already consumed.
	ConsumePairingToken(code string) (PairingToken, bool, error)

	// IssueDeviceToken mints a new device token, returning its raw value
	// (shown once) and the record (without the raw value).
	IssueDeviceToken(label string) (DeviceToken, string, error)

	// ValidateDeviceToken reports whether raw is a live, unrevoked device
	// token, returning its record.
	ValidateDeviceToken(raw string) (DeviceToken, bool, error)

	ListDevices() ([]DeviceToken, error)
	RevokeDevice(id string) error
	TouchDevice(id string) error
}

// hashToken returns the persisted, non-reversible form of a raw token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateCode returns a short, human-typeable pairing code: 6 base32
// characters drawn from crypto/rand, skipping visually ambiguous digits.
func generateCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	out := make([]byte, 6)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// generateDeviceToken returns a 32-byte random token, base32-encoded.
func generateDeviceToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device token: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
