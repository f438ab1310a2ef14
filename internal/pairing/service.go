package pairing

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned by Exchange when the caller's address is in
// cool-down (spec.md §4.J).
var ErrRateLimited = errors.New("pairing: rate limited")

// ErrInvalidToken is returned by Exchange for an unknown, expired, or
// already-consumed pairing code.
var ErrInvalidToken = errors.New("pairing: invalid or expired token")

// Service is the orchestration layer the gateway's /pair HTTP handler and
// the `agentrelayd pairing` CLI both call into.
type Service struct {
	store   Store
	limiter *FailureLimiter
	codeTTL time.Duration
}

// NewService wires a Store with rate-limit thresholds (spec.md defaults:
// 5 failures / 60s -> 2m cool-down).
func NewService(store Store, codeTTL time.Duration, maxFails int, window, cooldown time.Duration) *Service {
	return &Service{
		store:   store,
		limiter: NewFailureLimiter(maxFails, window, cooldown),
		codeTTL: codeTTL,
	}
}

// GenerateCode creates a new pairing code for an operator to hand to a
// client out of band (CLI: `agentrelayd pairing generate`).
func (s *Service) GenerateCode(label string) (PairingToken, error) {
	return s.store.CreatePairingToken(label, s.codeTTL)
}

// Exchange consumes a pairing code from remoteAddr and, on success,
// returns a freshly minted device token. Failures are recorded against
// remoteAddr for rate limiting; remoteAddr in cool-down is rejected
// before even touching the store.
func (s *Service) Exchange(remoteAddr, code string) (string, error) {
	if !s.limiter.Allowed(remoteAddr) {
		return "", ErrRateLimited
	}

	tok, ok, err := s.store.ConsumePairingToken(code)
	if err != nil {
		return "", fmt.Errorf("consume pairing token: %w", err)
	}
	if !ok {
		s.limiter.RecordFailure(remoteAddr)
		return "", ErrInvalidToken
	}

	s.limiter.RecordSuccess(remoteAddr)
	_, raw, err := s.store.IssueDeviceToken(tok.Label)
	if err != nil {
		return "", fmt.Errorf("issue device token: %w", err)
	}
	return raw, nil
}

// Authenticate validates a device token presented by an incoming request,
// touching its last-seen timestamp on success. The static server token is
// not checked here (gateway.Server.authenticate compares it separately).
func (s *Service) Authenticate(raw string) bool {
	d, ok, err := s.store.ValidateDeviceToken(raw)
	if err != nil || !ok {
		return false
	}
	_ = s.store.TouchDevice(d.ID)
	return true
}

// ListDevices returns every issued device, for `agentrelayd pairing list`.
func (s *Service) ListDevices() ([]DeviceToken, error) { return s.store.ListDevices() }

// RevokeDevice disables a device token, for `agentrelayd pairing revoke`.
func (s *Service) RevokeDevice(id string) error { return s.store.RevokeDevice(id) }
