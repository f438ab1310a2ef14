// Package rules implements the Rule Store (spec.md §4.D): a persistent,
// scope-aware (session/workspace/global) ordered list of allow/deny rules
// learned from user approvals or seeded at startup.
//
// Grounded on the teacher's internal/sessions/manager.go Save/loadAll
// atomic-write-then-rename pattern, generalized from one-session-per-file
// to one-rules-file (ordered JSON list) with the same temp+rename
// durability technique. The Postgres variant is grounded on
// internal/store/pg/sessions.go and factory.go.
package rules

import "time"

// Effect is the outcome a Rule enforces when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Scope determines which requests a Rule matches.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeWorkspace Scope = "workspace"
	ScopeGlobal    Scope = "global"
)

// MatchConditions is a subset of conjunctive match fields. All non-empty
// fields must match for the rule to fire (spec.md §3 "Rule").
type MatchConditions struct {
	Executable     string `json:"executable,omitempty"`
	Domain         string `json:"domain,omitempty"`
	PathPattern    string `json:"pathPattern,omitempty"`
	CommandPattern string `json:"commandPattern,omitempty"`
}

// Rule is a persistent, scope-aware allow/deny rule.
type Rule struct {
	ID          string          `json:"id"`
	Effect      Effect          `json:"effect"`
	Tool        string          `json:"tool"`
	Match       MatchConditions `json:"match"`
	Scope       Scope           `json:"scope"`
	ScopeID     string          `json:"scopeId,omitempty"` // sessionId or workspaceId, unset for global
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`

	// Protected marks rules that may not be weakened or removed via the
	// REST API (spec.md §6 "weakening a protected rule is 400").
	Protected bool `json:"protected,omitempty"`
}

// Expired reports whether the rule has passed its ExpiresAt, if any.
func (r Rule) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// AppliesTo reports whether the rule's scope matches the given session and
// workspace ids (spec.md §4.D "Scoping rules").
func (r Rule) AppliesTo(sessionID, workspaceID string) bool {
	switch r.Scope {
	case ScopeSession:
		return r.ScopeID == sessionID
	case ScopeWorkspace:
		return r.ScopeID == workspaceID
	case ScopeGlobal:
		return true
	default:
		return false
	}
}

// Matches reports whether every non-empty MatchConditions field on r
// matches the corresponding candidate field.
func (r Rule) Matches(tool string, cand MatchConditions) bool {
	if r.Tool != "" && r.Tool != tool {
		return false
	}
	if r.Match.Executable != "" && r.Match.Executable != cand.Executable {
		return false
	}
	if r.Match.Domain != "" && !domainMatches(r.Match.Domain, cand.Domain) {
		return false
	}
	if r.Match.PathPattern != "" && !pathPatternMatches(r.Match.PathPattern, cand.PathPattern) {
		return false
	}
	if r.Match.CommandPattern != "" && !commandPatternMatches(r.Match.CommandPattern, cand.CommandPattern) {
		return false
	}
	return true
}

// PartialUpdate carries the fields a PATCH /policy/rules/<id> request may
// change. Nil fields are left untouched.
type PartialUpdate struct {
	Effect      *Effect
	Description *string
	ExpiresAt   *time.Time
}

// Store is the Rule Store interface implemented by the file-backed and
// Postgres-backed variants.
type Store interface {
	GetAll() ([]Rule, error)
	Add(r Rule) error
	Update(id string, partial PartialUpdate) error
	Remove(id string) error
	SeedIfEmpty(initial []Rule) error
}
