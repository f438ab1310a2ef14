// Package permission implements the Permission Gate (spec.md §4.E): the
// pending-decisions registry that turns a Policy Engine "ask" into a
// phone round-trip with a timeout, plus the append-only audit log.
//
// Grounded on the teacher's pairing-request/approval flow
// (internal/channels/zalo/personal/policy.go sendPairingReply) and
// pkg/protocol/methods.go's MethodApprovalsList/Approve/Deny and
// EventExecApprovalReq/Res constants — the teacher already has the wire
// vocabulary for "ask, then resolve by id"; this generalizes its single
// exec-approval flow into the fuller Pending Decision registry with
// scoped rule persistence.
package permission

import "time"

// AuditSource distinguishes a gate decision reached structurally (by the
// Policy Engine) from one reached by a phone response.
type AuditSource string

const (
	SourcePolicy AuditSource = "policy"
	SourceUser   AuditSource = "user"
)

// AuditEntry is one append-only record of a gate decision (spec.md §4.E).
type AuditEntry struct {
	Timestamp   time.Time   `json:"timestamp"`
	SessionID   string      `json:"sessionId"`
	WorkspaceID string      `json:"workspaceId"`
	Tool        string      `json:"tool"`
	InputSummary string     `json:"inputSummary"`
	Decision    string      `json:"decision"` // allow|ask|deny (final)
	Layer       string      `json:"layer"`
	RuleID      string      `json:"ruleId,omitempty"`
	Source      AuditSource `json:"source"`
}

// AuditListOpts filters List queries.
type AuditListOpts struct {
	Limit       int
	Before      time.Time
	SessionID   string
	WorkspaceID string
}

// AuditStore is the append-only audit log interface (spec.md §4.E,
// implemented by a JSONL file store and a Postgres store).
type AuditStore interface {
	Append(e AuditEntry) error
	List(opts AuditListOpts) ([]AuditEntry, error)
}
