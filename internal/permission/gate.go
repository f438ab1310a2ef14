package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/gateway/internal/policy"
	"github.com/agentrelay/gateway/internal/rules"
	"github.com/agentrelay/gateway/internal/tracing"
)

// DefaultApprovalTimeout is the ask-timeout used unless the caller opts
// out via Expires: false (spec.md §5).
const DefaultApprovalTimeout = 120 * time.Second

// PendingDecision is an in-flight ask awaiting a phone response or timeout
// (spec.md §3).
type PendingDecision struct {
	ID                string
	SessionID         string
	WorkspaceID       string
	Tool              string
	Input             map[string]interface{}
	DisplaySummary    string
	Reason            string
	TimeoutAt         time.Time
	Expires           bool
	ResolutionOptions []policy.ResolutionOption
}

// Resolution is how the phone resolves a PendingDecision.
type Resolution struct {
	Allow       bool
	Scope       rules.Scope // "" means "once" — no rule persisted
	ExpiresIn   time.Duration
}

// EventSink receives the events the gate publishes: approval_needed
// (permission_request), approval_resolved, approval_timeout
// (permission_expired), and cancellation (permission_cancelled).
type EventSink interface {
	PublishPendingDecision(pd PendingDecision)
	PublishResolved(id string, allow bool)
	PublishExpired(id string)
	PublishCancelled(id string)
}

type entry struct {
	pd       PendingDecision
	decision policy.Decision
	resultCh chan policy.Action
	timer    *time.Timer
	resolved bool
}

// Gate is the Permission Gate: the single source of truth for "tool may
// proceed" (spec.md §4.E).
type Gate struct {
	engine *policy.Engine
	rules  rules.Store
	audit  AuditStore
	sink   EventSink

	mu      sync.Mutex
	pending map[string]*entry
}

// NewGate constructs a Gate.
func NewGate(engine *policy.Engine, ruleStore rules.Store, audit AuditStore, sink EventSink) *Gate {
	return &Gate{
		engine:  engine,
		rules:   ruleStore,
		audit:   audit,
		sink:    sink,
		pending: make(map[string]*entry),
	}
}

// Evaluate runs the request through the Policy Engine. An allow/deny
// returns synchronously with an audit entry appended. An "ask" blocks the
// caller (without holding any lock) until the phone resolves it, the
// timeout fires, or the session ends — exactly one of which resolves the
// PendingDecision (spec.md I7).
func (g *Gate) Evaluate(req policy.GateRequest, ws policy.WorkspacePolicy, expires bool) policy.Action {
	_, span := tracing.StartPolicySpan(context.Background(), req.Tool)
	decision := g.engine.Evaluate(req, ws)
	defer tracing.EndPolicySpan(span, decision.Layer, string(decision.Action))

	if decision.Action != policy.ActionAsk {
		g.auditAppend(req, decision, SourcePolicy)
		return decision.Action
	}

	id := uuid.NewString()
	timeout := DefaultApprovalTimeout
	pd := PendingDecision{
		ID:                id,
		SessionID:         req.SessionID,
		WorkspaceID:       req.WorkspaceID,
		Tool:              req.Tool,
		Input:             req.Input,
		DisplaySummary:    decision.DisplaySummary,
		Reason:            decision.Reason,
		Expires:           expires,
		ResolutionOptions: decision.ResolutionOptions,
	}
	if expires {
		pd.TimeoutAt = time.Now().Add(timeout)
	}

	e := &entry{pd: pd, decision: decision, resultCh: make(chan policy.Action, 1)}

	g.mu.Lock()
	g.pending[id] = e
	if expires {
		e.timer = time.AfterFunc(timeout, func() { g.expire(id) })
	}
	g.mu.Unlock()

	if g.sink != nil {
		g.sink.PublishPendingDecision(pd)
	}

	action := <-e.resultCh
	return action
}

// Resolve applies a phone response to a pending decision. Resolving an
// already-resolved or unknown id is a no-op (idempotent, matching I7 —
// resolved exactly once by exactly one path).
func (g *Gate) Resolve(id string, res Resolution) error {
	g.mu.Lock()
	e, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	if e.resolved {
		g.mu.Unlock()
		return nil
	}
	e.resolved = true
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(g.pending, id)
	g.mu.Unlock()

	action := policy.ActionDeny
	if res.Allow {
		action = policy.ActionAllow
	}

	finalDecision := e.decision
	finalDecision.Action = action
	g.auditAppend(policy.GateRequest{
		Tool:        e.pd.Tool,
		Input:       e.pd.Input,
		SessionID:   e.pd.SessionID,
		WorkspaceID: e.pd.WorkspaceID,
	}, finalDecision, SourceUser)

	if res.Allow && res.Scope != "" && g.rules != nil && e.decision.Suggested != nil {
		r := *e.decision.Suggested
		r.Scope = res.Scope
		switch res.Scope {
		case rules.ScopeSession:
			r.ScopeID = e.pd.SessionID
		case rules.ScopeWorkspace:
			r.ScopeID = e.pd.WorkspaceID
		}
		if res.ExpiresIn > 0 {
			exp := time.Now().Add(res.ExpiresIn)
			r.ExpiresAt = &exp
		}
		if err := g.rules.Add(r); err != nil {
			return fmt.Errorf("persist learned rule: %w", err)
		}
	}
	if !res.Allow && res.Scope != "" && g.rules != nil && e.decision.Suggested != nil {
		r := *e.decision.Suggested
		r.Effect = rules.EffectDeny
		r.Scope = res.Scope
		switch res.Scope {
		case rules.ScopeSession:
			r.ScopeID = e.pd.SessionID
		case rules.ScopeWorkspace:
			r.ScopeID = e.pd.WorkspaceID
		}
		if res.ExpiresIn > 0 {
			exp := time.Now().Add(res.ExpiresIn)
			r.ExpiresAt = &exp
		}
		if err := g.rules.Add(r); err != nil {
			return fmt.Errorf("persist learned rule: %w", err)
		}
	}

	if g.sink != nil {
		g.sink.PublishResolved(id, res.Allow)
	}
	e.resultCh <- action
	return nil
}

func (g *Gate) expire(id string) {
	g.mu.Lock()
	e, ok := g.pending[id]
	if !ok || e.resolved {
		g.mu.Unlock()
		return
	}
	e.resolved = true
	delete(g.pending, id)
	g.mu.Unlock()

	finalDecision := e.decision
	finalDecision.Action = policy.ActionDeny
	g.auditAppend(policy.GateRequest{
		Tool:        e.pd.Tool,
		Input:       e.pd.Input,
		SessionID:   e.pd.SessionID,
		WorkspaceID: e.pd.WorkspaceID,
	}, finalDecision, SourcePolicy)

	if g.sink != nil {
		g.sink.PublishExpired(id)
	}
	e.resultCh <- policy.ActionDeny
}

// CancelSession cancels every pending decision belonging to sessionID with
// permission_cancelled — used on session end (spec.md §4.E).
func (g *Gate) CancelSession(sessionID string) {
	g.mu.Lock()
	var toCancel []*entry
	for id, e := range g.pending {
		if e.pd.SessionID != sessionID {
			continue
		}
		e.resolved = true
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(g.pending, id)
		toCancel = append(toCancel, e)
	}
	g.mu.Unlock()

	for _, e := range toCancel {
		if g.sink != nil {
			g.sink.PublishCancelled(e.pd.ID)
		}
		e.resultCh <- policy.ActionDeny
	}
}

// ListPending returns a snapshot of pending decisions, optionally filtered
// by sessionId or workspaceId (spec.md §6 GET /permissions/pending).
func (g *Gate) ListPending(sessionID, workspaceID string) []PendingDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []PendingDecision
	for _, e := range g.pending {
		if sessionID != "" && e.pd.SessionID != sessionID {
			continue
		}
		if workspaceID != "" && e.pd.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, e.pd)
	}
	return out
}

func (g *Gate) auditAppend(req policy.GateRequest, d policy.Decision, source AuditSource) {
	if g.audit == nil {
		return
	}
	g.audit.Append(AuditEntry{
		Timestamp:    time.Now(),
		SessionID:    req.SessionID,
		WorkspaceID:  req.WorkspaceID,
		Tool:         req.Tool,
		InputSummary: d.DisplaySummary,
		Decision:     string(d.Action),
		Layer:        d.Layer,
		RuleID:       d.RuleID,
		Source:       source,
	})
}
