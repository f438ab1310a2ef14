package permission

import (
	"sync"
	"testing"
	"time"

	"github.com/agentrelay/gateway/internal/policy"
	"github.com/agentrelay/gateway/internal/rules"
)

type memAuditStore struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *memAuditStore) Append(e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}
func (m *memAuditStore) List(AuditListOpts) ([]AuditEntry, error) { return m.entries, nil }

type memSink struct {
	mu        sync.Mutex
	resolved  []string
	expired   []string
	cancelled []string
}

func (s *memSink) PublishPendingDecision(PendingDecision) {}
func (s *memSink) PublishResolved(id string, allow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, id)
}
func (s *memSink) PublishExpired(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, id)
}
func (s *memSink) PublishCancelled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
}

type askProvider struct{}

func (askProvider) GetAll() ([]rules.Rule, error) { return nil, nil }

func askingEngine() *policy.Engine {
	return policy.NewEngine(policy.Preset{Fallback: policy.ActionAsk}, askProvider{})
}

// TestResolveThenExpireIsNoOp asserts a PendingDecision resolved by the
// phone cannot also be resolved by its own timeout (I7).
func TestResolveThenExpireIsNoOp(t *testing.T) {
	sink := &memSink{}
	g := NewGate(askingEngine(), nil, &memAuditStore{}, sink)

	var action policy.Action
	done := make(chan struct{})
	go func() {
		action = g.Evaluate(policy.GateRequest{Tool: "bash", SessionID: "s1", Input: map[string]interface{}{"command": "echo hi"}}, policy.WorkspacePolicy{}, true)
		close(done)
	}()

	// Grab the id once it is registered.
	var id string
	for i := 0; i < 1000 && id == ""; i++ {
		pending := g.ListPending("s1", "")
		if len(pending) > 0 {
			id = pending[0].ID
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	if id == "" {
		t.Fatal("expected a pending decision to be registered")
	}

	if err := g.Resolve(id, Resolution{Allow: true}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	<-done
	if action != policy.ActionAllow {
		t.Fatalf("expected allow from phone resolution, got %v", action)
	}

	// A second Resolve (simulating a racing expire-driven resolve) must be
	// a silent no-op, not a double-resolve.
	if err := g.Resolve(id, Resolution{Allow: false}); err != nil {
		t.Fatalf("second resolve of an already-resolved id must be a no-op, got error: %v", err)
	}
	// The timeout path itself must also find nothing left to resolve.
	g.expire(id)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.resolved) != 1 {
		t.Fatalf("expected exactly one resolution published, got %d", len(sink.resolved))
	}
	if len(sink.expired) != 0 {
		t.Fatalf("an expire after a phone resolution must not publish an expiry, got %d", len(sink.expired))
	}
}

// TestCancelSessionResolvesExactlyOnce asserts CancelSession resolves every
// pending decision for a session exactly once, and a subsequent Resolve for
// the same id is a no-op.
func TestCancelSessionResolvesExactlyOnce(t *testing.T) {
	sink := &memSink{}
	g := NewGate(askingEngine(), nil, &memAuditStore{}, sink)

	done := make(chan struct{})
	go func() {
		g.Evaluate(policy.GateRequest{Tool: "bash", SessionID: "s1", Input: map[string]interface{}{"command": "echo hi"}}, policy.WorkspacePolicy{}, true)
		close(done)
	}()

	var id string
	for i := 0; i < 1000 && id == ""; i++ {
		pending := g.ListPending("s1", "")
		if len(pending) > 0 {
			id = pending[0].ID
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	if id == "" {
		t.Fatal("expected a pending decision to be registered")
	}

	g.CancelSession("s1")
	<-done

	if err := g.Resolve(id, Resolution{Allow: true}); err != nil {
		t.Fatalf("resolve after cancel must be a silent no-op, got error: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.cancelled) != 1 {
		t.Fatalf("expected exactly one cancellation, got %d", len(sink.cancelled))
	}
	if len(sink.resolved) != 0 {
		t.Fatalf("a post-cancel Resolve must not additionally publish a resolution, got %d", len(sink.resolved))
	}
}
