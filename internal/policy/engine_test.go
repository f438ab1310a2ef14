package policy

import (
	"testing"
	"time"

	"github.com/agentrelay/gateway/internal/rules"
)

// fakeRuleProvider is an in-memory RuleProvider for engine tests.
type fakeRuleProvider struct {
	all []rules.Rule
}

func (f *fakeRuleProvider) GetAll() ([]rules.Rule, error) { return f.all, nil }

func TestLearnedAllowCannotOverrideHardDeny(t *testing.T) {
	provider := &fakeRuleProvider{all: []rules.Rule{
		{ID: "r1", Effect: rules.EffectAllow, Tool: ToolBash, Scope: rules.ScopeGlobal,
			Match: rules.MatchConditions{CommandPattern: "sudo *"}, Description: "learned allow"},
	}}
	engine := NewEngine(DefaultPreset(), provider)

	d := engine.Evaluate(GateRequest{Tool: ToolBash, Input: map[string]interface{}{"command": "sudo rm -rf /"}}, WorkspacePolicy{Runtime: RuntimeHost})
	if d.Action != ActionDeny {
		t.Fatalf("a learned allow must never override a hard-deny preset pattern, got %v (layer %s)", d.Action, d.Layer)
	}
	if d.Layer != LayerHardDenyPreset {
		t.Fatalf("expected layer %s, got %s", LayerHardDenyPreset, d.Layer)
	}
}

func TestSessionDenyOnlyMatchesOwnSession(t *testing.T) {
	provider := &fakeRuleProvider{all: []rules.Rule{
		{ID: "r1", Effect: rules.EffectDeny, Tool: ToolBash, Scope: rules.ScopeSession, ScopeID: "s1",
			Match: rules.MatchConditions{Executable: "npm"}, Description: "no npm in s1"},
	}}
	engine := NewEngine(Preset{Fallback: ActionAllow}, provider)

	d1 := engine.Evaluate(GateRequest{Tool: ToolBash, SessionID: "s1", Input: map[string]interface{}{"command": "npm install"}}, WorkspacePolicy{})
	if d1.Action != ActionDeny {
		t.Fatalf("expected deny for matching session, got %v", d1.Action)
	}

	d2 := engine.Evaluate(GateRequest{Tool: ToolBash, SessionID: "s2", Input: map[string]interface{}{"command": "npm install"}}, WorkspacePolicy{})
	if d2.Action != ActionAllow {
		t.Fatalf("a session-scoped deny must not fire for a different session, got %v", d2.Action)
	}
}

func TestWorkspaceAllowNeverFiresInAnotherWorkspace(t *testing.T) {
	provider := &fakeRuleProvider{all: []rules.Rule{
		{ID: "r1", Effect: rules.EffectAllow, Tool: ToolBash, Scope: rules.ScopeWorkspace, ScopeID: "w1",
			Match: rules.MatchConditions{Executable: "make"}, Description: "make ok in w1"},
	}}
	engine := NewEngine(Preset{Fallback: ActionAsk}, provider)

	d1 := engine.Evaluate(GateRequest{Tool: ToolBash, WorkspaceID: "w1", Input: map[string]interface{}{"command": "make build"}}, WorkspacePolicy{})
	if d1.Action != ActionAllow {
		t.Fatalf("expected allow in the rule's own workspace, got %v", d1.Action)
	}

	d2 := engine.Evaluate(GateRequest{Tool: ToolBash, WorkspaceID: "w2", Input: map[string]interface{}{"command": "make build"}}, WorkspacePolicy{})
	if d2.Action == ActionAllow {
		t.Fatalf("a workspace-scoped allow must never fire in another workspace")
	}
}

func TestProtectedPathHardDenyWinsOverEverything(t *testing.T) {
	engine := NewEngine(Preset{Fallback: ActionAllow}, &fakeRuleProvider{})
	d := engine.Evaluate(GateRequest{Tool: ToolWriteFile, Input: map[string]interface{}{"path": "/home/user/.ssh/id_rsa"}}, WorkspacePolicy{})
	if d.Action != ActionDeny {
		t.Fatalf("writing a protected path must deny regardless of fallback, got %v", d.Action)
	}
}

func TestExpiredHelperReportsPastExpiry(t *testing.T) {
	// Rule.Expired is the predicate the Rule Store's GetAll uses to drop
	// expired rules before the engine ever sees them (see
	// rules.TestFileStoreGetAllExcludesExpiredRules).
	r := rules.Rule{ExpiresAt: timePtr(time.Now().Add(-time.Hour))}
	if !r.Expired(time.Now()) {
		t.Fatal("expected rule to report expired")
	}
	if (rules.Rule{}).Expired(time.Now()) {
		t.Fatal("a rule with no ExpiresAt must never report expired")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
