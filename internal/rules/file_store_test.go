package rules

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreAddPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s1.Add(Rule{Effect: EffectAllow, Tool: "bash", Scope: ScopeGlobal, Description: "test"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	all, err := s2.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(all) != 1 || all[0].Description != "test" {
		t.Fatalf("expected the persisted rule to survive reload, got %+v", all)
	}
}

func TestFileStoreGetAllNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Add(Rule{Description: "first"})
	s.Add(Rule{Description: "second"})

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(all) != 2 || all[0].Description != "second" {
		t.Fatalf("expected newest-first order, got %+v", all)
	}
}

func TestFileStoreSeedIfEmptyOnlySeedsOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seed := []Rule{{Description: "seeded"}}
	if err := s.SeedIfEmpty(seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := s.Add(Rule{Description: "manual"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := s.SeedIfEmpty(seed); err != nil {
		t.Fatalf("second seed call failed: %v", err)
	}
	all, _ := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("SeedIfEmpty must not reseed once the store is non-empty, got %d rules", len(all))
	}
}

func TestDomainMatchesSubdomainsOnly(t *testing.T) {
	r := Rule{Match: MatchConditions{Domain: "github.com"}}
	if !r.Matches("browser", MatchConditions{Domain: "api.github.com"}) {
		t.Fatal("expected a subdomain of the rule's domain to match")
	}
	if !r.Matches("browser", MatchConditions{Domain: "github.com"}) {
		t.Fatal("expected an exact domain match")
	}
	if r.Matches("browser", MatchConditions{Domain: "evilgithub.com"}) {
		t.Fatal("a domain that merely contains the rule's domain as a substring must not match")
	}
}

func TestFileStoreGetAllExcludesExpiredRules(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "rules.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	s.Add(Rule{Description: "expired", ExpiresAt: &past})
	s.Add(Rule{Description: "still-valid", ExpiresAt: &future})
	s.Add(Rule{Description: "no-expiry"})

	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected the expired rule to be excluded, got %+v", all)
	}
	for _, r := range all {
		if r.Description == "expired" {
			t.Fatalf("expired rule must not be returned by GetAll: %+v", r)
		}
	}
}

func TestAppliesToScopeIsolation(t *testing.T) {
	sessionRule := Rule{Scope: ScopeSession, ScopeID: "s1"}
	if !sessionRule.AppliesTo("s1", "w1") {
		t.Fatal("expected the rule to apply to its own session")
	}
	if sessionRule.AppliesTo("s2", "w1") {
		t.Fatal("a session rule must not apply to a different session")
	}

	workspaceRule := Rule{Scope: ScopeWorkspace, ScopeID: "w1"}
	if workspaceRule.AppliesTo("s1", "w2") {
		t.Fatal("a workspace rule must not apply to a different workspace")
	}
}
