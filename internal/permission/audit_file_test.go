package permission

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileAuditStoreAppendThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileAuditStore(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := AuditEntry{
		Timestamp:    time.Now().Truncate(time.Second),
		SessionID:    "s1",
		WorkspaceID:  "w1",
		Tool:         "bash",
		InputSummary: "echo hi",
		Decision:     "allow",
		Layer:        "host_auto_allow",
		Source:       SourcePolicy,
	}
	if err := store.Append(want); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, err := store.List(AuditListOpts{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0] != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got[0], want)
	}
}

func TestFileAuditStoreFiltersBySession(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileAuditStore(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.Append(AuditEntry{SessionID: "s1", Timestamp: time.Now()})
	store.Append(AuditEntry{SessionID: "s2", Timestamp: time.Now()})

	got, err := store.List(AuditListOpts{SessionID: "s1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("expected exactly the s1 entry, got %+v", got)
	}
}
