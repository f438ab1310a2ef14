package turns

import (
	"testing"
	"time"
)

func TestAcceptIsIdempotentForSameTurn(t *testing.T) {
	c := NewCache(10, time.Minute)
	hash := HashPayload("prompt", map[string]interface{}{"message": "hi"})

	rec1, dup1, err := c.Accept("t1", "prompt", hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup1 {
		t.Fatal("first Accept must not report duplicate")
	}
	if rec1.Stage != StageAccepted {
		t.Fatalf("expected StageAccepted, got %v", rec1.Stage)
	}

	c.UpdateStage("t1", StageDispatched)

	rec2, dup2, err := c.Accept("t1", "prompt", hash)
	if err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
	if !dup2 {
		t.Fatal("retry with identical command/payload must report duplicate")
	}
	if rec2.Stage != StageDispatched {
		t.Fatalf("duplicate Accept must return the cached stage, got %v", rec2.Stage)
	}
}

func TestAcceptConflictsOnDifferentPayload(t *testing.T) {
	c := NewCache(10, time.Minute)
	hiHash := HashPayload("prompt", map[string]interface{}{"message": "hi"})
	byeHash := HashPayload("prompt", map[string]interface{}{"message": "bye"})

	if _, _, err := c.Accept("t1", "prompt", hiHash); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err := c.Accept("t1", "prompt", byeHash)
	if err == nil {
		t.Fatal("expected a conflict error for a reused clientTurnId with a different payload")
	}
	if _, ok := err.(*ConflictError); !ok {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
}

func TestAcceptConflictsOnDifferentCommand(t *testing.T) {
	c := NewCache(10, time.Minute)
	hash := HashPayload("prompt", nil)
	if _, _, err := c.Accept("t1", "prompt", hash); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, err := c.Accept("t1", "steer", hash)
	if err == nil {
		t.Fatal("expected a conflict error for a reused clientTurnId with a different command")
	}
}

func TestUpdateStageNeverRegresses(t *testing.T) {
	c := NewCache(10, time.Minute)
	hash := HashPayload("prompt", nil)
	c.Accept("t1", "prompt", hash)
	c.UpdateStage("t1", StageStarted)
	rec, ok := c.UpdateStage("t1", StageAccepted)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Stage != StageStarted {
		t.Fatalf("stage must not regress: expected StageStarted, got %v", rec.Stage)
	}
}

func TestHashPayloadStableAcrossKeyOrder(t *testing.T) {
	a := HashPayload("prompt", map[string]interface{}{"a": 1, "b": 2})
	b := HashPayload("prompt", map[string]interface{}{"b": 2, "a": 1})
	if a != b {
		t.Fatal("HashPayload must canonicalize map key order")
	}
}

func TestCacheEvictsOverCapacity(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Accept("t1", "prompt", "h1")
	c.Accept("t2", "prompt", "h2")
	c.Accept("t3", "prompt", "h3")
	if c.Len() != 2 {
		t.Fatalf("expected capacity-bounded length 2, got %d", c.Len())
	}
	if _, ok := c.Get("t1"); ok {
		t.Fatal("expected the least-recently-used entry (t1) to have been evicted")
	}
}
