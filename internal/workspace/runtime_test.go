package workspace

import (
	"context"
	"testing"
	"time"
)

func TestAcquireSessionThenWorkspaceOrdering(t *testing.T) {
	rt := New()
	ctx := context.Background()

	sessHandle, err := rt.AcquireSession(ctx, "w1", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wsHandle, err := rt.AcquireWorkspace(ctx, "w1")
	if err != nil {
		t.Fatalf("unexpected error acquiring workspace lock while holding session lock: %v", err)
	}
	wsHandle.Release()
	sessHandle.Release()
}

func TestSessionLockIsPerSession(t *testing.T) {
	rt := New()
	ctx := context.Background()

	h1, err := rt.AcquireSession(ctx, "w1", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h1.Release()

	// A different session in the same workspace must not block.
	done := make(chan struct{})
	go func() {
		h2, err := rt.AcquireSession(ctx, "w1", "s2")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("a different session's lock must not be blocked by another session's lock")
	}
}

func TestReserveSlotExhaustion(t *testing.T) {
	rt := New()
	if err := rt.ReserveSlot("w1", 1); err != nil {
		t.Fatalf("unexpected error on first reservation: %v", err)
	}
	err := rt.ReserveSlot("w1", 1)
	if err == nil {
		t.Fatal("expected concurrency_exhausted error on second reservation at cap 1")
	}
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Code != ErrCodeConcurrencyExhausted {
		t.Fatalf("expected ErrCodeConcurrencyExhausted, got %v", err)
	}

	rt.ReleaseSlot("w1")
	if err := rt.ReserveSlot("w1", 1); err != nil {
		t.Fatalf("expected reservation to succeed after release: %v", err)
	}
}

func TestReleaseHandleIsIdempotent(t *testing.T) {
	rt := New()
	h, err := rt.AcquireWorkspace(context.Background(), "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Release()
	h.Release() // must not panic or double-unlock
}
