package eventring

import "testing"

func TestPushStrictlyIncreasesSeq(t *testing.T) {
	r := New(4)
	var last uint64
	for i := 0; i < 10; i++ {
		seq := r.Push(i)
		if seq <= last {
			t.Fatalf("seq did not strictly increase: got %d after %d", seq, last)
		}
		last = seq
	}
}

func TestSinceReturnsOnlyNewer(t *testing.T) {
	r := New(10)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	entries := r.Since(2)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after seq 2, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Seq <= 2 {
			t.Fatalf("Since(2) returned entry with seq %d", e.Seq)
		}
	}
}

func TestCanServeEmptyRing(t *testing.T) {
	r := New(4)
	if !r.CanServe(0) {
		t.Fatal("an empty ring must be able to serve any sinceSeq")
	}
	if !r.CanServe(999) {
		t.Fatal("an empty ring must be able to serve any sinceSeq")
	}
}

func TestCanServeAfterEviction(t *testing.T) {
	r := New(3)
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	// capacity 3, 10 pushes -> retains seq 8,9,10; oldest = 8
	if r.OldestSeq() != 8 {
		t.Fatalf("expected oldest seq 8, got %d", r.OldestSeq())
	}
	if !r.CanServe(7) {
		t.Fatal("sinceSeq == oldest-1 must be servable")
	}
	if r.CanServe(6) {
		t.Fatal("sinceSeq < oldest-1 must not be servable: a gap exists")
	}
}

func TestCanServeGaplessReplay(t *testing.T) {
	r := New(5)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	if !r.CanServe(2) {
		t.Fatal("expected CanServe(2) true")
	}
	entries := r.Since(2)
	var prev uint64
	for _, e := range entries {
		if prev != 0 && e.Seq != prev+1 {
			t.Fatalf("replay has a gap: %d then %d", prev, e.Seq)
		}
		prev = e.Seq
	}
}
