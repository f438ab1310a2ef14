package pairing

import (
	"sync"
	"time"
)

// FailureLimiter enforces "N failures within a window triggers a fixed
// cool-down" per remote address (spec.md §4.J, §5: "~5 failures within
// 60s -> 2min block"). This is deliberately NOT golang.org/x/time/rate:
// a token-bucket's steady refill doesn't express a hard post-burst
// cool-down, so the fixed-window-plus-cooldown counter here is built on
// sync/time directly — see DESIGN.md.
type FailureLimiter struct {
	mu         sync.Mutex
	maxFails   int
	window     time.Duration
	cooldown   time.Duration
	byAddr     map[string]*addrState
}

type addrState struct {
	failures   []time.Time
	blockUntil time.Time
}

// NewFailureLimiter constructs a limiter with the given thresholds.
func NewFailureLimiter(maxFails int, window, cooldown time.Duration) *FailureLimiter {
	return &FailureLimiter{
		maxFails: maxFails,
		window:   window,
		cooldown: cooldown,
		byAddr:   make(map[string]*addrState),
	}
}

// Allowed reports whether addr may attempt a pairing exchange right now.
func (l *FailureLimiter) Allowed(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.byAddr[addr]
	if !ok {
		return true
	}
	return time.Now().After(st.blockUntil)
}

// RecordFailure registers a failed pairing attempt from addr, entering
// cool-down once maxFails have occurred inside window.
func (l *FailureLimiter) RecordFailure(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	st, ok := l.byAddr[addr]
	if !ok {
		st = &addrState{}
		l.byAddr[addr] = st
	}

	cutoff := now.Add(-l.window)
	kept := st.failures[:0]
	for _, t := range st.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	st.failures = append(kept, now)

	if len(st.failures) >= l.maxFails {
		st.blockUntil = now.Add(l.cooldown)
		st.failures = nil
	}
}

// RecordSuccess clears addr's failure history.
func (l *FailureLimiter) RecordSuccess(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byAddr, addr)
}

// Sweep drops state for addresses with no recent activity, bounding the
// map's size. Call periodically from a background timer.
func (l *FailureLimiter) Sweep(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for addr, st := range l.byAddr {
		if st.blockUntil.Before(cutoff) && (len(st.failures) == 0 || st.failures[len(st.failures)-1].Before(cutoff)) {
			delete(l.byAddr, addr)
		}
	}
}
