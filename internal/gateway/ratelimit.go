package gateway

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter bounds request volume per source IP on the gateway's
// unauthenticated/early-auth surfaces (/pair, /stream before upgrade),
// complementing pairing.FailureLimiter's post-failure cooldown with a
// plain token bucket on raw attempt volume. Grounded on the pack's
// per-key golang.org/x/time/rate.Limiter map idiom (goa-ai's
// middleware/ratelimit.go), simplified to a fixed per-IP rate with no
// adaptive budget since this gateway has no upstream backoff signal to
// react to.
type sourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newSourceLimiter(perSecond float64, burst int) *sourceLimiter {
	return &sourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *sourceLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// rateLimited wraps next, rejecting with 429 once addr exceeds the
// configured rate.
func (l *sourceLimiter) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
