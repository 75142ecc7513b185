package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// idleLimiterTTL is how long an IP's limiter survives without traffic.
	idleLimiterTTL = 5 * time.Minute
	sweepInterval  = 3 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-IP token bucket. The operation dispatcher asks it
// before running a throttled operation; Middleware wraps whole routes.
//
// Idle entries are swept while handling calls, so there is no background
// goroutine to stop.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows r events per second per IP with bursts of burst.
// A zero or negative r disables limiting.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     r,
		burst:    max(burst, 1),
		now:      time.Now,
	}
}

// Allow reports whether one more event from ip fits the budget.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	l, ok := rl.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// RetryAfter is the Retry-After header value, in whole seconds.
func (rl *RateLimiter) RetryAfter() string {
	secs := 1
	if rl != nil && rl.rate > 0 {
		secs = max(int(1.0/float64(rl.rate)), 1)
	}
	return strconv.Itoa(secs)
}

// sweep drops limiters idle for longer than idleLimiterTTL. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > idleLimiterTTL {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware rejects over-budget requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", rl.RetryAfter())
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr. chi's RealIP middleware
// runs earlier and has already replaced it with the forwarded address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
