package httputil

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

// ipLimiter tracks one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit limits requests per client IP. Used on the credential endpoints
// (login, refresh, register) to slow down guessing.
func RateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	l := &ipLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}

	// Reap idle entries so the map does not grow without bound.
	go func() {
		for range time.Tick(5 * time.Minute) {
			l.mu.Lock()
			for ip, entry := range l.limiters {
				if time.Since(entry.lastSeen) > 10*time.Minute {
					delete(l.limiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !l.allow(ip) {
				Error(w, errors.New("RATE_LIMITED", "too many requests", http.StatusTooManyRequests))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}
