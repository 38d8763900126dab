package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/imgclassify/internal/apierr"
	"golang.org/x/time/rate"
)

const (
	limiterCleanupInterval = time.Minute
	limiterIdleTTL         = 3 * time.Minute
)

// RateLimiter enforces a global and a per-client token bucket on inbound requests.
type RateLimiter struct {
	global   *rate.Limiter
	perIP    map[string]*ipLimiter
	mu       sync.RWMutex
	ipRate   rate.Limit
	ipBurst  int
	done     chan struct{}
	stopOnce sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter with global and per-IP limits
// expressed in requests per second plus burst size.
func NewRateLimiter(globalRate float64, globalBurst int, ipRate float64, ipBurst int) *RateLimiter {
	rl := &RateLimiter{
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		perIP:   make(map[string]*ipLimiter),
		ipRate:  rate.Limit(ipRate),
		ipBurst: ipBurst,
		done:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// getLimiter returns the limiter for ip, creating it on first use.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l, ok := rl.perIP[ip]; ok {
		l.lastSeen = now
		return l.limiter
	}
	l := &ipLimiter{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst), lastSeen: now}
	rl.perIP[ip] = l
	return l.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	t := time.NewTicker(limiterCleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-t.C:
			rl.removeIdle(now)
		}
	}
}

// removeIdle drops per-IP limiters not used within limiterIdleTTL of now.
func (rl *RateLimiter) removeIdle(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, l := range rl.perIP {
		if now.Sub(l.lastSeen) > limiterIdleTTL {
			delete(rl.perIP, ip)
			removed++
		}
	}
	return removed
}

// Stop ends the background cleanup. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Limit returns a middleware handler that enforces rate limits.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.global.Allow() {
			apierr.WriteErrorWithContext(w, r, apierr.RateLimitGlobal())
			return
		}
		if !rl.getLimiter(getClientIP(r)).Allow() {
			apierr.WriteErrorWithContext(w, r, apierr.RateLimitIP())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request, checking common proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
