package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/binh234/video2slides/internal/syncx"
)

// rateLimiter tracks request timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// allow checks if a request is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time, limit int, window time.Duration) bool {
	r.lastSeen = now
	cutoff := now.Add(-window)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= limit {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// ipLimiter keeps one sliding window per client IP.
type ipLimiter struct {
	limit   int
	window  time.Duration
	clients *syncx.Guard[map[string]*rateLimiter]
	now     func() time.Time
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:   limit,
		window:  window,
		clients: syncx.NewGuard(make(map[string]*rateLimiter)),
		now:     time.Now,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()
	return syncx.Update(l.clients, func(m *map[string]*rateLimiter) bool {
		rl, ok := (*m)[ip]
		if !ok {
			rl = &rateLimiter{}
			(*m)[ip] = rl
		}
		return rl.allow(now, l.limit, l.window)
	})
}

// cleanup drops clients idle for longer than ttl.
func (l *ipLimiter) cleanup(ttl time.Duration) int {
	cutoff := l.now().Add(-ttl)
	return syncx.Update(l.clients, func(m *map[string]*rateLimiter) int {
		removed := 0
		for ip, rl := range *m {
			if rl.lastSeen.Before(cutoff) {
				delete(*m, ip)
				removed++
			}
		}
		return removed
	})
}

func (l *ipLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(IPRateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup(IPRateLimitEntryTTL)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
