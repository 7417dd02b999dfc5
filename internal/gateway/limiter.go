// ABOUTME: Per-server token buckets bounding local dispatch rate
// ABOUTME: A refused token reports how long until one is available

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a token bucket per server. A zero RPS disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

type limiters struct {
	cfg RateLimit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newLimiters(cfg RateLimit) *limiters {
	if cfg.RPS > 0 && cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RPS))
	}
	return &limiters{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// take consumes a token for serverID at now. It returns zero when the
// call may proceed, otherwise the wait until a token frees up.
func (l *limiters) take(serverID string, now time.Time) time.Duration {
	if l.cfg.RPS <= 0 {
		return 0
	}

	l.mu.Lock()
	lim, ok := l.buckets[serverID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)
		l.buckets[serverID] = lim
	}
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	wait := r.DelayFrom(now)
	if wait > 0 {
		r.CancelAt(now)
	}
	return wait
}

// forget drops the bucket of a deleted server.
func (l *limiters) forget(serverID string) {
	l.mu.Lock()
	delete(l.buckets, serverID)
	l.mu.Unlock()
}
