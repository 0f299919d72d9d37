// Package ratelimit implements a per-tenant token-bucket limiter for
// the RPC interceptor chain, giving every tenant its own bucket rather
// than one process-wide limit.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config controls the token bucket's rate and burst.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter holds one token bucket per key (typically a tenant id),
// created lazily on first use.
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

// New constructs a keyed Limiter.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1000
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request for key may proceed now, consuming
// one token if so.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.buckets[key] = b
	}
	return b
}
