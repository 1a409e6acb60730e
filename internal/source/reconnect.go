package source

import (
	"sync"
	"time"
)

// ReconnectConfig bounds how often a disconnected hybrid source is retried
type ReconnectConfig struct {
	AttemptTimeout time.Duration // per-attempt connect bound (default: 5 seconds)
	RetryDelay     time.Duration // delay after the first failure (default: 2 seconds)
	MaxRetryDelay  time.Duration // backoff cap (default: 30 seconds)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		AttemptTimeout: 5 * time.Second,
		RetryDelay:     2 * time.Second,
		MaxRetryDelay:  30 * time.Second,
	}
}

// ReconnectGate decides whether a poll tick may attempt a reconnect.
// The first attempt is always allowed; after consecutive failures the next
// attempt is delayed by retryDelay * 2^(failures-1), capped at MaxRetryDelay.
type ReconnectGate struct {
	cfg ReconnectConfig

	mu       sync.Mutex
	failures int
	next     time.Time
	attempts uint64
}

// NewReconnectGate creates a gate with cfg (zero fields take defaults)
func NewReconnectGate(cfg ReconnectConfig) *ReconnectGate {
	def := DefaultReconnectConfig()
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	return &ReconnectGate{cfg: cfg}
}

// AttemptTimeout returns the per-attempt connect bound
func (g *ReconnectGate) AttemptTimeout() time.Duration {
	return g.cfg.AttemptTimeout
}

// Allow reports whether an attempt may start at now
func (g *ReconnectGate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !now.Before(g.next)
}

// Failed records a failed attempt at now and schedules the next one
func (g *ReconnectGate) Failed(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.attempts++
	delay := calculateBackoff(g.failures, g.cfg)
	g.next = now.Add(delay)
	return delay
}

// Succeeded resets the backoff
func (g *ReconnectGate) Succeeded() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures = 0
	g.attempts++
	g.next = time.Time{}
}

// Attempts returns the total number of recorded attempts
func (g *ReconnectGate) Attempts() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// calculateBackoff: delay = retryDelay * 2^(attempt-1), capped at maxRetryDelay
func calculateBackoff(attempt int, cfg ReconnectConfig) time.Duration {
	if attempt < 1 {
		return 0
	}
	if attempt > 16 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
