// Package priority manages the exclusive "now playing" display mode: it asks the
// display's mode switcher for priority when music starts and gives it back on
// hard timeout or after nothing has played for a while.
package priority

import (
	"log/slog"
	"sync"
	"time"
)

// Switcher is the external display mode controller
type Switcher interface {
	RequestPriority(mode string, duration time.Duration) error
	RelinquishPriority() error
}

// Config contains arbiter settings
type Config struct {
	Enabled               bool
	Mode                  string        // mode name sent with the request (default: now_playing)
	Duration              time.Duration // hard cap on one priority period (default: 30s)
	NothingPlayingTimeout time.Duration // grace before releasing when idle (default: 10s)
}

// Status is a point-in-time view of the arbiter
type Status struct {
	Enabled            bool    `json:"enabled"`
	Active             bool    `json:"active"`
	ActiveForS         float64 `json:"active_for_s,omitempty"`
	NothingPlayingForS float64 `json:"nothing_playing_for_s,omitempty"`
	Requests           uint64  `json:"requests"`
	Timeouts           uint64  `json:"timeouts"`
}

// Arbiter is safe for concurrent use
type Arbiter struct {
	cfg    Config
	sw     Switcher
	logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	active          bool
	activatedAt     time.Time
	nothingSince    time.Time
	nothingTracking bool
	requests        uint64
	timeouts        uint64
}

// New creates an arbiter; sw may be nil when priority mode is disabled
func New(cfg Config, sw Switcher, logger *slog.Logger) *Arbiter {
	if cfg.Mode == "" {
		cfg.Mode = "now_playing"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Second
	}
	if cfg.NothingPlayingTimeout <= 0 {
		cfg.NothingPlayingTimeout = 10 * time.Second
	}
	if sw == nil {
		cfg.Enabled = false
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		cfg:    cfg,
		sw:     sw,
		logger: logger.With("component", "priority"),
		now:    time.Now,
	}
}

// SetClock replaces the time source (tests)
func (a *Arbiter) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Enabled reports whether priority mode is configured
func (a *Arbiter) Enabled() bool {
	return a.cfg.Enabled
}

// Active reports whether priority is currently held
func (a *Arbiter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Activate requests priority if enabled and not already held
func (a *Arbiter) Activate() bool {
	if !a.cfg.Enabled {
		return false
	}

	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return false
	}
	a.active = true
	a.activatedAt = a.now()
	a.requests++
	a.mu.Unlock()

	if err := a.sw.RequestPriority(a.cfg.Mode, a.cfg.Duration); err != nil {
		a.mu.Lock()
		a.active = false
		a.mu.Unlock()
		a.logger.Warn("priority request failed", "mode", a.cfg.Mode, "error", err)
		return false
	}

	a.logger.Info("priority activated", "mode", a.cfg.Mode, "duration", a.cfg.Duration)
	return true
}

// Deactivate relinquishes priority if held
func (a *Arbiter) Deactivate(reason string) bool {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return false
	}
	a.active = false
	heldFor := a.now().Sub(a.activatedAt)
	a.mu.Unlock()

	if err := a.sw.RelinquishPriority(); err != nil {
		a.logger.Warn("priority relinquish failed", "error", err)
	}
	a.logger.Info("priority deactivated", "reason", reason, "held_for", heldFor)
	return true
}

// CheckTimeout releases priority once it has been held for the configured duration
func (a *Arbiter) CheckTimeout() bool {
	a.mu.Lock()
	expired := a.active && a.now().Sub(a.activatedAt) >= a.cfg.Duration
	if expired {
		a.timeouts++
	}
	a.mu.Unlock()

	if !expired {
		return false
	}
	return a.Deactivate("timeout")
}

// ObserveNothingPlaying records one render tick with nothing playing. It returns
// true when the grace period has elapsed while priority was held; priority is
// then released and the caller should skip drawing this tick.
func (a *Arbiter) ObserveNothingPlaying() bool {
	a.mu.Lock()
	now := a.now()
	if !a.nothingTracking {
		a.nothingTracking = true
		a.nothingSince = now
	}
	expired := a.active && now.Sub(a.nothingSince) >= a.cfg.NothingPlayingTimeout
	if expired {
		a.nothingTracking = false
	}
	a.mu.Unlock()

	if !expired {
		return false
	}
	return a.Deactivate("nothing playing")
}

// ObservePlaying ends any nothing-playing period
func (a *Arbiter) ObservePlaying() {
	a.mu.Lock()
	a.nothingTracking = false
	a.mu.Unlock()
}

// Status returns the current arbiter status
func (a *Arbiter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Enabled:  a.cfg.Enabled,
		Active:   a.active,
		Requests: a.requests,
		Timeouts: a.timeouts,
	}
	now := a.now()
	if a.active {
		st.ActiveForS = now.Sub(a.activatedAt).Seconds()
	}
	if a.nothingTracking {
		st.NothingPlayingForS = now.Sub(a.nothingSince).Seconds()
	}
	return st
}
