package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/care/nowplaying/internal/config"
	"github.com/care/nowplaying/internal/mailbox"
	"github.com/care/nowplaying/internal/normalize"
	"github.com/care/nowplaying/internal/priority"
	"github.com/care/nowplaying/internal/render"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/state"
	"github.com/care/nowplaying/internal/types"
)

const (
	// activationConnectTimeout bounds the hybrid connect triggered by display activation
	activationConnectTimeout = 10 * time.Second
	// pollJoinGrace is added to the polling interval when waiting for the poll loop to exit
	pollJoinGrace = time.Second
	// callbackDrainTimeout bounds the wait for in-flight push callbacks on shutdown
	callbackDrainTimeout = 2 * time.Second
)

// Engine is the now-playing service: it keeps the shared track state in sync
// with the preferred source and renders it on demand.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	preferred types.Source

	// set once in New
	enabled        bool
	disabledReason string

	polling   source.PollingClient
	hybrid    source.HybridClient
	publisher StatePublisher

	store    *state.Store
	mailbox  *mailbox.Mailbox
	arbiter  *priority.Arbiter
	renderer *render.Orchestrator
	gate     *source.ReconnectGate
	connects singleflight.Group

	displayActive atomic.Bool
	syncInFlight  atomic.Bool
	// held is set by DeactivateDisplay; Render draws nothing until ActivateDisplay
	held atomic.Bool

	// background work not owned by the poll loop (activation sync, push callbacks)
	baseCtx    context.Context
	baseCancel context.CancelFunc
	tasksMu    sync.Mutex
	tasks      sync.WaitGroup
	tasksDone  bool

	// Lifecycle management
	mu        sync.Mutex
	started   time.Time
	isRunning bool
	stopped   bool
	cancelRun context.CancelFunc
	pollDone  chan struct{}

	throttle logThrottle
	metrics  engineMetrics
	registry *prometheus.Registry

	// optional collaborator counters, nil when not provided
	emitterStats EmitterStatsProvider
	hybridStats  HybridStatsProvider
	artworkStats ArtworkStatsProvider
}

type engineMetrics struct {
	polls         atomic.Uint64
	pollErrors    [4]atomic.Uint64 // by source.ErrorCategory
	authMissing   atomic.Uint64
	pushes        atomic.Uint64
	pushesIgnored atomic.Uint64
	reconnects    atomic.Uint64
	reconnectErrs atomic.Uint64
	emitErrors    atomic.Uint64
}

// New creates an engine. Misconfiguration never fails construction: the
// engine comes up disabled instead and never starts background work.
func New(cfg *config.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine")

	baseCtx, baseCancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		polling:    deps.Polling,
		hybrid:     deps.Hybrid,
		publisher:  deps.Publisher,
		store:      state.New(),
		mailbox:    mailbox.New(),
		gate:       source.NewReconnectGate(source.DefaultReconnectConfig()),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		enabled:    true,
	}

	e.arbiter = priority.New(priority.Config{
		Enabled:               cfg.PriorityMode,
		Mode:                  cfg.PriorityModeName,
		Duration:              cfg.PriorityDuration(),
		NothingPlayingTimeout: cfg.NothingPlayingTimeout(),
	}, deps.Switcher, deps.Logger)

	e.renderer = render.New(render.Config{
		Scroll: render.ScrollConfig{
			Title:  cfg.Scroll.Title.Animator(),
			Artist: cfg.Scroll.Artist.Animator(),
			Album:  cfg.Scroll.Album.Animator(),
		},
		ArtworkTimeout: cfg.ArtworkTimeout(),
	}, render.Deps{
		Canvas:  deps.Canvas,
		Fetcher: deps.Fetcher,
		Display: renderDisplay{e},
		Store:   e.store,
		Mailbox: e.mailbox,
		Arbiter: e.arbiter,
		Logger:  deps.Logger,
	})

	preferred, err := cfg.Source()
	switch {
	case !cfg.IsEnabled():
		e.disable("disabled in configuration")
	case err != nil:
		e.disable(err.Error())
	case deps.Canvas == nil:
		e.disable("no canvas configured")
	case preferred == types.SourceSpotify && deps.Polling == nil:
		e.disable("spotify preferred but no polling client")
	case preferred == types.SourceYTM && deps.Hybrid == nil:
		e.disable("ytm preferred but no hybrid client")
	}
	e.preferred = preferred

	if e.enabled && e.hybrid != nil {
		e.hybrid.SetUpdateHandler(e.handlePush)
	}

	e.emitterStats, _ = deps.Publisher.(EmitterStatsProvider)
	if e.emitterStats == nil {
		e.emitterStats, _ = deps.Switcher.(EmitterStatsProvider)
	}
	e.hybridStats, _ = deps.Hybrid.(HybridStatsProvider)
	e.artworkStats, _ = deps.Fetcher.(ArtworkStatsProvider)
	e.registry = newRegistry(e)

	logger.Info("engine created",
		"enabled", e.enabled,
		"preferred_source", e.preferred.String(),
		"polling_interval", cfg.PollingInterval(),
		"priority_mode", e.arbiter.Enabled(),
	)
	return e
}

func (e *Engine) disable(reason string) {
	e.enabled = false
	e.disabledReason = reason
	e.logger.Error("engine disabled", "reason", reason)
}

// Enabled reports whether the engine passed construction-time checks
func (e *Engine) Enabled() bool {
	return e.enabled
}

// Start launches the poll loop. It returns immediately; a disabled engine
// starts nothing.
func (e *Engine) Start(ctx context.Context) error {
	if !e.enabled {
		e.logger.Warn("engine disabled, not starting", "reason", e.disabledReason)
		return nil
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine already shut down")
	}
	if e.isRunning {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.isRunning = true
	e.started = time.Now()
	e.cancelRun = cancel
	e.pollDone = make(chan struct{})
	done := e.pollDone
	e.mu.Unlock()

	go e.pollLoop(runCtx, done)

	e.logger.Info("engine started",
		"preferred_source", e.preferred.String(),
		"polling_interval", e.cfg.PollingInterval(),
	)
	return nil
}

// Shutdown stops the poll loop, disconnects the hybrid source and waits
// (bounded) for in-flight callbacks. Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancelRun
	done := e.pollDone
	started := e.started
	e.mu.Unlock()

	e.logger.Info("shutting down engine")

	var errs []error

	// 1. Stop the poll loop. baseCancel also aborts an activation connect the
	// loop may have joined.
	if cancel != nil {
		cancel()
	}
	e.baseCancel()
	if done != nil {
		join := time.NewTimer(e.cfg.PollingInterval() + pollJoinGrace)
		select {
		case <-done:
		case <-join.C:
			errs = append(errs, fmt.Errorf("poll loop did not stop within %s", e.cfg.PollingInterval()+pollJoinGrace))
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for poll loop: %w", ctx.Err()))
		}
		join.Stop()
	}

	// 2. Cut off the push source before draining its callbacks
	if e.hybrid != nil {
		if e.hybrid.IsConnected() {
			e.logger.Info("disconnecting hybrid source")
			e.hybrid.Disconnect()
		}
		e.hybrid.Shutdown()
	}

	// 3. Wait for push callbacks and activation syncs
	e.tasksMu.Lock()
	e.tasksDone = true
	e.tasksMu.Unlock()
	if err := waitGroupTimeout(ctx, &e.tasks, callbackDrainTimeout); err != nil {
		errs = append(errs, fmt.Errorf("waiting for callbacks: %w", err))
	}

	// 4. Hand the display back
	e.held.Store(true)
	e.displayActive.Store(false)
	e.arbiter.Deactivate("shutdown")

	e.mu.Lock()
	e.isRunning = false
	e.mu.Unlock()

	uptime := time.Duration(0)
	if !started.IsZero() {
		uptime = time.Since(started)
	}
	e.logger.Info("engine shutdown complete", "uptime", uptime)

	return errors.Join(errs...)
}

// Running reports whether the poll loop has been started and not shut down
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isRunning
}

// Render draws one frame; a no-op on a disabled engine and while the display
// is held by DeactivateDisplay. Must be called from a single goroutine.
func (e *Engine) Render(forceClear bool) {
	if !e.enabled || e.held.Load() {
		return
	}
	e.renderer.Tick(forceClear)
}

// ForceRefresh makes the next Render a full redraw
func (e *Engine) ForceRefresh() {
	e.store.RequestRefresh()
}

// Current returns a copy of the current track
func (e *Engine) Current() (types.TrackInfo, bool) {
	return e.store.Current()
}

// IsDisplayActive reports whether this engine owns the display
func (e *Engine) IsDisplayActive() bool {
	return e.displayActive.Load()
}

// ActivateDisplay marks the display as ours, takes priority when configured and,
// for the hybrid source, connects and syncs its snapshot in the background.
// Never blocks on network I/O; repeated calls while a sync runs are coalesced.
// It also lifts the hold set by DeactivateDisplay.
func (e *Engine) ActivateDisplay() {
	if !e.enabled {
		return
	}
	e.held.Store(false)
	e.activate()
}

// renderDisplay is the engine as seen by the render loop. Its activation
// does nothing while DeactivateDisplay holds the display.
type renderDisplay struct {
	e *Engine
}

func (d renderDisplay) IsDisplayActive() bool {
	return d.e.IsDisplayActive()
}

func (d renderDisplay) ActivateDisplay() {
	if d.e.held.Load() {
		return
	}
	d.e.activate()
}

func (e *Engine) activate() {
	if !e.displayActive.Swap(true) {
		e.logger.Info("display activated")
	}
	e.arbiter.Activate()

	if e.preferred != types.SourceYTM {
		return
	}
	if !e.syncInFlight.CompareAndSwap(false, true) {
		return
	}
	if !e.beginTask() {
		e.syncInFlight.Store(false)
		return
	}
	go func() {
		defer e.tasks.Done()
		defer e.syncInFlight.Store(false)
		e.activationSync(e.baseCtx)
	}()
}

// DeactivateDisplay releases priority and disconnects the hybrid source.
// Rendering stays off until the next ActivateDisplay.
func (e *Engine) DeactivateDisplay() {
	if !e.enabled {
		return
	}
	e.held.Store(true)
	if e.displayActive.Swap(false) {
		e.logger.Info("display deactivated")
	}
	e.arbiter.Deactivate("display deactivated")

	if e.hybrid != nil && e.hybrid.IsConnected() {
		e.logger.Info("disconnecting hybrid source on display deactivation")
		e.hybrid.Disconnect()
	}
}

// activationSync connects the hybrid source if needed and applies its cached
// snapshot, which is also handed to the render loop's mailbox.
func (e *Engine) activationSync(ctx context.Context) {
	wasConnected := e.hybrid.IsConnected()
	if !wasConnected {
		e.logger.Info("connecting hybrid source on display activation")
		if err := e.connectHybrid(ctx, activationConnectTimeout); err != nil {
			e.logger.Warn("hybrid source failed to connect on display activation", "error", err)
			return
		}
		e.gate.Succeeded()
	}

	st := e.hybrid.CurrentState()
	if st == nil {
		if wasConnected {
			e.logger.Debug("activation sync: no cached snapshot")
			e.ingest(types.NothingPlaying(), originActivateEmpty)
		}
		return
	}
	e.ingest(normalize.YTM(st), originActivateSync)
}

// connectHybrid dedupes concurrent connect attempts from activation and polling
func (e *Engine) connectHybrid(ctx context.Context, timeout time.Duration) error {
	_, err, shared := e.connects.Do("connect", func() (interface{}, error) {
		e.metrics.reconnects.Add(1)
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := e.hybrid.Connect(cctx); err != nil {
			e.metrics.reconnectErrs.Add(1)
			return nil, err
		}
		return nil, nil
	})
	if shared {
		e.logger.Debug("joined in-flight hybrid connect")
	}
	return err
}

// beginTask registers a background task unless shutdown already drained them
func (e *Engine) beginTask() bool {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if e.tasksDone {
		return false
	}
	e.tasks.Add(1)
	return true
}

func waitGroupTimeout(ctx context.Context, wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
