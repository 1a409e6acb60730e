package core

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/care/nowplaying/internal/artwork"
	"github.com/care/nowplaying/internal/emitter"
	"github.com/care/nowplaying/internal/mailbox"
	"github.com/care/nowplaying/internal/priority"
	"github.com/care/nowplaying/internal/render"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/source/ytm"
	"github.com/care/nowplaying/internal/state"
	"github.com/care/nowplaying/internal/types"
)

// HealthStatus represents the health state of the engine
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	Reason          string `json:"reason,omitempty"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Enabled         bool   `json:"enabled"`
	Running         bool   `json:"running"`
	PreferredSource string `json:"preferred_source"`
	DisplayActive   bool   `json:"display_active"`
	HybridConnected bool   `json:"hybrid_connected"`
}

// Snapshot is everything the engine can report about itself
type Snapshot struct {
	Health   HealthStatus     `json:"health"`
	Track    *types.TrackInfo `json:"track,omitempty"`
	Source   string           `json:"attributed_source"`
	Priority priority.Status  `json:"priority"`
	Store    state.Stats      `json:"store"`
	Mailbox  mailbox.Stats    `json:"mailbox"`
	Render   render.Stats     `json:"render"`
	Polling  PollStats        `json:"polling"`
	Emitter  *emitter.Stats   `json:"emitter,omitempty"`
	Hybrid   *ytm.Stats       `json:"hybrid,omitempty"`
	Artwork  *artwork.Stats   `json:"artwork,omitempty"`
}

// PollStats contains poll and push counters
type PollStats struct {
	Polls           uint64            `json:"polls"`
	Errors          map[string]uint64 `json:"errors"` // by category
	AuthMissing     uint64            `json:"auth_missing"`
	Pushes          uint64            `json:"pushes"`
	PushesIgnored   uint64            `json:"pushes_ignored"`
	Reconnects      uint64            `json:"reconnects"`
	ReconnectErrors uint64            `json:"reconnect_errors"`
	EmitErrors      uint64            `json:"emit_errors"`
}

// HealthCheck returns the current health status of the engine
func (e *Engine) HealthCheck() HealthStatus {
	e.mu.Lock()
	running := e.isRunning
	started := e.started
	e.mu.Unlock()

	status := HealthStatus{
		Status:          "healthy",
		Enabled:         e.enabled,
		Running:         running,
		PreferredSource: e.preferred.String(),
		DisplayActive:   e.displayActive.Load(),
	}
	if !started.IsZero() {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if e.hybrid != nil {
		status.HybridConnected = e.hybrid.IsConnected()
	}

	switch {
	case !e.enabled:
		status.Status = "unhealthy"
		status.Reason = e.disabledReason
	case !running:
		status.Status = "unhealthy"
		status.Reason = "not running"
	case e.preferred == types.SourceYTM && status.DisplayActive && !status.HybridConnected:
		status.Status = "degraded"
		status.Reason = "hybrid source disconnected"
	case e.preferred == types.SourceSpotify && !e.polling.IsAuthenticated():
		status.Status = "degraded"
		status.Reason = "spotify not authenticated"
	}
	return status
}

// Snapshot collects health, the current track and all counters
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Health:   e.HealthCheck(),
		Source:   e.store.Source().String(),
		Priority: e.arbiter.Status(),
		Store:    e.store.Stats(),
		Mailbox:  e.mailbox.Stats(),
		Render:   e.renderer.Stats(),
		Polling:  e.pollStats(),
	}
	if cur, ok := e.store.Current(); ok {
		snap.Track = &cur
	}
	if e.emitterStats != nil {
		st := e.emitterStats.Stats()
		snap.Emitter = &st
	}
	if e.hybridStats != nil {
		st := e.hybridStats.Stats()
		snap.Hybrid = &st
	}
	if e.artworkStats != nil {
		st := e.artworkStats.Stats()
		snap.Artwork = &st
	}
	return snap
}

func (e *Engine) pollStats() PollStats {
	errs := make(map[string]uint64, len(e.metrics.pollErrors))
	for i := range e.metrics.pollErrors {
		errs[source.ErrorCategory(i).String()] = e.metrics.pollErrors[i].Load()
	}
	return PollStats{
		Polls:           e.metrics.polls.Load(),
		Errors:          errs,
		AuthMissing:     e.metrics.authMissing.Load(),
		Pushes:          e.metrics.pushes.Load(),
		PushesIgnored:   e.metrics.pushesIgnored.Load(),
		Reconnects:      e.metrics.reconnects.Load(),
		ReconnectErrors: e.metrics.reconnectErrs.Load(),
		EmitErrors:      e.metrics.emitErrors.Load(),
	}
}

// StatusMap returns the snapshot as a generic map for the control plane
func (e *Engine) StatusMap() map[string]interface{} {
	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	out["instance_id"] = e.cfg.InstanceID
	return out
}

// LivenessHandler handles /health (simple liveness check)
func (e *Engine) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": e.HealthCheck().UptimeSeconds,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness. Degraded is still ready.
func (e *Engine) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := e.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// NowPlayingHandler handles /nowplaying (full JSON snapshot)
func (e *Engine) NowPlayingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(e.Snapshot())
}

// MetricsHandler handles /metrics in the Prometheus text format
func (e *Engine) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// NewHealthServer builds the HTTP health check server on the given port.
// The caller runs ListenAndServe and Shutdown.
func (e *Engine) NewHealthServer(port string) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", e.LivenessHandler)
	mux.HandleFunc("/readiness", e.ReadinessHandler)
	mux.HandleFunc("/nowplaying", e.NowPlayingHandler)
	mux.HandleFunc("/metrics", e.MetricsHandler)

	slog.Info("health check server configured",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/nowplaying", "/metrics"},
	)

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
