package core

import (
	"context"
	"time"

	"github.com/care/nowplaying/internal/normalize"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/types"
)

// pollLoop polls the preferred source once immediately and then every
// polling interval until ctx is cancelled
func (e *Engine) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.PollingInterval())
	defer ticker.Stop()

	for {
		e.pollOnce(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("poll loop exiting")
			return
		case <-ticker.C:
		}
	}
}

// pollOnce runs one poll tick. Failures are logged and counted, never returned.
func (e *Engine) pollOnce(ctx context.Context) {
	e.metrics.polls.Add(1)
	switch e.preferred {
	case types.SourceSpotify:
		e.pollSpotify(ctx)
	case types.SourceYTM:
		e.pollHybrid(ctx)
	}
}

func (e *Engine) pollSpotify(ctx context.Context) {
	if !e.polling.IsAuthenticated() {
		if e.metrics.authMissing.Add(1) == 1 {
			e.logger.Warn("spotify client not authenticated, skipping polls until credentials appear")
		}
		return
	}

	raw, err := e.polling.CurrentPlayback(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		category := source.Classify(err)
		e.metrics.pollErrors[category].Add(1)
		if category == source.ErrCategoryAuth {
			e.logger.Warn("spotify auth token issue during polling", "error", err)
			return
		}
		e.logger.Error("error polling spotify", "category", category.String(), "error", err)
		return
	}

	e.ingest(normalize.Spotify(raw), originPoll)
}

func (e *Engine) pollHybrid(ctx context.Context) {
	if e.hybrid.IsConnected() {
		st := e.hybrid.CurrentState()
		if st == nil {
			return
		}
		e.ingest(normalize.YTM(st), originPoll)
		return
	}

	if !e.displayActive.Load() {
		e.logger.Debug("skipping hybrid poll: not connected and display inactive")
		return
	}
	if !e.gate.Allow(time.Now()) {
		return
	}

	e.logger.Info("hybrid source disconnected, attempting reconnect",
		"timeout", e.gate.AttemptTimeout(),
		"attempt", e.gate.Attempts()+1,
	)
	if err := e.connectHybrid(ctx, e.gate.AttemptTimeout()); err != nil {
		if ctx.Err() != nil {
			return
		}
		retryIn := e.gate.Failed(time.Now())
		e.logger.Warn("hybrid reconnect failed", "error", err, "retry_in", retryIn)
		e.forceNothingPlaying(types.SourceYTM, originReconnectFail)
		return
	}
	e.gate.Succeeded()
	e.logger.Info("hybrid source reconnected")

	if st := e.hybrid.CurrentState(); st != nil {
		e.ingest(normalize.YTM(st), originReconnectSync)
	}
}
