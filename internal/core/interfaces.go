package core

import (
	"log/slog"

	"github.com/care/nowplaying/internal/artwork"
	"github.com/care/nowplaying/internal/emitter"
	"github.com/care/nowplaying/internal/priority"
	"github.com/care/nowplaying/internal/render"
	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/source/ytm"
)

// StatePublisher announces significant track changes to the outside world
type StatePublisher interface {
	PublishState(msg emitter.StateMessage) error
}

// EmitterStatsProvider is implemented by publishers or switchers that count
// their broker traffic
type EmitterStatsProvider interface {
	Stats() emitter.Stats
}

// HybridStatsProvider is implemented by hybrid clients that count bridge messages
type HybridStatsProvider interface {
	Stats() ytm.Stats
}

// ArtworkStatsProvider is implemented by fetchers that count downloads
type ArtworkStatsProvider interface {
	Stats() artwork.Stats
}

// Deps are the borrowed collaborators of an Engine. Only the client matching
// preferred_source is required; the others may be nil. Collaborators that also
// implement one of the *StatsProvider interfaces show up in Snapshot and /metrics.
type Deps struct {
	Polling   source.PollingClient
	Hybrid    source.HybridClient
	Canvas    render.Canvas
	Fetcher   render.ArtworkFetcher
	Switcher  priority.Switcher // nil disables priority mode
	Publisher StatePublisher    // nil disables state emission
	Logger    *slog.Logger
}
