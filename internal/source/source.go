// Package source defines the contracts of the music-service clients and the raw
// snapshot schemas they return. Concrete clients live in sub-packages.
package source

import "context"

// PollingClient is a pull-only service (Spotify Web API style)
type PollingClient interface {
	// IsAuthenticated reports whether the client holds usable credentials
	IsAuthenticated() bool
	// CurrentPlayback fetches the current playback snapshot.
	// A nil snapshot with nil error means the service reports nothing at all.
	CurrentPlayback(ctx context.Context) (*SpotifyPlayback, error)
}

// UpdateHandler receives snapshots pushed by a hybrid source.
// It is invoked on the client's own delivery goroutine.
type UpdateHandler func(state *YTMState)

// HybridClient is a service that pushes updates and also keeps the last
// snapshot cached for pull access
type HybridClient interface {
	IsConnected() bool
	// Connect establishes the push channel, bounded by ctx
	Connect(ctx context.Context) error
	Disconnect()
	// CurrentState returns the cached snapshot without blocking (nil if none)
	CurrentState() *YTMState
	// SetUpdateHandler registers the push callback; must be called before Connect
	SetUpdateHandler(h UpdateHandler)
	// Shutdown releases the client for good; no callbacks run afterwards
	Shutdown()
}

// SpotifyPlayback is the "currently playing" payload of the polling source
type SpotifyPlayback struct {
	IsPlaying  bool         `json:"is_playing"`
	ProgressMS int64        `json:"progress_ms"`
	Item       *SpotifyItem `json:"item"`
}

// SpotifyItem is the track object within a playback payload
type SpotifyItem struct {
	Name       string          `json:"name"`
	DurationMS int64           `json:"duration_ms"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
}

type SpotifyArtist struct {
	Name string `json:"name"`
}

type SpotifyAlbum struct {
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
}

type SpotifyImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// YTM player track states as reported by the companion app
const (
	YTMTrackStateUnknown   = -1
	YTMTrackStatePaused    = 0
	YTMTrackStatePlaying   = 1
	YTMTrackStateBuffering = 2
)

// YTMState is the state document of the hybrid source
type YTMState struct {
	Player YTMPlayer `json:"player"`
	Video  *YTMVideo `json:"video"`
}

// YTMPlayer carries playback flags. Progress is in seconds.
type YTMPlayer struct {
	TrackState    int      `json:"trackState"`
	AdPlaying     bool     `json:"adPlaying"`
	VideoProgress *float64 `json:"videoProgress"`
}

// YTMVideo carries track metadata. Duration is in seconds.
type YTMVideo struct {
	Title           string         `json:"title"`
	Author          string         `json:"author"`
	Album           string         `json:"album"`
	DurationSeconds *float64       `json:"durationSeconds"`
	Thumbnails      []YTMThumbnail `json:"thumbnails"`
}

type YTMThumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}
