// Package state holds the shared now-playing state: the current track, the
// attributed source, the artwork cache and the pending full-refresh flag.
// All access is serialized by a single mutex; readers receive copies.
package state

import (
	"image"
	"sync"

	"github.com/care/nowplaying/internal/types"
)

// Stats contains update counters
type Stats struct {
	Updates      map[string]uint64 `json:"updates"` // by change kind
	ArtCommitted uint64            `json:"art_committed"`
	ArtDiscarded uint64            `json:"art_discarded"` // fetched for a URL that was no longer current
}

// Store is the single owner of the current TrackInfo.
// Safe for concurrent use by the poll loop, push callbacks and the render loop.
type Store struct {
	mu sync.Mutex

	current    types.TrackInfo
	hasCurrent bool
	source     types.Source

	// artwork cache: artURL is the target the image belongs (or will belong) to
	artImage image.Image
	artURL   string

	needsRefresh bool

	updates      [3]uint64
	artCommitted uint64
	artDiscarded uint64
}

// New creates an empty store: no current track, source none
func New() *Store {
	return &Store{}
}

// Apply compares info against the current track and replaces it if different.
// It returns the change classification and a copy of the previous track
// (nil when there was none). A Significant change raises the refresh flag.
func (s *Store) Apply(info types.TrackInfo) (types.ChangeKind, *types.TrackInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(info)
}

// ApplyIfSource applies info only while owner is the attributed source.
// The check and the update happen atomically.
func (s *Store) ApplyIfSource(owner types.Source, info types.TrackInfo) (types.ChangeKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != owner {
		return types.ChangeNone, false
	}
	kind, _ := s.applyLocked(info)
	return kind, true
}

func (s *Store) applyLocked(info types.TrackInfo) (types.ChangeKind, *types.TrackInfo) {
	var previous *types.TrackInfo
	if s.hasCurrent {
		prev := s.current
		previous = &prev
	}

	if s.hasCurrent && s.current == info {
		s.updates[types.ChangeNone]++
		return types.ChangeNone, previous
	}

	kind := classify(previous, info)

	s.current = info
	s.hasCurrent = true

	switch {
	case info.IsPlaying && info.Source != types.SourceNone:
		s.source = info.Source
	case s.source == types.SourceYTM && !info.IsPlaying:
		s.source = types.SourceNone
	case info.Source == types.SourceNone:
		s.source = types.SourceNone
	}

	var oldURL string
	if previous != nil {
		oldURL = previous.AlbumArtURL
	}
	if info.AlbumArtURL != oldURL || (s.artURL == "" && info.AlbumArtURL != "") {
		// new target (or none): any cached image belongs to the old one
		s.artURL = info.AlbumArtURL
		s.artImage = nil
	}

	if kind == types.ChangeSignificant {
		s.needsRefresh = true
	}
	s.updates[kind]++
	return kind, previous
}

// classify assumes prev != info
func classify(prev *types.TrackInfo, info types.TrackInfo) types.ChangeKind {
	if prev == nil {
		if info.IsNothingPlaying() {
			return types.ChangeMinor
		}
		return types.ChangeSignificant
	}
	if prev.Title != info.Title ||
		prev.Artist != info.Artist ||
		prev.AlbumArtURL != info.AlbumArtURL ||
		prev.IsPlaying != info.IsPlaying {
		return types.ChangeSignificant
	}
	return types.ChangeMinor
}

// Current returns a copy of the current track; ok is false if none was ever applied
func (s *Store) Current() (types.TrackInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasCurrent
}

// Source returns the attributed source
func (s *Store) Source() types.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Artwork returns the cached image (nil if not fetched yet) and its target URL
func (s *Store) Artwork() (image.Image, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artImage, s.artURL
}

// CommitArtwork stores img for url, but only if url is still the live current
// track's artwork. Returns false when the fetch went stale and was discarded.
func (s *Store) CommitArtwork(url string, img image.Image) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasCurrent || url == "" || s.current.AlbumArtURL != url {
		s.artDiscarded++
		return false
	}
	s.artURL = url
	s.artImage = img
	s.artCommitted++
	return true
}

// ClearArtwork drops both the cached image and its target URL
func (s *Store) ClearArtwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artImage = nil
	s.artURL = ""
}

// TakeRefresh reads and clears the full-refresh flag
func (s *Store) TakeRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.needsRefresh
	s.needsRefresh = false
	return v
}

// RequestRefresh raises the full-refresh flag without changing the track
func (s *Store) RequestRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needsRefresh = true
}

// Stats returns a copy of the counters
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Updates: map[string]uint64{
			types.ChangeNone.String():        s.updates[types.ChangeNone],
			types.ChangeMinor.String():       s.updates[types.ChangeMinor],
			types.ChangeSignificant.String(): s.updates[types.ChangeSignificant],
		},
		ArtCommitted: s.artCommitted,
		ArtDiscarded: s.artDiscarded,
	}
}
