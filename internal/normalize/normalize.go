// Package normalize converts raw service snapshots into TrackInfo values.
// Every function here is pure and returns the nothing-playing sentinel for
// unusable input instead of an error.
package normalize

import (
	"strings"

	"github.com/care/nowplaying/internal/source"
	"github.com/care/nowplaying/internal/types"
)

// Spotify normalizes a polling-source snapshot.
// Nil input, a missing item or a stopped player yield the sentinel.
func Spotify(raw *source.SpotifyPlayback) types.TrackInfo {
	if raw == nil || raw.Item == nil || !raw.IsPlaying {
		return types.NothingPlaying()
	}
	item := raw.Item

	names := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		names = append(names, a.Name)
	}

	var art string
	if len(item.Album.Images) > 0 {
		art = item.Album.Images[0].URL
	}

	return types.TrackInfo{
		Source:      types.SourceSpotify,
		Title:       item.Name,
		Artist:      strings.Join(names, ", "),
		Album:       item.Album.Name,
		AlbumArtURL: art,
		DurationMS:  item.DurationMS,
		ProgressMS:  raw.ProgressMS,
		IsPlaying:   raw.IsPlaying,
	}
}

// YTM normalizes a hybrid-source snapshot.
// Ads and tracks missing a title or artist yield the sentinel. Paused tracks
// keep their metadata with IsPlaying false.
func YTM(raw *source.YTMState) types.TrackInfo {
	if raw == nil || raw.Video == nil || raw.Player.AdPlaying {
		return types.NothingPlaying()
	}
	video := raw.Video
	if video.Title == "" || video.Author == "" {
		return types.NothingPlaying()
	}

	var art string
	if len(video.Thumbnails) > 0 {
		art = video.Thumbnails[0].URL
	}

	return types.TrackInfo{
		Source:      types.SourceYTM,
		Title:       video.Title,
		Artist:      video.Author,
		Album:       video.Album,
		AlbumArtURL: art,
		DurationMS:  secondsToMS(video.DurationSeconds),
		ProgressMS:  secondsToMS(raw.Player.VideoProgress),
		IsPlaying:   raw.Player.TrackState == source.YTMTrackStatePlaying,
	}
}

// secondsToMS truncates toward zero; absent values are 0
func secondsToMS(s *float64) int64 {
	if s == nil {
		return 0
	}
	return int64(*s * 1000)
}
