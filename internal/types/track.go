package types

import "fmt"

// Source identifies which music service a track was attributed to
type Source int

const (
	// SourceNone means no service currently owns the display
	SourceNone Source = iota
	// SourceSpotify is the pull-only (polling) source
	SourceSpotify
	// SourceYTM is the hybrid source: push callbacks plus a cached snapshot
	SourceYTM
)

// String implements fmt.Stringer
func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceSpotify:
		return "spotify"
	case SourceYTM:
		return "ytm"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText encodes the source by name in JSON payloads
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (s *Source) UnmarshalText(text []byte) error {
	if string(text) == "none" {
		*s = SourceNone
		return nil
	}
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSource maps a configured source name to a Source.
// Only the two real services are accepted; "none" is not a valid preference.
func ParseSource(name string) (Source, error) {
	switch name {
	case "spotify":
		return SourceSpotify, nil
	case "ytm":
		return SourceYTM, nil
	default:
		return SourceNone, fmt.Errorf("unknown source %q (expected spotify or ytm)", name)
	}
}

// NothingPlayingTitle is the title carried by the nothing-playing sentinel
const NothingPlayingTitle = "Nothing Playing"

// TrackInfo is the canonical, source-independent description of what is playing.
// It is a plain value: comparable with == and safe to copy across goroutines.
type TrackInfo struct {
	Source      Source `json:"source"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtURL string `json:"album_art_url,omitempty"` // empty when the source has no artwork
	DurationMS  int64  `json:"duration_ms"`
	ProgressMS  int64  `json:"progress_ms"`
	IsPlaying   bool   `json:"is_playing"`
}

// NothingPlaying returns the sentinel used whenever no valid track is available
func NothingPlaying() TrackInfo {
	return TrackInfo{Source: SourceNone, Title: NothingPlayingTitle}
}

// IsNothingPlaying reports whether t is the nothing-playing sentinel
func (t TrackInfo) IsNothingPlaying() bool {
	return t.Title == NothingPlayingTitle
}

// ChangeKind classifies the result of applying an update to the shared track state
type ChangeKind int

const (
	// ChangeNone: the update was identical to the current state
	ChangeNone ChangeKind = iota
	// ChangeMinor: something changed (typically progress) that only needs a normal redraw
	ChangeMinor
	// ChangeSignificant: title, artist, artwork or play state changed; needs a full refresh
	ChangeSignificant
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeMinor:
		return "minor"
	case ChangeSignificant:
		return "significant"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}
