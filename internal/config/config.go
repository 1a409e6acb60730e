package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/care/nowplaying/internal/scroll"
	"github.com/care/nowplaying/internal/types"
)

// ErrInvalidSource is returned when preferred_source names no known service.
// The engine treats it as fatal for itself and stays disabled.
var ErrInvalidSource = errors.New("invalid preferred_source")

// Config represents the complete nowplaying configuration
type Config struct {
	InstanceID             string        `yaml:"instance_id"`
	Enabled                *bool         `yaml:"enabled"` // default: true
	PollingIntervalS       int           `yaml:"polling_interval_seconds"`
	PreferredSource        string        `yaml:"preferred_source"` // spotify | ytm
	PriorityMode           bool          `yaml:"priority_mode"`
	PriorityModeName       string        `yaml:"priority_mode_name"`
	PriorityDurationS      int           `yaml:"priority_duration_seconds"`
	NothingPlayingTimeoutS int           `yaml:"nothing_playing_timeout_seconds"`
	RenderIntervalMS       int           `yaml:"render_interval_ms"`
	ArtworkTimeoutS        int           `yaml:"artwork_timeout_seconds"`
	ShutdownTimeoutS       int           `yaml:"shutdown_timeout_seconds"`
	Scroll                 ScrollConfig  `yaml:"scroll"`
	Display                DisplayConfig `yaml:"display"`
	Spotify                SpotifyConfig `yaml:"spotify"`
	YTM                    YTMConfig     `yaml:"ytm"`
	MQTT                   MQTTConfig    `yaml:"mqtt"`
	Health                 HealthConfig  `yaml:"health"`
}

// ScrollConfig contains per-field marquee settings
type ScrollConfig struct {
	Title  FieldScroll `yaml:"title"`
	Artist FieldScroll `yaml:"artist"`
	Album  FieldScroll `yaml:"album"`
}

// FieldScroll configures one text field
type FieldScroll struct {
	Enabled            *bool   `yaml:"enabled"`   // default: true
	Speed              int     `yaml:"speed"`     // ticks per character (default: 5)
	Separator          *string `yaml:"separator"` // default: three spaces
	InitialPauseFrames int     `yaml:"initial_pause_frames"`
	EndPauseFrames     int     `yaml:"end_pause_frames"`
}

// DisplayConfig describes the output panel
type DisplayConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	OutputPath string `yaml:"output_path"` // PNG frame sink, optional
}

// SpotifyConfig contains polling source settings
type SpotifyConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessTokenFile string `yaml:"access_token_file"`
	TimeoutS        int    `yaml:"timeout_seconds"`
}

// YTMConfig contains hybrid source settings
type YTMConfig struct {
	Broker     string `yaml:"broker"`
	StateTopic string `yaml:"state_topic"`
	ClientID   string `yaml:"client_id"`
}

// MQTTConfig contains broker settings for state emission and control
type MQTTConfig struct {
	Broker        string     `yaml:"broker"` // empty disables emitter and control plane
	PayloadFormat string     `yaml:"payload_format"`
	Topics        MQTTTopics `yaml:"topics"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	State    string `yaml:"state"`
	Priority string `yaml:"priority"`
	Control  string `yaml:"control"`
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Port string `yaml:"port"` // empty disables the server
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// IsEnabled reports the enabled flag (default true)
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Source resolves preferred_source
func (c *Config) Source() (types.Source, error) {
	src, err := types.ParseSource(c.PreferredSource)
	if err != nil {
		return types.SourceNone, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	return src, nil
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalS) * time.Second
}

func (c *Config) PriorityDuration() time.Duration {
	return time.Duration(c.PriorityDurationS) * time.Second
}

func (c *Config) NothingPlayingTimeout() time.Duration {
	return time.Duration(c.NothingPlayingTimeoutS) * time.Second
}

func (c *Config) RenderInterval() time.Duration {
	return time.Duration(c.RenderIntervalMS) * time.Millisecond
}

func (c *Config) ArtworkTimeout() time.Duration {
	return time.Duration(c.ArtworkTimeoutS) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Animator converts the field settings into an animator configuration
func (f FieldScroll) Animator() scroll.Config {
	cfg := scroll.DefaultConfig()
	if f.Enabled != nil {
		cfg.Enabled = *f.Enabled
	}
	if f.Speed > 0 {
		cfg.Speed = f.Speed
	}
	if f.Separator != nil {
		cfg.Separator = *f.Separator
	}
	cfg.InitialPauseFrames = max(0, f.InitialPauseFrames)
	cfg.EndPauseFrames = max(0, f.EndPauseFrames)
	return cfg
}
