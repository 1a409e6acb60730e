package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
// preferred_source is resolved later by the engine (see Config.Source).
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "nowplaying"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.PollingIntervalS < 1 {
		cfg.PollingIntervalS = 2
	}
	if cfg.PriorityModeName == "" {
		cfg.PriorityModeName = "now_playing"
	}
	if cfg.PriorityDurationS <= 0 {
		cfg.PriorityDurationS = 30
	}
	if cfg.NothingPlayingTimeoutS <= 0 {
		cfg.NothingPlayingTimeoutS = 10
	}
	if cfg.RenderIntervalMS <= 0 {
		cfg.RenderIntervalMS = 100
	}
	if cfg.ArtworkTimeoutS <= 0 {
		cfg.ArtworkTimeoutS = 5
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.Display.Width == 0 {
		cfg.Display.Width = 64
	}
	if cfg.Display.Height == 0 {
		cfg.Display.Height = 32
	}
	if cfg.Display.Width < 0 || cfg.Display.Height < 0 {
		return fmt.Errorf("display size must be positive, got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
	if cfg.Display.Width <= cfg.Display.Height+3 {
		return fmt.Errorf("display width %d leaves no text area next to %dpx artwork",
			cfg.Display.Width, cfg.Display.Height)
	}

	if cfg.Spotify.Endpoint == "" {
		cfg.Spotify.Endpoint = "https://api.spotify.com/v1/me/player/currently-playing"
	}
	if cfg.Spotify.TimeoutS <= 0 {
		cfg.Spotify.TimeoutS = 5
	}

	if cfg.YTM.Broker == "" {
		cfg.YTM.Broker = "localhost:1883"
	}
	if cfg.YTM.StateTopic == "" {
		cfg.YTM.StateTopic = "ytm/state"
	}
	if cfg.YTM.ClientID == "" {
		cfg.YTM.ClientID = cfg.InstanceID + "-ytm"
	}

	switch cfg.MQTT.PayloadFormat {
	case "":
		cfg.MQTT.PayloadFormat = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.payload_format must be json or msgpack, got %q", cfg.MQTT.PayloadFormat)
	}
	if cfg.MQTT.Topics.State == "" {
		cfg.MQTT.Topics.State = fmt.Sprintf("nowplaying/state/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Priority == "" {
		cfg.MQTT.Topics.Priority = fmt.Sprintf("display/priority/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("nowplaying/control/%s", cfg.InstanceID)
	}

	return nil
}
