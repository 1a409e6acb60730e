package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
)

// Config contains emitter settings
type Config struct {
	Broker        string
	ClientID      string
	InstanceID    string
	StateTopic    string
	PriorityTopic string
	PayloadFormat string // json | msgpack
}

// StateMessage is published (retained) on every significant track change
type StateMessage struct {
	UpdateID    string `json:"update_id" msgpack:"update_id"`
	InstanceID  string `json:"instance_id" msgpack:"instance_id"`
	Change      string `json:"change" msgpack:"change"`
	Origin      string `json:"origin" msgpack:"origin"`
	Source      string `json:"source" msgpack:"source"`
	Title       string `json:"title" msgpack:"title"`
	Artist      string `json:"artist" msgpack:"artist"`
	Album       string `json:"album" msgpack:"album"`
	AlbumArtURL string `json:"album_art_url,omitempty" msgpack:"album_art_url,omitempty"`
	DurationMS  int64  `json:"duration_ms" msgpack:"duration_ms"`
	ProgressMS  int64  `json:"progress_ms" msgpack:"progress_ms"`
	IsPlaying   bool   `json:"is_playing" msgpack:"is_playing"`
	Timestamp   string `json:"timestamp" msgpack:"timestamp"`
}

// PriorityMessage asks the display's mode switcher for, or returns, priority
type PriorityMessage struct {
	Action     string `json:"action" msgpack:"action"` // request | relinquish
	Mode       string `json:"mode,omitempty" msgpack:"mode,omitempty"`
	DurationS  int    `json:"duration_s,omitempty" msgpack:"duration_s,omitempty"`
	InstanceID string `json:"instance_id" msgpack:"instance_id"`
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
}

// Encoder serializes a message payload
type Encoder func(v any) ([]byte, error)

// EncoderFor returns the payload encoder for format
func EncoderFor(format string) (Encoder, error) {
	switch format {
	case "", "json":
		return json.Marshal, nil
	case "msgpack":
		return msgpack.Marshal, nil
	default:
		return nil, fmt.Errorf("unknown payload format %q", format)
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTEmitter publishes now-playing state and priority requests.
// It also implements priority.Switcher.
type MQTTEmitter struct {
	cfg    Config
	encode Encoder
	logger *slog.Logger
	Client mqtt.Client // shared with the control plane

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new emitter
func NewMQTTEmitter(cfg Config, logger *slog.Logger) (*MQTTEmitter, error) {
	enc, err := EncoderFor(cfg.PayloadFormat)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTEmitter{
		cfg:       cfg,
		encode:    enc,
		logger:    logger.With("component", "emitter"),
		published: make(map[string]uint64),
	}, nil
}

// Connect establishes connection to the MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// PublishState publishes msg (retained) to the state topic
func (e *MQTTEmitter) PublishState(msg StateMessage) error {
	if msg.InstanceID == "" {
		msg.InstanceID = e.cfg.InstanceID
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return e.publish(e.cfg.StateTopic, 1, true, msg)
}

// RequestPriority implements priority.Switcher
func (e *MQTTEmitter) RequestPriority(mode string, duration time.Duration) error {
	return e.publish(e.cfg.PriorityTopic, 1, false, PriorityMessage{
		Action:     "request",
		Mode:       mode,
		DurationS:  int(duration / time.Second),
		InstanceID: e.cfg.InstanceID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// RelinquishPriority implements priority.Switcher
func (e *MQTTEmitter) RelinquishPriority() error {
	return e.publish(e.cfg.PriorityTopic, 1, false, PriorityMessage{
		Action:     "relinquish",
		InstanceID: e.cfg.InstanceID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// publish never blocks on the broker: delivery is awaited in the background
func (e *MQTTEmitter) publish(topic string, qos byte, retained bool, v any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := e.encode(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	go e.await(topic, len(payload), token)
	return nil
}

func (e *MQTTEmitter) await(topic string, size int, token mqtt.Token) {
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		e.logger.Warn("publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		e.logger.Warn("publish failed", "topic", topic, "error", err)
		return
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("message published", "topic", topic, "size", size)
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.Client != nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
