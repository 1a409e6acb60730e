// Package ytm is the hybrid source. A companion bridge next to the YouTube
// Music desktop app publishes its player state document to an MQTT topic
// (retained); subscribing gives push updates and the retained message doubles
// as the cached snapshot.
package ytm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/nowplaying/internal/source"
)

// ErrClosed is returned by Connect after Shutdown
var ErrClosed = errors.New("client shut down")

// Config contains hybrid source settings
type Config struct {
	Broker     string // host:port
	StateTopic string
	ClientID   string
	QoS        byte
}

// Stats contains message counters
type Stats struct {
	Received     uint64 `json:"received"`
	DecodeErrors uint64 `json:"decode_errors"`
	Connects     uint64 `json:"connects"`
	Disconnects  uint64 `json:"disconnects"`
}

// Client implements source.HybridClient
type Client struct {
	cfg       Config
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
	last      *source.YTMState
	handler   source.UpdateHandler
	closed    bool

	received     uint64
	decodeErrors uint64
	connects     uint64
	disconnects  uint64
}

// New creates a disconnected client
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		logger:    logger.With("component", "ytm"),
		newClient: mqtt.NewClient,
	}
}

// SetUpdateHandler implements source.HybridClient
func (c *Client) SetUpdateHandler(h source.UpdateHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// IsConnected implements source.HybridClient
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// Connect dials the broker and subscribes to the state topic, bounded by ctx.
// Reconnection is left to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("ytm connect: %w", ErrClosed)
	}
	if c.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", c.cfg.Broker))
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	if deadline, ok := ctx.Deadline(); ok {
		opts.SetConnectTimeout(time.Until(deadline))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		atomic.AddUint64(&c.disconnects, 1)
		c.logger.Warn("ytm bridge connection lost", "broker", c.cfg.Broker, "error", err)
	}

	client := c.newClient(opts)
	c.logger.Info("connecting to ytm bridge", "broker", c.cfg.Broker, "topic", c.cfg.StateTopic)

	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("ytm connect: %w", err)
	}
	if err := waitToken(ctx, client.Subscribe(c.cfg.StateTopic, c.cfg.QoS, c.messageHandler)); err != nil {
		client.Disconnect(250)
		return fmt.Errorf("ytm subscribe: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.connected = true
	c.mu.Unlock()
	atomic.AddUint64(&c.connects, 1)

	c.logger.Info("ytm bridge connected", "broker", c.cfg.Broker)
	return nil
}

// Disconnect implements source.HybridClient
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		c.logger.Info("ytm bridge disconnected")
	}
}

// Shutdown disconnects and releases the paho client and the update handler.
// Later Connect calls fail with ErrClosed.
func (c *Client) Shutdown() {
	c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.handler = nil
	c.last = nil
	c.mu.Unlock()
	c.logger.Debug("ytm client shut down")
}

// CurrentState implements source.HybridClient. The returned value is shared
// and must be treated as read-only.
func (c *Client) CurrentState() *source.YTMState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// messageHandler runs on the paho delivery goroutine
func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var state source.YTMState
	if err := json.Unmarshal(msg.Payload(), &state); err != nil {
		atomic.AddUint64(&c.decodeErrors, 1)
		c.logger.Warn("invalid ytm state document", "topic", msg.Topic(), "error", err)
		return
	}
	atomic.AddUint64(&c.received, 1)

	c.mu.Lock()
	c.last = &state
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(&state)
	}
}

// Stats returns message counters
func (c *Client) Stats() Stats {
	return Stats{
		Received:     atomic.LoadUint64(&c.received),
		DecodeErrors: atomic.LoadUint64(&c.decodeErrors),
		Connects:     atomic.LoadUint64(&c.connects),
		Disconnects:  atomic.LoadUint64(&c.disconnects),
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", source.ErrNotConnected, ctx.Err())
	}
}
