package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks connects commands to the engine. Nil callbacks answer
// with a "not implemented" error.
type CommandCallbacks struct {
	OnGetStatus         func() map[string]interface{}
	OnActivateDisplay   func() error
	OnDeactivateDisplay func() error
	OnForceRefresh      func() error
}

// Handler handles control plane commands received over MQTT
type Handler struct {
	client        mqtt.Client
	topic         string
	responseTopic string
	qos           byte
	logger        *slog.Logger
	commands      chan Command

	mu        sync.Mutex
	callbacks CommandCallbacks
	handled   uint64
	stopped   bool
}

// NewHandler creates a new control plane handler listening on topic.
// Responses go to topic + "/response".
func NewHandler(client mqtt.Client, topic string, callbacks CommandCallbacks, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client:        client,
		topic:         topic,
		responseTopic: topic + "/response",
		qos:           1,
		logger:        logger.With("component", "control"),
		commands:      make(chan Command, 10),
		callbacks:     callbacks,
	}
}

// Start subscribes to the control topic and processes commands until ctx ends
func (h *Handler) Start(ctx context.Context) error {
	h.logger.Info("subscribing to control plane", "topic", h.topic, "qos", h.qos)

	token := h.client.Subscribe(h.topic, h.qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	h.logger.Info("control plane handler started")
	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes from the control topic
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.topic)
		token.WaitTimeout(2 * time.Second)
	}

	h.logger.Info("control plane handler stopped")
	return nil
}

// messageHandler is called by paho when a control message arrives
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	h.logger.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		h.logger.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

// handleCommand executes cmd and builds its response
func (h *Handler) handleCommand(cmd Command) Response {
	h.mu.Lock()
	cb := h.callbacks
	h.handled++
	h.mu.Unlock()

	resp := Response{CommandAck: cmd.Command}

	run := func(fn func() error, okStatus string) {
		if fn == nil {
			resp.Status = "error"
			resp.Error = cmd.Command + " not implemented"
			return
		}
		if err := fn(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			return
		}
		resp.Status = okStatus
	}

	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	case "activate_display":
		run(cb.OnActivateDisplay, "activated")

	case "deactivate_display":
		run(cb.OnDeactivateDisplay, "deactivated")

	case "force_refresh":
		run(cb.OnForceRefresh, "success")

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to marshal response", "error", err)
		return
	}
	if h.client == nil {
		return
	}

	token := h.client.Publish(h.responseTopic, h.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		h.logger.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		h.logger.Error("failed to publish response", "error", err)
		return
	}

	h.logger.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

// Handled returns the number of processed commands
func (h *Handler) Handled() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handled
}
