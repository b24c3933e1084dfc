package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/engine"
)

// MaxEventEntries is the maximum number of event log entries returned.
const MaxEventEntries = 100

// Command errors.
var (
	// ErrNotControl is returned when an observing window tries to drive capture.
	ErrNotControl = errors.New("only the control window can drive capture")
	// ErrNoControlWindow is returned when a launch is requested without a control window.
	ErrNoControlWindow = errors.New("open the recorder window first")
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg             *config.Config
	engine          *engine.Engine
	hub             *Hub
	eventLogPath    string
	ffmpegAvailable bool
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, eng *engine.Engine, hub *Hub, eventLogPath string, ffmpegAvailable bool) *CommandHandler {
	return &CommandHandler{
		cfg:             cfg,
		engine:          eng,
		hub:             hub,
		eventLogPath:    eventLogPath,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "recorder/start", "settings/update")
func (h *CommandHandler) Handle(cmd WSCommand, c *Client, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "recorder":
		h.handleRecorder(action, cmd, c, send)
	case "launcher":
		h.handleLauncher(action, cmd, c, send)
	case "settings":
		h.handleSettings(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, c, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleRecorder routes recorder/* commands
func (h *CommandHandler) handleRecorder(action string, cmd WSCommand, c *Client, send chan<- any) {
	switch action {
	case "initialize", "start", "stop", "reset":
		h.handleRecorderAction(action, cmd, c, send)
	default:
		slog.Warn("unknown recorder action", "action", action)
	}
}

// handleLauncher routes launcher/* commands
func (h *CommandHandler) handleLauncher(action string, cmd WSCommand, c *Client, send chan<- any) {
	switch action {
	case "start", "stop":
		h.handleLaunch(action, cmd, c, send)
	default:
		slog.Warn("unknown launcher action", "action", action)
	}
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSettingsUpdate(cmd, send)
	case "get":
		h.handleSettingsGet(send)
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, c *Client, send chan<- any) {
	switch action {
	case "list":
		h.handleEventsList(cmd, c, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}
