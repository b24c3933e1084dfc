package server

import (
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-screenrec/internal/orchestrator"
)

// Role is the part a WebSocket client plays in a capture session.
type Role string

const (
	// RoleControl is the window that drives capture hardware.
	RoleControl Role = "control"
	// RoleMain is a window that only observes and launches.
	RoleMain Role = "main"
)

// ParseRole returns the role named by s. Anything else observes.
func ParseRole(s string) Role {
	if Role(s) == RoleControl {
		return RoleControl
	}
	return RoleMain
}

// Client is one connected browser window.
type Client struct {
	UserID string
	Role   Role

	update   chan struct{}
	progress chan float64
}

// Updates delivers a signal whenever the session view may have changed.
func (c *Client) Updates() <-chan struct{} {
	return c.update
}

// Progress delivers the latest upload percentage.
func (c *Client) Progress() <-chan float64 {
	return c.progress
}

// Hub tracks the connected windows of every user. It is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Register adds a window of userID.
func (h *Hub) Register(userID string, role Role) *Client {
	c := &Client{
		UserID:   userID,
		Role:     role,
		update:   make(chan struct{}, 1),
		progress: make(chan float64, 1),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("window connected", "user", userID, "role", role)
	h.Notify(userID)
	return c
}

// Unregister removes a window. Other windows of the user are notified, as
// control presence may have changed.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		slog.Info("window disconnected", "user", c.UserID, "role", c.Role)
		h.Notify(c.UserID)
	}
}

// Notify signals every window of userID to refresh its view. It never blocks.
func (h *Hub) Notify(userID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID != userID {
			continue
		}
		select {
		case c.update <- struct{}{}:
		default:
		}
	}
}

// Progress delivers an upload percentage to every window of userID,
// replacing a value not yet consumed.
func (h *Hub) Progress(userID string, percent float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID != userID {
			continue
		}
		select {
		case <-c.progress:
		default:
		}
		select {
		case c.progress <- percent:
		default:
		}
	}
}

// ControlOpen reports whether userID has a control window connected.
func (h *Hub) ControlOpen(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.UserID == userID && c.Role == RoleControl {
			return true
		}
	}
	return false
}

// Count returns the number of connected windows of userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// Window returns the control window of userID as seen by the liveness monitor.
func (h *Hub) Window(userID string) orchestrator.Window {
	return controlWindow{hub: h, userID: userID}
}

type controlWindow struct {
	hub    *Hub
	userID string
}

func (w controlWindow) Closed() bool {
	return !w.hub.ControlOpen(w.userID)
}
