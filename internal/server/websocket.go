package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Keepalive timing for recorder windows. A control window that stops
// answering pings is unregistered, which ends its session's capture.
const (
	pongWait     = 30 * time.Second
	pingInterval = pongWait * 9 / 10
	writeWait    = 10 * time.Second
	maxReadBytes = 64 << 10
)

// WebSocketConn is the interface for WebSocket connection operations.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
	Ping() error
}

// Conn is a window connection with read limits and ping/pong keepalive.
type Conn struct {
	ws *websocket.Conn
}

// WriteJSON writes v as a text message within the write deadline.
func (c *Conn) WriteJSON(v any) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// ReadJSON reads the next command. The read deadline is extended on every
// pong, so a silent peer fails the read after pongWait.
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

// Ping sends a keepalive ping.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// PingInterval returns how often the writer should call Ping.
func PingInterval() time.Duration {
	return pingInterval
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin reports whether the WebSocket connection origin is allowed.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Same-origin requests omit the Origin header
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}
	host := u.Hostname()

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost || host == "localhost" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// UpgradeConnection upgrades an HTTP connection to a recorder window
// connection.
func UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxReadBytes)
	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		_ = ws.Close()
		return nil, err
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &Conn{ws: ws}, nil
}
