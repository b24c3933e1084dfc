package main

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/engine"
	"github.com/oszuidwest/zwfm-screenrec/internal/server"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))
var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// statusInterval is how often windows get a status refresh without a change.
const statusInterval = 3 * time.Second

type loginData struct {
	Error     bool
	CSRFToken string
	Version   string
	Year      int
}

type indexData struct {
	Version string
	Year    int
	User    string
}

// Server is an HTTP server that provides the web interface of the recorder.
type Server struct {
	config          *config.Config
	engine          *engine.Engine
	hub             *server.Hub
	sessions        *server.SessionManager
	commands        *server.CommandHandler
	version         *VersionChecker
	eventLogPath    string
	ffmpegAvailable bool
}

// NewServer returns a new Server serving the sessions of eng.
func NewServer(cfg *config.Config, eng *engine.Engine, hub *server.Hub, eventLogPath string, ffmpegAvailable bool) *Server {
	return &Server{
		config:          cfg,
		engine:          eng,
		hub:             hub,
		sessions:        server.NewSessionManager(),
		commands:        server.NewCommandHandler(cfg, eng, hub, eventLogPath, ffmpegAvailable),
		version:         NewVersionChecker(),
		eventLogPath:    eventLogPath,
		ffmpegAvailable: ffmpegAvailable,
	}
}

// handleWebSocket handles bidirectional WebSocket communication for real-time
// updates. The role query parameter tells the control window from observers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := server.UserIDFrom(r.Context())
	role := server.ParseRole(r.URL.Query().Get("role"))

	conn, err := server.UpgradeConnection(w, r)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := s.hub.Register(userID, role)
	defer s.hub.Unregister(client)

	// Only the writer goroutine writes to the connection. The send channel is
	// never closed, as asynchronous command handlers may still send to it.
	send := make(chan any, 16)
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)

	go s.runWebSocketWriter(conn, send, done)
	go s.runWebSocketReader(conn, client, send, done, statusUpdate)

	s.runWebSocketEventLoop(client, send, done, statusUpdate)
}

// runWebSocketWriter writes messages from the send channel to the connection
// until done is closed or a write fails.
func (s *Server) runWebSocketWriter(conn server.WebSocketConn, send <-chan any, done <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	ping := time.NewTicker(server.PingInterval())
	defer ping.Stop()

	for {
		select {
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// runWebSocketReader reads commands from the connection and dispatches them.
func (s *Server) runWebSocketReader(conn server.WebSocketConn, client *server.Client, send chan<- any, done chan<- struct{}, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd server.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, client, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runWebSocketEventLoop pushes status on change, upload progress and a
// periodic refresh until the connection is done.
func (s *Server) runWebSocketEventLoop(client *server.Client, send chan<- any, done, statusUpdate <-chan struct{}) {
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	// trySend attempts to send a message, returning false if done is closed
	trySend := func(msg any) bool {
		select {
		case send <- msg:
			return true
		case <-done:
			return false
		}
	}

	if !trySend(s.buildWSStatus(client)) {
		return
	}

	for {
		var msg any
		select {
		case <-done:
			return
		case <-statusUpdate:
			msg = s.buildWSStatus(client)
		case <-client.Updates():
			msg = s.buildWSStatus(client)
		case pct := <-client.Progress():
			msg = types.WSProgressResponse{Type: "progress", Percent: pct}
		case <-statusTicker.C:
			msg = s.buildWSStatus(client)
		}
		if !trySend(msg) {
			return
		}
	}
}

// buildWSStatus returns the status response for a window of client's user.
func (s *Server) buildWSStatus(client *server.Client) types.WSStatusResponse {
	resp := types.WSStatusResponse{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Role:            string(client.Role),
		ControlOpen:     s.hub.ControlOpen(client.UserID),
		Version:         s.version.Info(),
	}
	if sess, err := s.engine.Session(client.UserID); err == nil {
		resp.Session = sess.View()
	} else {
		resp.Session = types.SessionView{Status: types.StatusIdle, Message: types.UserMessage(err)}
	}
	return resp
}

// SetupRoutes returns an [http.Handler] configured with all application routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()
	auth := s.sessions.AuthMiddleware()

	// Public routes (no auth required)
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	// Public static assets (needed for login page styling)
	mux.HandleFunc("/style.css", s.handlePublicStatic)
	mux.HandleFunc("/favicon.svg", s.handlePublicStatic)

	// Protected routes
	mux.HandleFunc("/ws", auth(s.handleWebSocket))
	mux.HandleFunc("/api/status", auth(s.handleAPIStatus))
	mux.HandleFunc("/api/events", auth(s.handleAPIEvents))
	mux.HandleFunc("/downloads/", auth(s.handleDownload))
	mux.HandleFunc("/", auth(s.handleStatic))

	return securityHeaders(mux)
}

// securityHeaders returns middleware that wraps handlers with security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// handlePublicStatic handles requests for static files without authentication.
func (s *Server) handlePublicStatic(w http.ResponseWriter, r *http.Request) {
	if !serveStaticFile(w, r.URL.Path) {
		http.NotFound(w, r)
	}
}

// serveStaticFile serves a static file by path and reports whether it was found.
func serveStaticFile(w http.ResponseWriter, path string) bool {
	file, ok := staticFiles[path]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", file.contentType)
	if _, err := w.Write([]byte(file.content)); err != nil {
		slog.Error("failed to write static file", "file", file.name, "error", err)
	}
	return true
}

// handleDownload serves finished recordings from the downloads directory.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dir := s.config.Snapshot().DownloadsDir
	w.Header().Set("Content-Disposition", "attachment")
	http.StripPrefix("/downloads/", http.FileServer(http.Dir(dir))).ServeHTTP(w, r)
}

// handleLogin handles login page display and form submission.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessions.RequestUserID(r); ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	cfg := s.config.Snapshot()
	data := loginData{
		Version:   Version,
		Year:      time.Now().Year(),
		CSRFToken: s.sessions.CreateCSRFToken(),
	}

	if r.Method == http.MethodPost {
		if !s.sessions.ValidateCSRFToken(r.FormValue("csrf_token")) {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		username := r.FormValue("username")
		if s.sessions.Login(w, r, username, r.FormValue("password"), cfg.WebUser, cfg.WebPassword) {
			slog.Info("user signed in", "user", username)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		slog.Warn("failed sign in", "user", username, "remote", r.RemoteAddr)
		data.Error = true
		data.CSRFToken = s.sessions.CreateCSRFToken() // New token for retry
	}

	w.Header().Set("Content-Type", "text/html")
	if err := loginTmpl.Execute(w, data); err != nil {
		slog.Error("failed to render login page", "error", err)
	}
}

// handleLogout handles user logout requests.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// staticFile is an embedded static file with content type and data.
type staticFile struct {
	contentType string
	content     string
	name        string
}

// staticFiles is a map from URL paths to static file definitions.
var staticFiles = map[string]staticFile{
	"/style.css": {
		contentType: "text/css",
		content:     styleCSS,
		name:        "style.css",
	},
	"/app.js": {
		contentType: "application/javascript",
		content:     appJS,
		name:        "app.js",
	},
	"/favicon.svg": {
		contentType: "image/svg+xml",
		content:     faviconSVG,
		name:        "favicon.svg",
	},
}

// handleStatic handles requests for embedded static web interface files.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" || path == "/index.html" {
		w.Header().Set("Content-Type", "text/html")
		if err := indexTmpl.Execute(w, indexData{
			Version: Version,
			Year:    time.Now().Year(),
			User:    server.UserIDFrom(r.Context()),
		}); err != nil {
			slog.Error("failed to write index.html", "error", err)
		}
		return
	}

	if serveStaticFile(w, path) {
		return
	}

	http.NotFound(w, r)
}

// Start begins the HTTP server.
// Returns an *http.Server that can be used for graceful shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.config.Snapshot().WebPort)
	slog.Info("starting web server", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return srv
}
