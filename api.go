package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/server"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// APIStatusResponse is the body of GET /api/status.
type APIStatusResponse struct {
	User            string            `json:"user"`
	FFmpegAvailable bool              `json:"ffmpeg_available"`
	ControlOpen     bool              `json:"control_open"`
	Windows         int               `json:"windows"`
	Session         types.SessionView `json:"session"`
	Version         types.VersionInfo `json:"version"`
}

// handleAPIStatus returns the session view of the signed-in user.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID := server.UserIDFrom(r.Context())
	sess, err := s.engine.Session(userID)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, types.UserMessage(err))
		return
	}

	s.writeJSON(w, http.StatusOK, APIStatusResponse{
		User:            userID,
		FFmpegAvailable: s.ffmpegAvailable,
		ControlOpen:     s.hub.ControlOpen(userID),
		Windows:         s.hub.Count(userID),
		Session:         sess.View(),
		Version:         s.version.Info(),
	})
}

// handleAPIEvents returns the signed-in user's most recent session events.
// GET /api/events?limit=N&offset=N&filter=session|recording
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	limit, ok := queryInt(q.Get("limit"), server.MaxEventEntries)
	if !ok || limit < 1 || limit > server.MaxEventEntries {
		s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	offset, ok := queryInt(q.Get("offset"), 0)
	if !ok || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}
	filter := eventlog.TypeFilter(q.Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterSession, eventlog.FilterRecording:
	default:
		s.writeError(w, http.StatusBadRequest, "filter must be session or recording")
		return
	}

	if s.eventLogPath == "" {
		s.writeJSON(w, http.StatusOK, server.EventsResult{Events: []eventlog.Event{}})
		return
	}

	events, hasMore, err := eventlog.ReadLast(s.eventLogPath, eventlog.Query{
		Limit:  limit,
		Offset: offset,
		Filter: filter,
		UserID: server.UserIDFrom(r.Context()),
	})
	if err != nil {
		slog.Error("failed to read event log", "path", s.eventLogPath, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read event log")
		return
	}
	s.writeJSON(w, http.StatusOK, server.EventsResult{Events: events, HasMore: hasMore})
}

// queryInt parses a query value, returning def when it is empty.
func queryInt(v string, def int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
