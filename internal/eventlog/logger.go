// Package eventlog records capture session events (status changes,
// recordings, saves and uploads) in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Session event types.
const (
	SessionInitialized EventType = "session_initialized"
	SessionStatus      EventType = "session_status"
	SessionReset       EventType = "session_reset"
	SessionError       EventType = "session_error"
	SessionAbandoned   EventType = "session_abandoned"
)

// Recording event types.
const (
	RecordingStarted EventType = "recording_started"
	RecordingStopped EventType = "recording_stopped"
	RecordingSaved   EventType = "recording_saved"
	UploadCompleted  EventType = "upload_completed"
	UploadFailed     EventType = "upload_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// SessionDetails contains session-specific event details.
type SessionDetails struct {
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RecordingDetails contains recording-specific event details.
type RecordingDetails struct {
	Filename   string `json:"filename,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		// %PROGRAMDATA% is typically C:\ProgramData
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "screenrec", "logs", fmt.Sprintf("%d", port), "sessions.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/screenrec", fmt.Sprintf("%d", port), "sessions.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file. A nil Logger discards the event.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogSession logs a session event.
func (l *Logger) LogSession(eventType EventType, userID, message string, details *SessionDetails) error {
	event := &Event{
		Timestamp: time.Now(),
		Type:      eventType,
		UserID:    userID,
		Message:   message,
	}
	if details != nil {
		event.Details = details
	}
	return l.Log(event)
}

// LogRecording logs a recording event.
func (l *Logger) LogRecording(eventType EventType, userID string, details *RecordingDetails) error {
	event := &Event{
		Timestamp: time.Now(),
		Type:      eventType,
		UserID:    userID,
	}
	if details != nil {
		event.Details = details
	}
	return l.Log(event)
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file, or "" for a nil Logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterSession   TypeFilter = "session"
	FilterRecording TypeFilter = "recording"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// maxLineBytes bounds a single log line.
const maxLineBytes = 1 << 20

// Query selects events for ReadLast. Offset and Limit count matching events.
type Query struct {
	Limit  int
	Offset int
	Filter TypeFilter
	UserID string // Empty matches every user
}

func (q *Query) matches(e *Event) bool {
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	switch q.Filter {
	case FilterSession:
		return IsSessionEvent(e.Type)
	case FilterRecording:
		return IsRecordingEvent(e.Type)
	default:
		return true
	}
}

// ReadLast returns the events selected by q, newest first, and whether older
// matching events remain. A missing file has no events. Malformed lines are
// skipped.
func ReadLast(filePath string, q Query) ([]Event, bool, error) {
	limit := min(q.Limit, MaxReadLimit)
	if limit <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	// Keep a window of the newest offset+limit+1 matches while scanning
	// forward. The extra match tells whether more remain.
	window := q.Offset + limit + 1
	var matched []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if !q.matches(&event) {
			continue
		}
		matched = append(matched, event)
		if len(matched) > 2*window {
			matched = append(matched[:0], matched[len(matched)-window:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Newest first: index 0 of the page is the offset-th newest match.
	end := len(matched) - q.Offset
	if end <= 0 {
		return []Event{}, false, nil
	}
	begin := max(end-limit, 0)
	events := make([]Event, 0, end-begin)
	for i := end - 1; i >= begin; i-- {
		events = append(events, matched[i])
	}
	return events, begin > 0, nil
}

// IsSessionEvent returns true if the event type is a session event.
func IsSessionEvent(t EventType) bool {
	switch t {
	case SessionInitialized, SessionStatus, SessionReset, SessionError, SessionAbandoned:
		return true
	}
	return false
}

// IsRecordingEvent returns true if the event type is a recording event.
func IsRecordingEvent(t EventType) bool {
	switch t {
	case RecordingStarted, RecordingStopped, RecordingSaved, UploadCompleted, UploadFailed:
		return true
	}
	return false
}
