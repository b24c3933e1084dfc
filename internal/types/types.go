// Package types provides shared type definitions used across the recorder.
package types

import (
	"time"
)

// RecorderStatus is the phase of a screen recording session.
// Exactly one value exists per user and is mirrored into every open window.
type RecorderStatus string

const (
	// StatusIdle indicates no capture session is open.
	StatusIdle RecorderStatus = "idle"
	// StatusReady indicates the screen stream is acquired and recording can start.
	StatusReady RecorderStatus = "ready"
	// StatusShouldStart is written by the launcher to request a recording start.
	StatusShouldStart RecorderStatus = "shouldStart"
	// StatusShouldStop is written by the launcher to request a recording stop.
	StatusShouldStop RecorderStatus = "shouldStop"
	// StatusStarting indicates the combined stream and recorder are being set up.
	StatusStarting RecorderStatus = "starting"
	// StatusRecording indicates chunks are being captured.
	StatusRecording RecorderStatus = "recording"
	// StatusSaving indicates the final blob is being downloaded and uploaded.
	StatusSaving RecorderStatus = "saving"
	// StatusError indicates the session failed and was cleaned up.
	StatusError RecorderStatus = "error"
	// StatusUnknown is reported for values this build does not recognise.
	StatusUnknown RecorderStatus = "unknown"
)

var knownStatuses = map[RecorderStatus]struct{}{
	StatusIdle:        {},
	StatusReady:       {},
	StatusShouldStart: {},
	StatusShouldStop:  {},
	StatusStarting:    {},
	StatusRecording:   {},
	StatusSaving:      {},
	StatusError:       {},
}

// ParseRecorderStatus returns the status for s, or [StatusUnknown].
func ParseRecorderStatus(s string) RecorderStatus {
	st := RecorderStatus(s)
	if _, ok := knownStatuses[st]; ok {
		return st
	}
	return StatusUnknown
}

// IsValid reports whether s is a known status.
func (s RecorderStatus) IsValid() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsActive reports whether the status belongs to a session that holds
// capture hardware and must be stopped if its control window disappears.
func (s RecorderStatus) IsActive() bool {
	switch s {
	case StatusShouldStart, StatusStarting, StatusRecording, StatusShouldStop:
		return true
	default:
		return false
	}
}

// IsBusy reports whether a reset must be refused in this status.
func (s RecorderStatus) IsBusy() bool {
	return s == StatusRecording || s == StatusSaving
}

// Default tuning values for capture sessions.
const (
	// DefaultChunkInterval is how often the recorder emits a chunk.
	DefaultChunkInterval = 60 * time.Second
	// DefaultLivenessInterval is how often the control window is checked.
	DefaultLivenessInterval = 1000 * time.Millisecond
	// DefaultMIMEType is the container format of produced recordings.
	DefaultMIMEType = "video/webm"
	// DefaultFrameRate is the requested screen capture frame rate.
	DefaultFrameRate = 30
)

// RecordingSnapshot is a diagnostic view of the recording manager.
type RecordingSnapshot struct {
	IsRecording    bool    `json:"is_recording"`
	IsPaused       bool    `json:"is_paused"`
	ApproxDuration float64 `json:"approx_duration_s"` // chunk count × chunk interval
	ChunkCount     int     `json:"chunk_count"`
	TotalBytes     int64   `json:"total_bytes"`
}

// SessionView is what every window renders for the current session.
type SessionView struct {
	Status         RecorderStatus    `json:"status"`
	Message        string            `json:"message,omitzero"`
	ErrorClass     ErrorClass        `json:"error_class,omitzero"`
	UploadProgress float64           `json:"upload_progress,omitzero"` // Percentage 0-100
	LastDownload   string            `json:"last_download,omitzero"`   // Filename of the last local download
	Recording      RecordingSnapshot `json:"recording"`
	StreamActive   bool              `json:"stream_active"`
}

// WSStatusResponse is sent to clients with the session view.
type WSStatusResponse struct {
	Type            string      `json:"type"`             // Message type identifier
	FFmpegAvailable bool        `json:"ffmpeg_available"` // FFmpeg binary is available
	Role            string      `json:"role"`             // Role of the receiving window
	ControlOpen     bool        `json:"control_open"`     // A control window is connected
	Session         SessionView `json:"session"`          // Current session state
	Version         VersionInfo `json:"version"`          // Version information
}

// WSProgressResponse is sent to clients while an upload is running.
type WSProgressResponse struct {
	Type    string  `json:"type"`    // Message type identifier
	Percent float64 `json:"percent"` // Upload progress percentage
}

// CaptureSettings are the capture options shown in the settings panel.
type CaptureSettings struct {
	Microphone    string `json:"microphone"`
	MixMicrophone bool   `json:"mix_mic_with_screen_audio"`
	FrameRate     int    `json:"frame_rate"`
	SystemAudio   bool   `json:"system_audio"` // A system audio device is configured
	MIMEType      string `json:"mime_type"`
	Upload        string `json:"upload"` // "s3", "http" or "none"
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
