// Package media defines the boundary to the platform capture APIs: live
// tracks and streams, the audio mixing graph, and the chunked recorder
// primitive. Implementations live in other packages.
package media

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Platform errors. Implementations wrap these so callers can classify.
var (
	// ErrNotAllowed is returned when the user or the OS declines a capture request.
	ErrNotAllowed = errors.New("capture not allowed")
	// ErrNotFound is returned when no device satisfies the request.
	ErrNotFound = errors.New("no capture device found")
	// ErrNotSupported is returned for operations the platform cannot perform.
	ErrNotSupported = errors.New("operation not supported")
	// ErrClosed is returned when using a closed audio context or recorder.
	ErrClosed = errors.New("closed")
)

// Kind is the media type of a track.
type Kind string

// Track kinds.
const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// TrackEvent is a lifecycle event emitted by a track.
type TrackEvent string

// Track events.
const (
	// EventEnded fires when the source stops, e.g. sharing was stopped from
	// the browser control bar or the device was disconnected.
	EventEnded TrackEvent = "ended"
	// EventMute fires when the source temporarily stops producing media.
	EventMute TrackEvent = "mute"
	// EventUnmute fires when a muted source resumes.
	EventUnmute TrackEvent = "unmute"
)

// Track is a single live media source.
type Track interface {
	ID() string
	Kind() Kind
	Label() string
	// Listen registers fn for lifecycle events and returns a function that
	// removes it. The remove function is safe to call more than once.
	Listen(fn func(TrackEvent)) (remove func())
	// Stop releases the source. It is idempotent and does not emit EventEnded.
	Stop()
	// Ended reports whether the track was stopped or ended.
	Ended() bool
}

// Stream is an immutable group of tracks.
type Stream struct {
	id     string
	tracks []Track
}

// NewStream returns a stream holding tracks in order.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: append([]Track(nil), tracks...)}
}

// ID returns the stream identifier.
func (s *Stream) ID() string {
	return s.id
}

// Tracks returns all tracks of the stream.
func (s *Stream) Tracks() []Track {
	if s == nil {
		return nil
	}
	return append([]Track(nil), s.tracks...)
}

// VideoTracks returns the video tracks of the stream.
func (s *Stream) VideoTracks() []Track {
	return s.byKind(KindVideo)
}

// AudioTracks returns the audio tracks of the stream.
func (s *Stream) AudioTracks() []Track {
	return s.byKind(KindAudio)
}

func (s *Stream) byKind(k Kind) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == k {
			out = append(out, t)
		}
	}
	return out
}

// Preference is a soft constraint: the platform applies it when it can.
type Preference struct {
	Ideal bool
}

// Prefer returns an ideal-valued preference.
func Prefer(v bool) Preference {
	return Preference{Ideal: v}
}

// DisplayConstraints describe a screen capture request.
type DisplayConstraints struct {
	FrameRate     int
	Cursor        bool
	RequestAudio  bool // Ask for system audio alongside the screen
	PreferDisplay string
}

// AudioConstraints describe a microphone request.
type AudioConstraints struct {
	DeviceID         string
	EchoCancellation Preference
	NoiseSuppression Preference
	AutoGainControl  Preference
}

// Capturer requests live streams from the platform. Both calls block until
// the user answers the permission prompt or ctx is done.
type Capturer interface {
	GetDisplayMedia(ctx context.Context, c DisplayConstraints) (*Stream, error)
	GetUserMedia(ctx context.Context, c AudioConstraints) (*Stream, error)
}

// AudioContext is a mixing graph. It owns one destination node.
type AudioContext interface {
	// Mix connects sources to the destination and returns its output track.
	Mix(sources ...Track) (Track, error)
	// Close releases native resources. It is idempotent.
	Close() error
}

// RecorderState is the state of a recorder primitive.
type RecorderState string

// Recorder states.
const (
	RecorderInactive  RecorderState = "inactive"
	RecorderRecording RecorderState = "recording"
	RecorderPaused    RecorderState = "paused"
)

// RecorderOptions configure a recorder primitive.
type RecorderOptions struct {
	MIMEType string
}

// RecorderHandlers receive recorder callbacks. OnData may be called with an
// empty slice. OnStop is called once after the final OnData.
type RecorderHandlers struct {
	OnData  func(data []byte)
	OnStop  func()
	OnError func(err error)
}

// MediaRecorder is the chunked recording primitive.
type MediaRecorder interface {
	// Start begins recording and emits data every timeslice.
	Start(timeslice time.Duration) error
	// Stop requests the recorder to stop; OnStop reports completion.
	Stop() error
	Pause() error
	Resume() error
	State() RecorderState
	MIMEType() string
}

// Platform is everything the engine needs from the host.
type Platform interface {
	Capturer
	NewAudioContext() (AudioContext, error)
	NewMediaRecorder(s *Stream, opts RecorderOptions, h RecorderHandlers) (MediaRecorder, error)
}

// Blob is an immutable recording.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Size returns the blob length in bytes.
func (b Blob) Size() int64 {
	return int64(len(b.Data))
}

// Extension returns the file extension for the blob's MIME type.
func (b Blob) Extension() string {
	return ExtensionFor(b.MIMEType)
}

// ExtensionFor returns the file extension for a container MIME type.
func ExtensionFor(mimeType string) string {
	switch baseMIME(mimeType) {
	case "video/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	default:
		return "webm"
	}
}

func baseMIME(m string) string {
	base, _, _ := strings.Cut(m, ";")
	return strings.TrimSpace(base)
}
