// Package streaming acquires and combines the live media of a capture
// session: the screen video, optional system audio and optional microphone.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// Sentinel errors for stream operations.
var (
	// ErrNoScreen is returned when combining before a screen stream was acquired.
	ErrNoScreen = errors.New("no screen stream acquired")
	// ErrNoVideo is returned when the screen stream carries no video track.
	ErrNoVideo = errors.New("screen stream has no video track")
)

// Options tune the capture requests.
type Options struct {
	FrameRate     int
	Cursor        bool
	SystemAudio   bool   // Request system audio with the screen
	MicDevice     string // Empty selects the default microphone
	MixWithScreen bool   // Also request the microphone when screen audio is present
}

// EndedHandler is invoked once per session when an acquired track ends.
type EndedHandler func(t media.Track)

// Manager owns the tracks and the audio graph of one capture session.
// No other component stops its tracks directly. It is safe for concurrent use.
type Manager struct {
	platform media.Platform
	opts     Options

	mu       sync.Mutex
	screen   *media.Stream
	mic      *media.Stream
	combined *media.Stream
	mixed    media.Track
	audioCtx media.AudioContext
	detach   []func()

	// micDetach removes the microphone listeners, which live only as long
	// as one combined stream.
	micDetach []func()

	endedFired atomic.Bool
	onEnded    atomic.Pointer[EndedHandler]
}

// NewManager returns a stream Manager using platform.
func NewManager(platform media.Platform, opts Options) *Manager {
	return &Manager{
		platform: platform,
		opts:     opts,
	}
}

// SetEndedHandler replaces the handler invoked when a track ends. The
// handler is read at event time, so listeners attached earlier never call
// a stale handler.
func (m *Manager) SetEndedHandler(fn EndedHandler) {
	if fn == nil {
		m.onEnded.Store(nil)
		return
	}
	m.onEnded.Store(&fn)
}

// Options returns the current capture options.
func (m *Manager) Options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// SetOptions replaces the capture options. Streams already acquired keep
// the options they were requested with.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}

// AcquireScreen requests screen capture. A previously acquired session is
// cleaned up first.
func (m *Manager) AcquireScreen(ctx context.Context) (*media.Stream, error) {
	m.Cleanup()

	opts := m.Options()
	stream, err := m.platform.GetDisplayMedia(ctx, media.DisplayConstraints{
		FrameRate:    opts.FrameRate,
		Cursor:       opts.Cursor,
		RequestAudio: opts.SystemAudio,
	})
	if err != nil {
		return nil, classifyAcquire("screen", err)
	}
	if len(stream.VideoTracks()) == 0 {
		for _, t := range stream.Tracks() {
			t.Stop()
		}
		return nil, types.NewError(types.ClassDevice, ErrNoVideo)
	}

	m.mu.Lock()
	m.screen = stream
	m.endedFired.Store(false)
	m.detach = append(m.detach, m.attachLocked(stream)...)
	m.mu.Unlock()

	slog.Info("screen stream acquired",
		"stream_id", stream.ID(),
		"video_tracks", len(stream.VideoTracks()),
		"audio_tracks", len(stream.AudioTracks()))
	return stream, nil
}

// AcquireMicrophone requests microphone audio. Echo cancellation, noise
// suppression and auto gain are preferences, not requirements.
func (m *Manager) AcquireMicrophone(ctx context.Context) (*media.Stream, error) {
	stream, err := m.platform.GetUserMedia(ctx, media.AudioConstraints{
		DeviceID:         m.Options().MicDevice,
		EchoCancellation: media.Prefer(true),
		NoiseSuppression: media.Prefer(true),
		AutoGainControl:  media.Prefer(true),
	})
	if err != nil {
		return nil, classifyAcquire("microphone", err)
	}
	slog.Info("microphone stream acquired", "stream_id", stream.ID(), "audio_tracks", len(stream.AudioTracks()))
	return stream, nil
}

// Combine returns the stream to record: exactly one video track and at most
// one audio track. Screen audio is used as-is and the microphone is only
// requested when no screen audio exists (or mixing was configured). A
// failing microphone degrades to recording without it.
func (m *Manager) Combine(ctx context.Context) (*media.Stream, error) {
	m.ReleaseCombined()

	m.mu.Lock()
	screen := m.screen
	opts := m.opts
	m.mu.Unlock()

	if screen == nil {
		return nil, types.NewError(types.ClassStream, ErrNoScreen)
	}
	videos := screen.VideoTracks()
	if len(videos) == 0 {
		return nil, types.NewError(types.ClassStream, ErrNoVideo)
	}
	video := videos[0]
	screenAudio := screen.AudioTracks()

	var mic *media.Stream
	if len(screenAudio) == 0 || opts.MixWithScreen {
		s, err := m.AcquireMicrophone(ctx)
		if err != nil {
			slog.Warn("microphone unavailable, recording without it", "error", err)
		} else {
			mic = s
		}
	}

	sources := append([]media.Track(nil), screenAudio...)
	sources = append(sources, mic.AudioTracks()...)

	m.mu.Lock()
	defer m.mu.Unlock()

	// The session may have been cleaned up while the prompt was open.
	if m.screen != screen {
		if mic != nil {
			stopAll(mic)
		}
		return nil, types.NewError(types.ClassStream, ErrNoScreen)
	}

	if mic != nil {
		m.mic = mic
		m.micDetach = m.attachLocked(mic)
	}

	var audio media.Track
	switch len(sources) {
	case 0:
	case 1:
		audio = sources[0]
	default:
		mixed, err := m.mixLocked(sources)
		if err != nil {
			m.releaseCombinedLocked()
			return nil, types.NewError(types.ClassStream, err)
		}
		audio = mixed
	}

	tracks := []media.Track{video}
	if audio != nil {
		tracks = append(tracks, audio)
	}
	m.combined = media.NewStream(uuid.NewString(), tracks...)

	slog.Info("combined stream ready",
		"stream_id", m.combined.ID(),
		"screen_audio", len(screenAudio) > 0,
		"microphone", mic != nil,
		"mixed", m.mixed != nil)
	return m.combined, nil
}

// mixLocked creates the audio graph and mixes sources. Must be called with lock held.
func (m *Manager) mixLocked(sources []media.Track) (media.Track, error) {
	if m.audioCtx != nil {
		if err := m.audioCtx.Close(); err != nil {
			slog.Warn("failed to close previous audio context", "error", err)
		}
		m.audioCtx = nil
	}
	ac, err := m.platform.NewAudioContext()
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	mixed, err := ac.Mix(sources...)
	if err != nil {
		if closeErr := ac.Close(); closeErr != nil {
			slog.Warn("failed to close audio context", "error", closeErr)
		}
		return nil, fmt.Errorf("mix audio: %w", err)
	}
	m.audioCtx = ac
	m.mixed = mixed
	return mixed, nil
}

// ReleaseCombined stops the microphone and mixed tracks and closes the audio
// graph, keeping the screen stream for another recording.
func (m *Manager) ReleaseCombined() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCombinedLocked()
}

func (m *Manager) releaseCombinedLocked() {
	for _, remove := range m.micDetach {
		remove()
	}
	m.micDetach = nil
	if m.mic != nil {
		stopAll(m.mic)
		m.mic = nil
	}
	if m.mixed != nil {
		m.mixed.Stop()
		m.mixed = nil
	}
	if m.audioCtx != nil {
		if err := m.audioCtx.Close(); err != nil {
			slog.Warn("failed to close audio context", "error", err)
		}
		m.audioCtx = nil
	}
	m.combined = nil
}

// Cleanup stops every acquired track and closes the audio graph. Listeners
// are detached before tracks are stopped. It is idempotent and safe to call
// from an ended handler.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, remove := range m.detach {
		remove()
	}
	m.detach = nil

	m.releaseCombinedLocked()
	if m.screen != nil {
		stopAll(m.screen)
		slog.Info("screen stream released", "stream_id", m.screen.ID())
		m.screen = nil
	}
}

// IsActive reports whether a screen stream is held.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// ScreenStream returns the raw screen stream for a live preview, or nil.
// Callers must not stop its tracks.
func (m *Manager) ScreenStream() *media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen == nil {
		return nil
	}
	return media.NewStream(m.screen.ID(), m.screen.Tracks()...)
}

// attachLocked registers lifecycle listeners on every track of s and
// returns their remove funcs. Must be called with lock held.
func (m *Manager) attachLocked(s *media.Stream) []func() {
	var detach []func()
	for _, t := range s.Tracks() {
		track := t
		remove := track.Listen(func(ev media.TrackEvent) {
			m.handleTrackEvent(track, ev)
		})
		detach = append(detach, remove)
	}
	return detach
}

func (m *Manager) handleTrackEvent(t media.Track, ev media.TrackEvent) {
	switch ev {
	case media.EventMute, media.EventUnmute:
		slog.Info("track "+string(ev), "track_id", t.ID(), "kind", t.Kind(), "label", t.Label())
	case media.EventEnded:
		slog.Warn("track ended", "track_id", t.ID(), "kind", t.Kind(), "label", t.Label())
		if !m.endedFired.CompareAndSwap(false, true) {
			return
		}
		if fn := m.onEnded.Load(); fn != nil {
			(*fn)(t)
			return
		}
		m.Cleanup()
	}
}

func stopAll(s *media.Stream) {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// classifyAcquire maps a platform error to the failure taxonomy.
func classifyAcquire(what string, err error) error {
	class := types.ClassDevice
	if errors.Is(err, media.ErrNotAllowed) {
		class = types.ClassPermission
	}
	return types.NewError(class, fmt.Errorf("acquire %s: %w", what, err))
}
