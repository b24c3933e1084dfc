package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// Manager wraps the platform recorder primitive. It buffers the emitted
// chunks and assembles them into one blob on stop. It is safe for
// concurrent use.
type Manager struct {
	platform media.Platform
	interval time.Duration
	mimeType string

	mu         sync.Mutex
	state      RecordingState
	recorder   media.MediaRecorder
	chunks     [][]byte
	totalBytes int64
	onChunk    func([]byte)
	done       chan struct{} // Closed by the recorder's stop callback
	lastErr    error
	gen        uint64 // Incremented per recording; stale callbacks are dropped
}

// NewManager creates a recording manager emitting a chunk every interval.
func NewManager(platform media.Platform, interval time.Duration, mimeType string) *Manager {
	if interval <= 0 {
		interval = types.DefaultChunkInterval
	}
	if mimeType == "" {
		mimeType = types.DefaultMIMEType
	}
	return &Manager{
		platform: platform,
		interval: interval,
		mimeType: mimeType,
		state:    StateIdle,
	}
}

// Start begins recording stream. Every non-empty chunk is buffered and
// forwarded to onChunk, which may be nil.
func (m *Manager) Start(stream *media.Stream, onChunk func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return types.NewError(types.ClassRecorder, ErrAlreadyRecording)
	}

	m.gen++
	gen := m.gen
	done := make(chan struct{})
	var once sync.Once
	rec, err := m.platform.NewMediaRecorder(stream, media.RecorderOptions{MIMEType: m.mimeType}, media.RecorderHandlers{
		OnData:  func(data []byte) { m.handleData(gen, data) },
		OnStop:  func() { once.Do(func() { close(done) }) },
		OnError: func(err error) { m.handleError(gen, err) },
	})
	if err != nil {
		return types.NewError(types.ClassRecorder, fmt.Errorf("create recorder: %w", err))
	}

	m.chunks = nil
	m.totalBytes = 0
	m.onChunk = onChunk
	m.done = done
	m.lastErr = nil
	m.recorder = rec

	if err := rec.Start(m.interval); err != nil {
		m.recorder = nil
		m.done = nil
		return types.NewError(types.ClassRecorder, fmt.Errorf("start recorder: %w", err))
	}

	m.state = StateRecording
	slog.Info("recording started", "interval", m.interval, "mime_type", m.mimeType)
	return nil
}

// handleData receives a chunk from the recorder primitive.
func (m *Manager) handleData(gen uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	m.mu.Lock()
	if m.recorder == nil || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.chunks = append(m.chunks, data)
	m.totalBytes += int64(len(data))
	onChunk := m.onChunk
	count := len(m.chunks)
	m.mu.Unlock()

	slog.Debug("recording chunk", "bytes", len(data), "chunks", count)
	if onChunk != nil {
		onChunk(data)
	}
}

func (m *Manager) handleError(gen uint64, err error) {
	slog.Error("recorder error", "error", err)
	m.mu.Lock()
	if m.gen == gen {
		m.lastErr = err
	}
	m.mu.Unlock()
}

// Stop stops the recorder and returns the assembled blob. The chunk buffer
// is empty when Stop returns.
func (m *Manager) Stop(ctx context.Context) (media.Blob, error) {
	m.mu.Lock()
	if m.state != StateRecording && m.state != StatePaused {
		m.mu.Unlock()
		return media.Blob{}, ErrNotRecording
	}
	m.state = StateFinalizing
	rec := m.recorder
	done := m.done
	m.mu.Unlock()

	// The primitive may deliver its final chunk and stop callback
	// synchronously, so the lock is not held here.
	if rec.State() != media.RecorderInactive {
		if err := rec.Stop(); err != nil {
			slog.Warn("recorder stop request failed", "error", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		m.discard()
		return media.Blob{}, types.NewError(types.ClassRecorder, fmt.Errorf("wait for recorder stop: %w", context.Cause(ctx)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blob := media.Blob{
		Data:     bytes.Join(m.chunks, nil),
		MIMEType: rec.MIMEType(),
	}
	if blob.MIMEType == "" {
		blob.MIMEType = m.mimeType
	}
	chunks := len(m.chunks)
	lastErr := m.lastErr
	m.resetLocked()

	slog.Info("recording stopped", "chunks", chunks, "bytes", blob.Size())
	if lastErr != nil && blob.Size() == 0 {
		return media.Blob{}, types.NewError(types.ClassRecorder, lastErr)
	}
	return blob, nil
}

// Pause pauses an in-progress recording; otherwise it does nothing.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording {
		return
	}
	if err := m.recorder.Pause(); err != nil {
		slog.Warn("failed to pause recorder", "error", err)
		return
	}
	m.state = StatePaused
}

// Resume resumes a paused recording; otherwise it does nothing.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return
	}
	if err := m.recorder.Resume(); err != nil {
		slog.Warn("failed to resume recorder", "error", err)
		return
	}
	m.state = StateRecording
}

// IsRecording reports whether a recording is in progress or paused.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRecording || m.state == StatePaused
}

// State returns a diagnostic snapshot. The duration is approximated from
// the chunk count and is not wall-clock exact.
func (m *Manager) State() types.RecordingSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.RecordingSnapshot{
		IsRecording:    m.state == StateRecording || m.state == StatePaused,
		IsPaused:       m.state == StatePaused,
		ApproxDuration: float64(len(m.chunks)) * m.interval.Seconds(),
		ChunkCount:     len(m.chunks),
		TotalBytes:     m.totalBytes,
	}
}

// Cleanup force-stops an in-progress recording and discards buffered
// chunks. It is idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	rec := m.recorder
	m.mu.Unlock()

	if rec != nil && rec.State() != media.RecorderInactive {
		if err := rec.Stop(); err != nil && !errors.Is(err, media.ErrClosed) {
			slog.Warn("failed to stop recorder during cleanup", "error", err)
		}
	}
	m.discard()
}

func (m *Manager) discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorder != nil {
		slog.Info("recording discarded", "chunks", len(m.chunks), "bytes", m.totalBytes)
	}
	m.resetLocked()
}

// resetLocked clears the session. Must be called with lock held.
func (m *Manager) resetLocked() {
	m.recorder = nil
	m.chunks = nil
	m.totalBytes = 0
	m.onChunk = nil
	m.done = nil
	m.lastErr = nil
	m.state = StateIdle
}
