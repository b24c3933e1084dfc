// Package mediatest provides a scriptable in-memory media platform for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
)

// Platform is a fake [media.Platform]. Configure the exported fields before
// use; the counters are updated as the engine calls in.
type Platform struct {
	mu sync.Mutex

	DisplayErr  error // Returned by GetDisplayMedia when set
	UserErr     error // Returned by GetUserMedia when set
	RecorderErr error // Returned by NewMediaRecorder when set
	ScreenAudio bool  // Screen capture includes a system audio track

	// BytesPerSecond sets how much data recorders produce per second of
	// simulated time.
	BytesPerSecond int

	DisplayCalls int
	UserCalls    int

	LastAudioConstraints media.AudioConstraints

	tracks    []*Track
	contexts  []*AudioContext
	recorders []*Recorder
	seq       int
}

// New returns a platform producing 1000 bytes per simulated second.
func New() *Platform {
	return &Platform{BytesPerSecond: 1000}
}

// Track is a fake live track.
type Track struct {
	*media.BaseTrack
}

func (p *Platform) newTrackLocked(kind media.Kind, label string) *Track {
	p.seq++
	t := &Track{BaseTrack: media.NewBaseTrack(fmt.Sprintf("%s-%d", kind, p.seq), kind, label, nil)}
	p.tracks = append(p.tracks, t)
	return t
}

// GetDisplayMedia returns a screen stream.
func (p *Platform) GetDisplayMedia(ctx context.Context, c media.DisplayConstraints) (*media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.DisplayCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.DisplayErr != nil {
		return nil, p.DisplayErr
	}
	tracks := []media.Track{p.newTrackLocked(media.KindVideo, "screen")}
	if p.ScreenAudio && c.RequestAudio {
		tracks = append(tracks, p.newTrackLocked(media.KindAudio, "system audio"))
	}
	p.seq++
	return media.NewStream(fmt.Sprintf("display-%d", p.seq), tracks...), nil
}

// GetUserMedia returns a microphone stream.
func (p *Platform) GetUserMedia(ctx context.Context, c media.AudioConstraints) (*media.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.UserCalls++
	p.LastAudioConstraints = c
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.UserErr != nil {
		return nil, p.UserErr
	}
	t := p.newTrackLocked(media.KindAudio, "microphone")
	p.seq++
	return media.NewStream(fmt.Sprintf("user-%d", p.seq), t), nil
}

// NewAudioContext returns a fake mixing graph.
func (p *Platform) NewAudioContext() (media.AudioContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ac := &AudioContext{platform: p}
	p.contexts = append(p.contexts, ac)
	return ac, nil
}

// NewMediaRecorder returns a fake recorder driven by [Recorder.Advance].
func (p *Platform) NewMediaRecorder(s *media.Stream, opts media.RecorderOptions, h media.RecorderHandlers) (media.MediaRecorder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.RecorderErr != nil {
		return nil, p.RecorderErr
	}
	r := &Recorder{
		stream:         s,
		mimeType:       opts.MIMEType,
		handlers:       h,
		state:          media.RecorderInactive,
		bytesPerSecond: p.BytesPerSecond,
	}
	p.recorders = append(p.recorders, r)
	return r, nil
}

// Tracks returns every track the platform created.
func (p *Platform) Tracks() []*Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Track(nil), p.tracks...)
}

// AudioContexts returns every audio context the platform created.
func (p *Platform) AudioContexts() []*AudioContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*AudioContext(nil), p.contexts...)
}

// Recorders returns every recorder the platform created.
func (p *Platform) Recorders() []*Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Recorder(nil), p.recorders...)
}

// LastRecorder returns the most recently created recorder, or nil.
func (p *Platform) LastRecorder() *Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.recorders) == 0 {
		return nil
	}
	return p.recorders[len(p.recorders)-1]
}

// AudioContext is a fake mixing graph.
type AudioContext struct {
	platform *Platform

	mu      sync.Mutex
	closed  bool
	sources int
	mixed   []*Track
}

// Mix returns a new mixed audio track.
func (a *AudioContext) Mix(sources ...media.Track) (media.Track, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, media.ErrClosed
	}
	a.platform.mu.Lock()
	t := a.platform.newTrackLocked(media.KindAudio, "mix")
	a.platform.mu.Unlock()
	a.sources += len(sources)
	a.mixed = append(a.mixed, t)
	return t, nil
}

// Close marks the graph closed.
func (a *AudioContext) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close was called.
func (a *AudioContext) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Sources returns how many source tracks were connected.
func (a *AudioContext) Sources() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sources
}

// Recorder is a fake chunked recorder. Time only moves through Advance.
type Recorder struct {
	mu             sync.Mutex
	stream         *media.Stream
	mimeType       string
	handlers       media.RecorderHandlers
	state          media.RecorderState
	timeslice      time.Duration
	pending        time.Duration
	bytesPerSecond int
	emitted        []int
}

// Stream returns the stream the recorder was created for.
func (r *Recorder) Stream() *media.Stream {
	return r.stream
}

// Start begins recording.
func (r *Recorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderInactive {
		return fmt.Errorf("recorder already %s", r.state)
	}
	if timeslice <= 0 {
		return fmt.Errorf("invalid timeslice %s", timeslice)
	}
	r.state = media.RecorderRecording
	r.timeslice = timeslice
	return nil
}

// Advance simulates d of recording, emitting one chunk per full timeslice.
// Paused time produces no data.
func (r *Recorder) Advance(d time.Duration) {
	r.mu.Lock()
	if r.state != media.RecorderRecording {
		r.mu.Unlock()
		return
	}
	r.pending += d
	var sizes []int
	for r.pending >= r.timeslice {
		r.pending -= r.timeslice
		sizes = append(sizes, r.sizeFor(r.timeslice))
	}
	r.emitted = append(r.emitted, sizes...)
	onData := r.handlers.OnData
	r.mu.Unlock()

	for _, n := range sizes {
		if onData != nil {
			onData(make([]byte, n))
		}
	}
}

func (r *Recorder) sizeFor(d time.Duration) int {
	return int(d.Seconds() * float64(r.bytesPerSecond))
}

// Stop flushes the partial chunk and reports completion.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state == media.RecorderInactive {
		r.mu.Unlock()
		return fmt.Errorf("recorder is inactive")
	}
	r.state = media.RecorderInactive
	n := r.sizeFor(r.pending)
	r.pending = 0
	r.emitted = append(r.emitted, n)
	h := r.handlers
	r.mu.Unlock()

	if h.OnData != nil {
		h.OnData(make([]byte, n))
	}
	if h.OnStop != nil {
		h.OnStop()
	}
	return nil
}

// Fail reports err through OnError.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	onError := r.handlers.OnError
	r.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

// Pause suspends recording.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderRecording {
		return fmt.Errorf("recorder is %s", r.state)
	}
	r.state = media.RecorderPaused
	return nil
}

// Resume continues a paused recording.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderPaused {
		return fmt.Errorf("recorder is %s", r.state)
	}
	r.state = media.RecorderRecording
	return nil
}

// State returns the recorder state.
func (r *Recorder) State() media.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MIMEType returns the configured container type.
func (r *Recorder) MIMEType() string {
	return r.mimeType
}

// Emitted returns the sizes of every chunk emitted so far.
func (r *Recorder) Emitted() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.emitted...)
}
