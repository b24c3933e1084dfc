package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/util"
)

// probeTimeout bounds a device probe.
const probeTimeout = 10 * time.Second

// ErrNoVideoTrack is returned when recording a stream without video.
var ErrNoVideoTrack = errors.New("stream has no video track")

// Config selects the capture devices. Empty fields use the platform defaults.
type Config struct {
	FFmpegPath  string
	Display     string // Screen input device (":0.0", "1", "desktop")
	SystemAudio string // System audio input device; empty disables system audio
	Microphone  string // Default microphone device
	Probe       bool   // Validate devices with a short FFmpeg run on acquisition
}

// input is one FFmpeg input source.
type input struct {
	format  string
	device  string
	options []string // Input options placed before -i
}

func (in input) args() []string {
	args := append([]string{}, in.options...)
	return append(args, "-f", in.format, "-i", in.device)
}

// Track is a capture source backed by an FFmpeg input. A mixed track has
// sources instead of an input.
type Track struct {
	*media.BaseTrack
	in      input
	filters []string
	sources []*Track
}

func newTrack(kind media.Kind, label string, in input, filters []string) *Track {
	return &Track{
		BaseTrack: media.NewBaseTrack(uuid.NewString(), kind, label, nil),
		in:        in,
		filters:   filters,
	}
}

// Platform implements [media.Platform] with FFmpeg.
type Platform struct {
	cfg        Config
	ffmpegPath string
}

// New creates an FFmpeg platform. A missing FFmpeg binary makes every
// acquisition fail with [media.ErrNotFound].
func New(cfg Config) *Platform {
	return &Platform{
		cfg:        cfg,
		ffmpegPath: util.ResolveFFmpegPath(cfg.FFmpegPath),
	}
}

// Available reports whether an FFmpeg binary was found.
func (p *Platform) Available() bool {
	return p.ffmpegPath != ""
}

// GetDisplayMedia returns the screen as a video track, with system audio
// when requested and configured.
func (p *Platform) GetDisplayMedia(ctx context.Context, c media.DisplayConstraints) (*media.Stream, error) {
	if !p.Available() {
		return nil, fmt.Errorf("ffmpeg binary: %w", media.ErrNotFound)
	}

	display := p.cfg.Display
	if display == "" {
		display = defaultDisplay()
	}
	video := newTrack(media.KindVideo, "screen "+display, screenInput(display, c), nil)
	if err := p.probe(ctx, video.in, true); err != nil {
		return nil, err
	}
	tracks := []media.Track{video}

	if c.RequestAudio && p.cfg.SystemAudio != "" {
		audio := newTrack(media.KindAudio, "system audio", audioInput(p.cfg.SystemAudio), nil)
		if err := p.probe(ctx, audio.in, false); err != nil {
			slog.Warn("system audio unavailable", "device", p.cfg.SystemAudio, "error", err)
		} else {
			tracks = append(tracks, audio)
		}
	}

	return media.NewStream(uuid.NewString(), tracks...), nil
}

// GetUserMedia returns a microphone track. Preferences map to FFmpeg
// filters where one exists.
func (p *Platform) GetUserMedia(ctx context.Context, c media.AudioConstraints) (*media.Stream, error) {
	if !p.Available() {
		return nil, fmt.Errorf("ffmpeg binary: %w", media.ErrNotFound)
	}

	device := c.DeviceID
	if device == "" {
		device = p.cfg.Microphone
	}
	if device == "" {
		device = defaultMicrophone()
	}
	if device == "" {
		return nil, fmt.Errorf("microphone: %w", media.ErrNotFound)
	}

	mic := newTrack(media.KindAudio, "microphone", audioInput(device), microphoneFilters(c))
	if err := p.probe(ctx, mic.in, false); err != nil {
		return nil, err
	}
	return media.NewStream(uuid.NewString(), mic), nil
}

// microphoneFilters maps capture preferences to audio filters. Echo
// cancellation has no FFmpeg equivalent and is skipped.
func microphoneFilters(c media.AudioConstraints) []string {
	var filters []string
	if c.NoiseSuppression.Ideal {
		filters = append(filters, "afftdn")
	}
	if c.AutoGainControl.Ideal {
		filters = append(filters, "dynaudnorm")
	}
	return filters
}

// probe runs a short capture to surface permission and device errors at
// acquisition time.
func (p *Platform) probe(ctx context.Context, in input, video bool) error {
	if !p.cfg.Probe {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, in.args()...)
	if video {
		args = append(args, "-frames:v", "1")
	} else {
		args = append(args, "-t", "0.2")
	}
	args = append(args, "-f", "null", "-")

	out, err := exec.CommandContext(ctx, p.ffmpegPath, args...).CombinedOutput()
	if err != nil {
		return classifyProbe(in, string(out), err)
	}
	return nil
}

// permissionMarkers are FFmpeg messages meaning the OS refused capture.
var permissionMarkers = []string{
	"permission denied",
	"not authorized",
	"operation not permitted",
	"access is denied",
}

// classifyProbe maps a failed probe to [media.ErrNotAllowed] or [media.ErrNotFound].
func classifyProbe(in input, output string, err error) error {
	detail := util.ExtractLastError(output)
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(output)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%s %s: %s: %w", in.format, in.device, detail, media.ErrNotAllowed)
		}
	}
	return fmt.Errorf("%s %s: %s: %w", in.format, in.device, detail, media.ErrNotFound)
}

// audioGraph mixes FFmpeg audio sources with amix.
type audioGraph struct {
	mu     sync.Mutex
	closed bool
}

// NewAudioContext creates an audio graph.
func (p *Platform) NewAudioContext() (media.AudioContext, error) {
	return &audioGraph{}, nil
}

// Mix returns a track mixing sources.
func (g *audioGraph) Mix(sources ...media.Track) (media.Track, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, media.ErrClosed
	}

	mixed := &Track{BaseTrack: media.NewBaseTrack(uuid.NewString(), media.KindAudio, "mix", nil)}
	for _, s := range sources {
		t, ok := s.(*Track)
		if !ok {
			return nil, fmt.Errorf("mix %T: %w", s, media.ErrNotSupported)
		}
		mixed.sources = append(mixed.sources, t)
	}
	return mixed, nil
}

// Close releases the graph.
func (g *audioGraph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// NewMediaRecorder creates a recorder encoding s.
func (p *Platform) NewMediaRecorder(s *media.Stream, opts media.RecorderOptions, h media.RecorderHandlers) (media.MediaRecorder, error) {
	if !p.Available() {
		return nil, fmt.Errorf("ffmpeg binary: %w", media.ErrNotFound)
	}
	args, tracks, err := buildRecordArgs(s, opts.MIMEType)
	if err != nil {
		return nil, err
	}
	return newRecorder(p.ffmpegPath, args, opts.MIMEType, tracks, h), nil
}
