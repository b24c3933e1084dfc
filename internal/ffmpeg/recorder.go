package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
	"github.com/oszuidwest/zwfm-screenrec/internal/util"
)

// readBufferSize is the stdout read size.
const readBufferSize = 32 << 10

// Recorder runs one FFmpeg process and slices its stdout into chunks.
type Recorder struct {
	ffmpegPath string
	args       []string
	mimeType   string
	tracks     []*Track
	handlers   media.RecorderHandlers

	mu       sync.Mutex
	state    media.RecorderState
	proc     *Process
	stopping bool
	pending  bytes.Buffer
}

func newRecorder(ffmpegPath string, args []string, mimeType string, tracks []*Track, h media.RecorderHandlers) *Recorder {
	if mimeType == "" {
		mimeType = types.DefaultMIMEType
	}
	return &Recorder{
		ffmpegPath: ffmpegPath,
		args:       args,
		mimeType:   mimeType,
		tracks:     tracks,
		handlers:   h,
		state:      media.RecorderInactive,
	}
}

// Start launches FFmpeg and emits a chunk every timeslice.
func (r *Recorder) Start(timeslice time.Duration) error {
	if timeslice <= 0 {
		return fmt.Errorf("invalid timeslice %s", timeslice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != media.RecorderInactive {
		return fmt.Errorf("recorder already %s", r.state)
	}

	proc, err := StartProcess(r.ffmpegPath, r.args)
	if err != nil {
		return err
	}
	r.proc = proc
	r.stopping = false
	r.state = media.RecorderRecording

	slog.Info("ffmpeg recorder started", "pid", proc.Cmd.Process.Pid, "timeslice", timeslice)
	go r.run(proc, timeslice)
	return nil
}

// run pumps stdout until FFmpeg exits, then reports the outcome.
func (r *Recorder) run(proc *Process, timeslice time.Duration) {
	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := proc.Stdout.Read(buf)
			if n > 0 {
				r.mu.Lock()
				r.pending.Write(buf[:n])
				r.mu.Unlock()
			}
			if err != nil {
				readDone <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-readDone:
			break loop
		}
	}

	waitErr := proc.Cmd.Wait()
	proc.Cancel()
	r.flush()

	r.mu.Lock()
	stopping := r.stopping
	r.state = media.RecorderInactive
	r.proc = nil
	r.mu.Unlock()

	if !stopping {
		detail := util.ExtractLastError(proc.Stderr.String())
		if detail == "" && waitErr != nil {
			detail = waitErr.Error()
		}
		err := fmt.Errorf("ffmpeg exited unexpectedly: %s", detail)
		slog.Error("ffmpeg recorder failed", "error", err)
		if r.handlers.OnError != nil {
			r.handlers.OnError(err)
		}
	} else {
		slog.Info("ffmpeg recorder stopped")
	}

	if r.handlers.OnStop != nil {
		r.handlers.OnStop()
	}

	// Capture ended without a stop request: the sources are gone.
	if !stopping {
		for _, t := range r.tracks {
			t.Emit(media.EventEnded)
		}
	}
}

// flush delivers the buffered output as one chunk.
func (r *Recorder) flush() {
	r.mu.Lock()
	if r.pending.Len() == 0 {
		r.mu.Unlock()
		return
	}
	data := bytes.Clone(r.pending.Bytes())
	r.pending.Reset()
	r.mu.Unlock()

	if r.handlers.OnData != nil {
		r.handlers.OnData(data)
	}
}

// Stop asks FFmpeg to finalize the container and exit. The final chunk and
// the stop callback follow asynchronously.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.state == media.RecorderInactive || r.proc == nil {
		r.mu.Unlock()
		return errors.New("recorder is inactive")
	}
	if r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	proc := r.proc
	r.mu.Unlock()

	if err := util.StopFFmpegViaStdin(proc.Stdin); err != nil {
		slog.Warn("failed to send quit to ffmpeg", "error", err)
		if sigErr := util.Interrupt(proc.Cmd.Process); sigErr != nil {
			proc.Cancel()
		}
	}
	time.AfterFunc(stopTimeout, proc.Cancel)
	return nil
}

// Pause is not supported by the FFmpeg recorder.
func (r *Recorder) Pause() error {
	return media.ErrNotSupported
}

// Resume is not supported by the FFmpeg recorder.
func (r *Recorder) Resume() error {
	return media.ErrNotSupported
}

// State returns the recorder state.
func (r *Recorder) State() media.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// MIMEType returns the container type being produced.
func (r *Recorder) MIMEType() string {
	return r.mimeType
}
