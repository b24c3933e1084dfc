// Package orchestrator sequences a capture session: it acquires the screen,
// records the combined stream, saves and uploads the result, and reflects
// every outcome in the status store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/recording"
	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/streaming"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
	"github.com/oszuidwest/zwfm-screenrec/internal/util"
)

// Sentinel errors for session operations.
var (
	// ErrInvalidTransition is returned when an operation does not apply to the current status.
	ErrInvalidTransition = errors.New("operation not allowed in current status")
	// ErrBusy is returned when a reset is requested while recording or saving.
	ErrBusy = errors.New("session is recording or saving")
)

// stopTimeout bounds the wait for the recorder's final chunk.
const stopTimeout = 30 * time.Second

// Options configures an Orchestrator.
type Options struct {
	UserID     string
	Store      *status.Store
	Streams    *streaming.Manager
	Recorder   *recording.Manager
	Uploader   recording.Uploader   // Nil keeps recordings local
	Downloader recording.Downloader // Required
	Events     *eventlog.Logger     // Nil disables the event log
	OnProgress func(percent float64)
}

// Orchestrator drives one capture session per window. Operations are
// serialized; at most one session is open at a time.
type Orchestrator struct {
	userID     string
	store      *status.Store
	streams    *streaming.Manager
	recorder   *recording.Manager
	uploader   recording.Uploader
	downloader recording.Downloader
	events     *eventlog.Logger
	onProgress func(float64)
	now        func() time.Time

	opMu      sync.Mutex // Serializes session operations
	startedAt time.Time  // Start of the running recording; guarded by opMu

	mu           sync.RWMutex
	message      string
	errClass     types.ErrorClass
	progress     float64
	lastDownload string
}

// New creates an Orchestrator and registers it as the stream manager's
// ended handler.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		userID:     opts.UserID,
		store:      opts.Store,
		streams:    opts.Streams,
		recorder:   opts.Recorder,
		uploader:   opts.Uploader,
		downloader: opts.Downloader,
		events:     opts.Events,
		onProgress: opts.OnProgress,
		now:        time.Now,
	}
	o.streams.SetEndedHandler(o.handleTrackEnded)
	return o
}

// View returns what every window renders for this session.
func (o *Orchestrator) View() types.SessionView {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return types.SessionView{
		Status:         o.store.Read(),
		Message:        o.message,
		ErrorClass:     o.errClass,
		UploadProgress: o.progress,
		LastDownload:   o.lastDownload,
		Recording:      o.recorder.State(),
		StreamActive:   o.streams.IsActive(),
	}
}

// Initialize acquires the screen stream and moves to ready. Without a
// signed-in user it sets a friendly message and leaves the status alone.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.checkAuth(); err != nil {
		return err
	}
	st := o.store.Read()
	if st == types.StatusReady && o.streams.IsActive() {
		return nil
	}
	if st.IsBusy() || st == types.StatusStarting || o.recorder.IsRecording() {
		return fmt.Errorf("%w: initialize in %s", ErrInvalidTransition, st)
	}

	o.clearOutcome()
	if _, err := o.streams.AcquireScreen(ctx); err != nil {
		return o.fail(ctx, err)
	}

	o.logSession(eventlog.SessionInitialized, "", nil)
	o.setStatus(ctx, types.StatusReady, "")
	return nil
}

// Start combines the acquired streams and begins recording. It is accepted
// in ready and shouldStart; a missing screen stream is acquired first.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.checkAuth(); err != nil {
		return err
	}
	st := o.store.Read()
	if st != types.StatusReady && st != types.StatusShouldStart {
		return fmt.Errorf("%w: start in %s", ErrInvalidTransition, st)
	}

	o.clearOutcome()
	o.setStatus(ctx, types.StatusStarting, "")

	if !o.streams.IsActive() {
		if _, err := o.streams.AcquireScreen(ctx); err != nil {
			return o.fail(ctx, err)
		}
	}

	combined, err := o.streams.Combine(ctx)
	if err != nil {
		return o.fail(ctx, err)
	}
	if err := o.recorder.Start(combined, nil); err != nil {
		return o.fail(ctx, err)
	}
	o.startedAt = o.now()

	o.logRecording(eventlog.RecordingStarted, &eventlog.RecordingDetails{})

	// A stop requested while starting must survive the recording write.
	if !o.setStatusFrom(ctx, types.StatusStarting, types.StatusRecording) {
		slog.Info("stop requested while starting", "user", o.userID, "status", o.store.Read())
	}
	return nil
}

// Stop ends the recording and saves it. The screen stream is kept and the
// session returns to ready, with an upload-specific message if the upload
// failed.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	st := o.store.Read()
	if (st != types.StatusRecording && st != types.StatusShouldStop) || !o.recorder.IsRecording() {
		return fmt.Errorf("%w: stop in %s", ErrInvalidTransition, st)
	}

	msg, err := o.saveLocked(ctx)
	if err != nil {
		return o.fail(ctx, err)
	}
	o.streams.ReleaseCombined()
	o.setStatus(ctx, types.StatusReady, msg)
	return nil
}

// Reset cleans up the session and returns to idle. It is refused while
// recording or saving, including a recording with a stop still pending.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if st := o.store.Read(); st.IsBusy() || o.recorder.IsRecording() {
		return fmt.Errorf("%w: reset in %s", ErrBusy, st)
	}
	o.cleanupAll()
	o.clearOutcome()
	o.logSession(eventlog.SessionReset, "", nil)
	o.setStatus(ctx, types.StatusIdle, "")
	return nil
}

// Abandon force-stops whatever the session holds and returns to idle,
// discarding an in-progress recording. It is used when the control window
// disappears.
func (o *Orchestrator) Abandon(ctx context.Context) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	held := o.streams.IsActive() || o.recorder.IsRecording()
	o.cleanupAll()
	if held {
		o.logSession(eventlog.SessionAbandoned, "control window closed", nil)
	}
	if o.store.Read() != types.StatusIdle {
		o.setStatus(ctx, types.StatusIdle, "")
	}
}

// Run watches the status store and drives the session on shouldStart and
// shouldStop. An idle status written elsewhere while hardware is held
// abandons the session. Run returns when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	kick := make(chan struct{}, 1)
	unsubscribe := o.store.Subscribe(func(status.Record) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		o.react(ctx)
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-kick:
		}
	}
}

// react applies the current status once.
func (o *Orchestrator) react(ctx context.Context) {
	switch st := o.store.Read(); st {
	case types.StatusShouldStart:
		if err := o.Start(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
			slog.Warn("requested start failed", "user", o.userID, "error", err)
		}
	case types.StatusShouldStop:
		if err := o.Stop(ctx); err != nil && !errors.Is(err, ErrInvalidTransition) {
			slog.Warn("requested stop failed", "user", o.userID, "error", err)
		}
	case types.StatusIdle:
		o.releaseIfIdle(ctx)
	}
}

// releaseIfIdle abandons held hardware when idle was written elsewhere,
// for example by the liveness monitor of another process.
func (o *Orchestrator) releaseIfIdle(ctx context.Context) {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if o.store.Read() != types.StatusIdle || (!o.streams.IsActive() && !o.recorder.IsRecording()) {
		return
	}
	o.cleanupAll()
	o.logSession(eventlog.SessionAbandoned, "status reset elsewhere", nil)
}

// handleTrackEnded runs when sharing stops or a device disappears.
// A running recording is saved before the session is cleaned up.
func (o *Orchestrator) handleTrackEnded(t media.Track) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	o.opMu.Lock()
	defer o.opMu.Unlock()

	slog.Info("capture ended", "user", o.userID, "track_id", t.ID(), "kind", t.Kind())

	msg := ""
	if o.recorder.IsRecording() {
		var err error
		msg, err = o.saveLocked(ctx)
		if err != nil {
			o.fail(ctx, err) //nolint:errcheck // Reported through the status
			return
		}
	}
	o.cleanupAll()
	o.setStatus(ctx, types.StatusIdle, msg)
}

// saveLocked stops the recorder, then downloads and uploads the blob
// concurrently. A failure of one destination is returned as the user
// message, not as an error; a *types.SaveError is returned when the
// recording reached neither. Must be called with opMu held.
func (o *Orchestrator) saveLocked(ctx context.Context) (string, error) {
	o.setStatus(ctx, types.StatusSaving, "")

	chunks := o.recorder.State().ChunkCount
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	blob, err := o.recorder.Stop(stopCtx)
	cancel()
	if err != nil {
		return "", err
	}

	stoppedAt := o.now()
	elapsed := stoppedAt.Sub(o.startedAt)
	filename := recording.Filename(stoppedAt, blob)
	slog.Info("recording stopped", "user", o.userID, "duration", util.FormatDuration(elapsed), "bytes", blob.Size())
	o.logRecording(eventlog.RecordingStopped, &eventlog.RecordingDetails{
		Filename:   filename,
		MIMEType:   blob.MIMEType,
		Bytes:      blob.Size(),
		Chunks:     chunks,
		DurationMs: elapsed.Milliseconds(),
	})

	var (
		g           errgroup.Group
		saved       string
		downloadErr error
		uploadErr   error
	)
	g.Go(func() error {
		saved, downloadErr = o.downloader.Download(ctx, blob, filename)
		return downloadErr
	})
	if o.uploader != nil {
		o.setProgress(0)
		g.Go(func() error {
			uploadErr = o.uploader.Upload(ctx, o.userID, blob, filename, func(p recording.Progress) {
				o.setProgress(p.Percent)
			})
			return uploadErr
		})
	}
	waitErr := g.Wait()

	if downloadErr != nil {
		slog.Error("failed to save recording locally", "user", o.userID, "filename", filename, "error", downloadErr)
	} else {
		o.mu.Lock()
		o.lastDownload = saved
		o.mu.Unlock()
		o.logRecording(eventlog.RecordingSaved, &eventlog.RecordingDetails{Filename: saved, Bytes: blob.Size()})
	}

	var uploadRE *types.RecordingError
	switch {
	case o.uploader == nil:
	case uploadErr != nil:
		if !errors.As(uploadErr, &uploadRE) {
			uploadRE = types.NewError(types.ClassUpload, uploadErr)
		}
		o.logRecording(eventlog.UploadFailed, &eventlog.RecordingDetails{
			Filename:  filename,
			ErrorCode: uploadRE.Code,
			Error:     uploadRE.Message,
		})
	default:
		o.setProgress(100)
		o.logRecording(eventlog.UploadCompleted, &eventlog.RecordingDetails{Filename: filename, Bytes: blob.Size()})
	}

	var msg string
	switch {
	case waitErr == nil:
	case downloadErr == nil:
		msg = types.UserMessage(uploadRE)
		o.mu.Lock()
		o.errClass = types.ClassUpload
		o.mu.Unlock()
	case o.uploader != nil && uploadErr == nil:
		msg = "Your recording could not be saved locally: " + downloadErr.Error()
	default:
		// Neither destination holds the recording.
		se := &types.SaveError{Download: downloadErr}
		if uploadRE != nil {
			se.Upload = uploadRE
		}
		return "", se
	}

	o.mu.Lock()
	o.message = msg
	o.mu.Unlock()
	return msg, nil
}

// fail cleans up the session, records the failure and moves to error.
func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.cleanupAll()

	class := types.ClassOf(err)
	msg := types.UserMessage(err)
	o.mu.Lock()
	o.errClass = class
	o.message = msg
	o.mu.Unlock()

	slog.Error("capture session failed", "user", o.userID, "class", class, "error", err)
	o.logSession(eventlog.SessionError, msg, &eventlog.SessionDetails{ErrorClass: string(class), Error: err.Error()})
	o.setStatus(ctx, types.StatusError, msg)
	return err
}

// checkAuth surfaces a missing user as a message, not as an error status.
func (o *Orchestrator) checkAuth() error {
	if o.userID != "" {
		return nil
	}
	o.mu.Lock()
	o.errClass = types.ClassUnauthenticated
	o.message = types.UserMessage(types.ErrUnauthenticated)
	o.mu.Unlock()
	return types.ErrUnauthenticated
}

// cleanupAll releases the recorder and every acquired track. It is idempotent.
func (o *Orchestrator) cleanupAll() {
	o.recorder.Cleanup()
	o.streams.Cleanup()
}

func (o *Orchestrator) clearOutcome() {
	o.mu.Lock()
	o.message = ""
	o.errClass = ""
	o.progress = 0
	o.mu.Unlock()
}

func (o *Orchestrator) setProgress(pct float64) {
	o.mu.Lock()
	o.progress = pct
	fn := o.onProgress
	o.mu.Unlock()
	if fn != nil {
		fn(pct)
	}
}

// setStatus writes a local status. A persistence failure is non-fatal and
// has already been logged by the store.
func (o *Orchestrator) setStatus(ctx context.Context, st types.RecorderStatus, msg string) {
	from := o.store.Read()
	if err := o.store.WriteMessage(ctx, st, msg, status.OriginLocal); err != nil && !errors.Is(err, status.ErrPersist) {
		slog.Warn("failed to write status", "user", o.userID, "status", st, "error", err)
	}
	o.logSession(eventlog.SessionStatus, msg, &eventlog.SessionDetails{From: string(from), To: string(st)})
}

// setStatusFrom writes st only while the status is still from and reports
// whether it did.
func (o *Orchestrator) setStatusFrom(ctx context.Context, from, st types.RecorderStatus) bool {
	ok, err := o.store.WriteIf(ctx, from, st, "", status.OriginLocal)
	if err != nil && !errors.Is(err, status.ErrPersist) {
		slog.Warn("failed to write status", "user", o.userID, "status", st, "error", err)
	}
	if ok {
		o.logSession(eventlog.SessionStatus, "", &eventlog.SessionDetails{From: string(from), To: string(st)})
	}
	return ok
}

func (o *Orchestrator) logSession(t eventlog.EventType, msg string, d *eventlog.SessionDetails) {
	if err := o.events.LogSession(t, o.userID, msg, d); err != nil {
		slog.Warn("failed to log session event", "type", t, "error", err)
	}
}

func (o *Orchestrator) logRecording(t eventlog.EventType, d *eventlog.RecordingDetails) {
	if err := o.events.LogRecording(t, o.userID, d); err != nil {
		slog.Warn("failed to log recording event", "type", t, "error", err)
	}
}
