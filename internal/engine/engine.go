// Package engine owns the capture sessions of the running process. Each
// signed-in user gets one session: a status store, the stream and recording
// managers, an orchestrator following the store, and a liveness monitor
// watching the user's control window.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/orchestrator"
	"github.com/oszuidwest/zwfm-screenrec/internal/recording"
	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/streaming"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// shutdownTimeout bounds saving a running recording at shutdown.
const shutdownTimeout = 60 * time.Second

// Sentinel errors for engine operations.
var (
	ErrStopped   = errors.New("engine stopped")
	ErrNoSession = errors.New("no session for user")
)

// Options holds the collaborators shared by every session.
type Options struct {
	Platform   media.Platform
	Backend    status.Backend       // Nil keeps status in this process only
	Uploader   recording.Uploader   // Nil keeps recordings local
	Downloader recording.Downloader // Required
	Events     *eventlog.Logger

	// Windows returns the control window of a user.
	Windows func(userID string) orchestrator.Window
	// OnChange is called when the session view of a user may have changed.
	OnChange func(userID string)
	// OnProgress is called with upload progress for a user.
	OnProgress func(userID string, percent float64)
}

// Engine manages one capture session per user. It is safe for concurrent use.
type Engine struct {
	config *config.Config
	opts   Options

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	stopped  bool
}

// Session is the capture session of one user.
type Session struct {
	userID  string
	store   *status.Store
	streams *streaming.Manager
	orch    *orchestrator.Orchestrator
	unsub   func()
}

// UserID returns the owner of the session.
func (s *Session) UserID() string {
	return s.userID
}

// Store returns the status store of the session.
func (s *Session) Store() *status.Store {
	return s.store
}

// Orchestrator returns the orchestrator driving the session.
func (s *Session) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}

// View returns what every window renders for the session.
func (s *Session) View() types.SessionView {
	return s.orch.View()
}

// New creates an Engine. Sessions are created on first use.
func New(cfg *config.Config, opts Options) *Engine {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Engine{
		config:   cfg,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session of userID, creating it if needed.
func (e *Engine) Session(userID string) (*Session, error) {
	if userID == "" {
		return nil, types.ErrUnauthenticated
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, ErrStopped
	}
	if s, ok := e.sessions[userID]; ok {
		return s, nil
	}

	s, err := e.newSessionLocked(userID)
	if err != nil {
		return nil, err
	}
	e.sessions[userID] = s
	return s, nil
}

// Lookup returns the existing session of userID.
func (e *Engine) Lookup(userID string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoSession, userID)
	}
	return s, nil
}

// newSessionLocked wires the components of a session and starts its loops.
// Caller must hold e.mu.
func (e *Engine) newSessionLocked(userID string) (*Session, error) {
	snap := e.config.Snapshot()

	store, err := status.New(e.ctx, e.opts.Backend, userID)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}

	streams := streaming.NewManager(e.opts.Platform, streamOptions(&snap))
	recorder := recording.NewManager(e.opts.Platform, snap.ChunkInterval, snap.MIMEType)

	orch := orchestrator.New(orchestrator.Options{
		UserID:     userID,
		Store:      store,
		Streams:    streams,
		Recorder:   recorder,
		Uploader:   e.opts.Uploader,
		Downloader: e.opts.Downloader,
		Events:     e.opts.Events,
		OnProgress: func(pct float64) {
			if e.opts.OnProgress != nil {
				e.opts.OnProgress(userID, pct)
			}
			e.changed(userID)
		},
	})

	s := &Session{
		userID:  userID,
		store:   store,
		streams: streams,
		orch:    orch,
		unsub:   store.Subscribe(func(status.Record) { e.changed(userID) }),
	}

	e.wg.Go(func() {
		if err := orch.Run(e.ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			slog.Warn("session loop ended", "user", userID, "error", err)
		}
	})
	if e.opts.Windows != nil {
		liveness := orchestrator.NewLiveness(store, e.opts.Windows(userID), snap.LivenessInterval, orch.Abandon)
		e.wg.Go(func() { liveness.Run(e.ctx) })
	}

	slog.Info("session created", "user", userID, "writer_id", store.WriterID())
	return s, nil
}

// streamOptions maps configuration to capture options.
func streamOptions(snap *config.Snapshot) streaming.Options {
	return streaming.Options{
		FrameRate:     snap.FrameRate,
		Cursor:        snap.Cursor,
		SystemAudio:   snap.SystemAudio != "",
		MicDevice:     snap.Microphone,
		MixWithScreen: snap.MixMicrophone,
	}
}

// ApplySettings pushes the current capture configuration to every session.
// Streams already acquired are not renegotiated.
func (e *Engine) ApplySettings() {
	snap := e.config.Snapshot()
	opts := streamOptions(&snap)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sessions {
		s.streams.SetOptions(opts)
	}
}

// changed forwards a view change to the observer.
func (e *Engine) changed(userID string) {
	if e.opts.OnChange != nil {
		e.opts.OnChange(userID)
	}
}

// Sessions returns the user ids with a session.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop saves running recordings, releases all capture hardware and closes
// the sessions. The engine cannot be used afterwards.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, s := range sessions {
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", s.userID, err))
		}
	}

	e.cancel(ErrStopped)
	e.wg.Wait()

	for _, s := range sessions {
		s.unsub()
		s.store.Close()
	}
	return errors.Join(errs...)
}

// shutdown saves a running recording, then releases whatever is held.
func (s *Session) shutdown(ctx context.Context) error {
	var err error
	if st := s.store.Read(); st == types.StatusRecording || st == types.StatusShouldStop {
		slog.Info("saving recording before shutdown", "user", s.userID)
		err = s.orch.Stop(ctx)
	}
	if s.store.Read() != types.StatusIdle {
		s.orch.Abandon(ctx)
	}
	return err
}
