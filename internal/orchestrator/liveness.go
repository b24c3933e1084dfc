package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// Window is the control window observed by the liveness monitor.
type Window interface {
	Closed() bool
}

// Liveness forces the status back to idle when the control window closes
// while a session is active.
type Liveness struct {
	store     *status.Store
	window    Window
	interval  time.Duration
	onAbandon func(context.Context)
}

// NewLiveness creates a monitor polling window every interval. onAbandon,
// when set, runs after idle was written; it usually is [Orchestrator.Abandon].
func NewLiveness(store *status.Store, window Window, interval time.Duration, onAbandon func(context.Context)) *Liveness {
	if interval <= 0 {
		interval = types.DefaultLivenessInterval
	}
	return &Liveness{
		store:     store,
		window:    window,
		interval:  interval,
		onAbandon: onAbandon,
	}
}

// Check polls once and reports whether the session was forced to idle.
func (l *Liveness) Check(ctx context.Context) bool {
	st := l.store.Read()
	if !st.IsActive() || !l.window.Closed() {
		return false
	}

	slog.Warn("control window closed during active session", "status", st)
	if err := l.store.Write(ctx, types.StatusIdle, status.OriginLocal); err != nil {
		slog.Warn("failed to persist idle status", "error", err)
	}
	if l.onAbandon != nil {
		l.onAbandon(ctx)
	}
	return true
}

// Run polls until ctx is done.
func (l *Liveness) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Check(ctx)
		}
	}
}
