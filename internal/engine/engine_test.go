package engine

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-screenrec/internal/orchestrator"
	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

type fakeDownloader struct {
	mu    sync.Mutex
	names []string
}

func (d *fakeDownloader) Download(_ context.Context, _ media.Blob, filename string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, filename)
	return filename, nil
}

func (d *fakeDownloader) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.names)
}

type fakeWindow struct {
	closed atomic.Bool
}

func (w *fakeWindow) Closed() bool { return w.closed.Load() }

type fixture struct {
	cfg     *config.Config
	p       *mediatest.Platform
	backend *status.MemoryBackend
	down    *fakeDownloader
	window  *fakeWindow
	changes atomic.Int32
	e       *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	f := &fixture{
		cfg:     cfg,
		p:       mediatest.New(),
		backend: status.NewMemoryBackend(),
		down:    &fakeDownloader{},
		window:  &fakeWindow{},
	}
	f.e = New(cfg, Options{
		Platform:   f.p,
		Backend:    f.backend,
		Downloader: f.down,
		Windows:    func(string) orchestrator.Window { return f.window },
		OnChange:   func(string) { f.changes.Add(1) },
	})
	t.Cleanup(func() { _ = f.e.Stop() })
	return f
}

func TestSessionRequiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.e.Session("")
	require.ErrorIs(t, err, types.ErrUnauthenticated)
	assert.Empty(t, f.e.Sessions())
}

func TestSessionIsCreatedOncePerUser(t *testing.T) {
	f := newFixture(t)

	a, err := f.e.Session("alice")
	require.NoError(t, err)
	again, err := f.e.Session("alice")
	require.NoError(t, err)
	bob, err := f.e.Session("bob")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, bob)
	assert.Equal(t, "alice", a.UserID())
	assert.ElementsMatch(t, []string{"alice", "bob"}, f.e.Sessions())

	found, err := f.e.Lookup("bob")
	require.NoError(t, err)
	assert.Same(t, bob, found)

	_, err = f.e.Lookup("carol")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStatusChangesAreReported(t *testing.T) {
	f := newFixture(t)
	s, err := f.e.Session("alice")
	require.NoError(t, err)

	before := f.changes.Load()
	require.NoError(t, s.Orchestrator().Initialize(context.Background()))
	assert.Equal(t, types.StatusReady, s.View().Status)
	assert.Greater(t, f.changes.Load(), before)
}

func TestLauncherWriteDrivesSession(t *testing.T) {
	f := newFixture(t)
	s, err := f.e.Session("alice")
	require.NoError(t, err)
	require.NoError(t, s.Orchestrator().Initialize(context.Background()))

	// A window of another process writes through the shared backend.
	other, err := status.New(context.Background(), f.backend, "alice")
	require.NoError(t, err)
	defer other.Close()

	require.NoError(t, other.Write(context.Background(), types.StatusShouldStart, status.OriginLocal))
	require.Eventually(t, func() bool {
		return s.Store().Read() == types.StatusRecording
	}, 5*time.Second, 5*time.Millisecond)
}

func TestClosedControlWindowForcesIdle(t *testing.T) {
	f := newFixture(t)
	s, err := f.e.Session("alice")
	require.NoError(t, err)
	require.NoError(t, s.Orchestrator().Initialize(context.Background()))
	require.NoError(t, s.Orchestrator().Start(context.Background()))

	f.window.closed.Store(true)
	require.Eventually(t, func() bool {
		return s.Store().Read() == types.StatusIdle && !s.View().StreamActive
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.down.count())
}

func TestApplySettingsUsesNewMicrophone(t *testing.T) {
	f := newFixture(t)
	s, err := f.e.Session("alice")
	require.NoError(t, err)

	require.NoError(t, f.cfg.SetMicrophone("usb-mic"))
	f.e.ApplySettings()

	require.NoError(t, s.Orchestrator().Initialize(context.Background()))
	require.NoError(t, s.Orchestrator().Start(context.Background()))
	assert.Equal(t, "usb-mic", f.p.LastAudioConstraints.DeviceID)
}

func TestStopSavesRunningRecording(t *testing.T) {
	f := newFixture(t)
	s, err := f.e.Session("alice")
	require.NoError(t, err)
	idle, err := f.e.Session("bob")
	require.NoError(t, err)

	require.NoError(t, s.Orchestrator().Initialize(context.Background()))
	require.NoError(t, s.Orchestrator().Start(context.Background()))
	f.p.LastRecorder().Advance(5 * time.Second)

	require.NoError(t, f.e.Stop())

	assert.Equal(t, 1, f.down.count())
	assert.Equal(t, types.StatusIdle, s.Store().Read())
	assert.False(t, s.View().StreamActive)
	assert.Equal(t, types.StatusIdle, idle.Store().Read())

	_, err = f.e.Session("alice")
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, f.e.Stop())
}
