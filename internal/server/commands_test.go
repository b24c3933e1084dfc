package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/engine"
	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

type nopDownloader struct{}

func (nopDownloader) Download(_ context.Context, _ media.Blob, filename string) (string, error) {
	return filename, nil
}

type harness struct {
	cfg    *config.Config
	hub    *Hub
	eng    *engine.Engine
	p      *mediatest.Platform
	events *eventlog.Logger
	h      *CommandHandler
}

func newHarness(t *testing.T, ffmpegAvailable bool) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())

	events, err := eventlog.NewLogger(filepath.Join(dir, "sessions.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	hr := &harness{
		cfg:    cfg,
		hub:    NewHub(),
		p:      mediatest.New(),
		events: events,
	}
	hr.eng = engine.New(cfg, engine.Options{
		Platform:   hr.p,
		Backend:    status.NewMemoryBackend(),
		Downloader: nopDownloader{},
		Events:     events,
		OnChange:   hr.hub.Notify,
	})
	t.Cleanup(func() { _ = hr.eng.Stop() })

	hr.h = NewCommandHandler(cfg, hr.eng, hr.hub, events.Path(), ffmpegAvailable)
	return hr
}

// run sends cmd from client c and returns its result message.
func (hr *harness) run(t *testing.T, c *Client, cmdType string, data any) CommandResult {
	t.Helper()
	cmd := WSCommand{Type: cmdType}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}

	send := make(chan any, 16)
	triggered := false
	hr.h.Handle(cmd, c, send, func() { triggered = true })
	assert.True(t, triggered)

	select {
	case msg := <-send:
		result, ok := msg.(CommandResult)
		require.True(t, ok, "unexpected message %T", msg)
		assert.Equal(t, cmdType+"_result", result.Type)
		return result
	case <-time.After(5 * time.Second):
		t.Fatalf("no result for %s", cmdType)
		return CommandResult{}
	}
}

func requireSuccess(t *testing.T, result CommandResult) {
	t.Helper()
	require.True(t, result.Success, "error: %v", result.Error)
}

func requireFailure(t *testing.T, result CommandResult, contains string) {
	t.Helper()
	require.False(t, result.Success)
	assert.Contains(t, result.Error, contains)
}

func TestRecorderCommandsRequireControlWindow(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleMain)

	requireFailure(t, hr.run(t, c, "recorder/initialize", nil), ErrNotControl.Error())
	assert.Zero(t, hr.p.DisplayCalls)
}

func TestRecorderCommandsRequireFFmpeg(t *testing.T) {
	hr := newHarness(t, false)
	c := hr.hub.Register("alice", RoleControl)

	requireFailure(t, hr.run(t, c, "recorder/start", nil), "FFmpeg is not installed")
	requireSuccess(t, hr.run(t, c, "recorder/reset", nil))
}

func TestRecorderCommandsDriveSession(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleControl)

	result := hr.run(t, c, "recorder/initialize", nil)
	requireSuccess(t, result)
	view, ok := result.Data.(types.SessionView)
	require.True(t, ok)
	assert.Equal(t, types.StatusReady, view.Status)
	assert.True(t, view.StreamActive)

	requireSuccess(t, hr.run(t, c, "recorder/start", nil))
	sess, err := hr.eng.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRecording, sess.Store().Read())

	requireSuccess(t, hr.run(t, c, "recorder/stop", nil))
	assert.Equal(t, types.StatusReady, sess.Store().Read())
	assert.NotEmpty(t, sess.View().LastDownload)
}

func TestRecorderFailureUsesFriendlyMessage(t *testing.T) {
	hr := newHarness(t, true)
	hr.p.DisplayErr = media.ErrNotAllowed
	c := hr.hub.Register("alice", RoleControl)

	requireFailure(t, hr.run(t, c, "recorder/initialize", nil), "permission was denied")
}

func TestUnauthenticatedCommand(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("", RoleControl)

	requireFailure(t, hr.run(t, c, "recorder/initialize", nil), "Please sign in to record your screen.")
}

func TestLaunchStartNeedsControlWindow(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleMain)

	requireFailure(t, hr.run(t, c, "launcher/start", nil), ErrNoControlWindow.Error())
}

func TestLaunchFromMainWindowStartsRecording(t *testing.T) {
	hr := newHarness(t, true)
	control := hr.hub.Register("alice", RoleControl)
	observer := hr.hub.Register("alice", RoleMain)

	requireSuccess(t, hr.run(t, control, "recorder/initialize", nil))
	requireSuccess(t, hr.run(t, observer, "launcher/start", nil))

	sess, err := hr.eng.Lookup("alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.Store().Read() == types.StatusRecording
	}, 5*time.Second, 5*time.Millisecond)

	requireFailure(t, hr.run(t, observer, "launcher/start", nil), "cannot start while recording")

	requireSuccess(t, hr.run(t, observer, "launcher/stop", nil))
	require.Eventually(t, func() bool {
		return sess.Store().Read() == types.StatusReady
	}, 5*time.Second, 5*time.Millisecond)
}

func TestLaunchStopWhileIdle(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleMain)

	requireFailure(t, hr.run(t, c, "launcher/stop", nil), "cannot stop while idle")
}

func TestSettingsUpdateAndGet(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleMain)

	requireSuccess(t, hr.run(t, c, "settings/update", map[string]any{
		"microphone":                "usb-mic",
		"mix_mic_with_screen_audio": true,
		"frame_rate":                15,
	}))

	result := hr.run(t, c, "settings/get", nil)
	requireSuccess(t, result)
	settings, ok := result.Data.(types.CaptureSettings)
	require.True(t, ok)
	assert.Equal(t, "usb-mic", settings.Microphone)
	assert.True(t, settings.MixMicrophone)
	assert.Equal(t, 15, settings.FrameRate)
	assert.Equal(t, "none", settings.Upload)

	// Persisted for the next start
	reloaded := config.New(hr.cfg.Path())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "usb-mic", reloaded.Snapshot().Microphone)
}

func TestSettingsUpdateValidates(t *testing.T) {
	hr := newHarness(t, true)
	c := hr.hub.Register("alice", RoleMain)

	result := hr.run(t, c, "settings/update", map[string]any{"frame_rate": 500})
	require.False(t, result.Success)
	verr, ok := result.Error.(*types.ValidationError)
	require.True(t, ok)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "frame_rate", verr.Errors[0].Field)
	assert.Equal(t, "must be at most 120", verr.Errors[0].Message)
	assert.Equal(t, 30, hr.cfg.Snapshot().FrameRate)
}

func TestEventsListShowsOwnEvents(t *testing.T) {
	hr := newHarness(t, true)
	require.NoError(t, hr.events.LogSession(eventlog.SessionInitialized, "alice", "screen shared", nil))
	require.NoError(t, hr.events.LogSession(eventlog.SessionInitialized, "bob", "screen shared", nil))
	require.NoError(t, hr.events.LogSession(eventlog.SessionReset, "alice", "reset", nil))

	c := hr.hub.Register("alice", RoleMain)
	result := hr.run(t, c, "events/list", map[string]any{"limit": 10})
	requireSuccess(t, result)

	events, ok := result.Data.(EventsResult)
	require.True(t, ok)
	require.Len(t, events.Events, 2)
	for _, e := range events.Events {
		assert.Equal(t, "alice", e.UserID)
	}
}

func TestUploadTarget(t *testing.T) {
	assert.Equal(t, "s3", uploadTarget(true, true))
	assert.Equal(t, "http", uploadTarget(false, true))
	assert.Equal(t, "none", uploadTarget(false, false))
}
