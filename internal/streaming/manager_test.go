package streaming

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

func newManager(p *mediatest.Platform, opts Options) *Manager {
	opts.SystemAudio = true
	return NewManager(p, opts)
}

func TestAcquireScreenPermissionDenied(t *testing.T) {
	p := mediatest.New()
	p.DisplayErr = fmt.Errorf("NotAllowedError: %w", media.ErrNotAllowed)
	m := newManager(p, Options{})

	_, err := m.AcquireScreen(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ClassPermission, types.ClassOf(err))
	assert.False(t, m.IsActive())
	assert.Empty(t, p.AudioContexts())
}

func TestAcquireScreenDeviceFailure(t *testing.T) {
	p := mediatest.New()
	p.DisplayErr = errors.New("NotReadableError")
	m := newManager(p, Options{})

	_, err := m.AcquireScreen(context.Background())
	assert.Equal(t, types.ClassDevice, types.ClassOf(err))
}

func TestAcquireMicrophoneUsesPreferences(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{MicDevice: "usb"})

	s, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.AudioTracks(), 1)
	c := p.LastAudioConstraints
	assert.Equal(t, "usb", c.DeviceID)
	assert.True(t, c.EchoCancellation.Ideal)
	assert.True(t, c.NoiseSuppression.Ideal)
	assert.True(t, c.AutoGainControl.Ideal)
}

func TestCombineScreenAudioSkipsMicrophone(t *testing.T) {
	p := mediatest.New()
	p.ScreenAudio = true
	m := newManager(p, Options{})

	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	s, err := m.Combine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p.UserCalls)
	assert.Len(t, s.VideoTracks(), 1)
	assert.Len(t, s.AudioTracks(), 1)
	assert.Empty(t, p.AudioContexts())
}

func TestCombineMicrophoneGranted(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})

	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	s, err := m.Combine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.UserCalls)
	assert.Len(t, s.VideoTracks(), 1)
	assert.Len(t, s.AudioTracks(), 1)
}

func TestCombineMicrophoneFailureDegrades(t *testing.T) {
	p := mediatest.New()
	p.UserErr = fmt.Errorf("denied: %w", media.ErrNotAllowed)
	m := newManager(p, Options{})

	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	s, err := m.Combine(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.VideoTracks(), 1)
	assert.LessOrEqual(t, len(s.AudioTracks()), 1)
}

func TestCombineMixesScreenAudioAndMicrophone(t *testing.T) {
	p := mediatest.New()
	p.ScreenAudio = true
	m := newManager(p, Options{MixWithScreen: true})

	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	s, err := m.Combine(context.Background())
	require.NoError(t, err)
	require.Len(t, s.AudioTracks(), 1)
	require.Len(t, p.AudioContexts(), 1)
	assert.Equal(t, 2, p.AudioContexts()[0].Sources())
	assert.Equal(t, "mix", s.AudioTracks()[0].Label())

	// A second combination closes the first graph before creating a new one.
	_, err = m.Combine(context.Background())
	require.NoError(t, err)
	contexts := p.AudioContexts()
	require.Len(t, contexts, 2)
	assert.True(t, contexts[0].Closed())
	assert.False(t, contexts[1].Closed())

	m.Cleanup()
	assert.True(t, contexts[1].Closed())
}

func TestCombineWithoutScreen(t *testing.T) {
	m := newManager(mediatest.New(), Options{})
	_, err := m.Combine(context.Background())
	assert.Equal(t, types.ClassStream, types.ClassOf(err))
	assert.ErrorIs(t, err, ErrNoScreen)
}

func TestCleanupIdempotent(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})
	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	_, err = m.Combine(context.Background())
	require.NoError(t, err)

	m.Cleanup()
	m.Cleanup()

	assert.False(t, m.IsActive())
	for _, tr := range p.Tracks() {
		assert.True(t, tr.Ended(), tr.ID())
		assert.Equal(t, 0, tr.ListenerCount(), tr.ID())
	}
}

func TestRecombineDetachesMicrophoneListeners(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})
	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	first, err := m.Combine(context.Background())
	require.NoError(t, err)
	require.Len(t, first.AudioTracks(), 1)
	firstMic := first.AudioTracks()[0].(*mediatest.Track)
	assert.Equal(t, 1, firstMic.ListenerCount())

	for range 3 {
		_, err = m.Combine(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 4, p.UserCalls)
	assert.True(t, firstMic.Ended())
	assert.Equal(t, 0, firstMic.ListenerCount())

	m.mu.Lock()
	assert.Len(t, m.detach, 1)
	assert.Len(t, m.micDetach, 1)
	m.mu.Unlock()

	m.ReleaseCombined()
	m.mu.Lock()
	assert.Empty(t, m.micDetach)
	m.mu.Unlock()
}

func TestEndedHandlerInvokedOnceAndCanCleanup(t *testing.T) {
	p := mediatest.New()
	p.ScreenAudio = true
	m := newManager(p, Options{})

	calls := 0
	m.SetEndedHandler(func(media.Track) {
		calls++
		m.Cleanup()
		m.Cleanup()
	})

	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	tracks := p.Tracks()
	require.Len(t, tracks, 2)

	tracks[0].Emit(media.EventEnded)
	tracks[1].Emit(media.EventEnded)

	assert.Equal(t, 1, calls)
	assert.False(t, m.IsActive())
}

func TestEndedHandlerReplacedAfterAttach(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})

	first, second := 0, 0
	m.SetEndedHandler(func(media.Track) { first++ })
	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	m.SetEndedHandler(func(media.Track) { second++ })

	p.Tracks()[0].Emit(media.EventEnded)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestEndedWithoutHandlerCleansUp(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})
	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	p.Tracks()[0].Emit(media.EventEnded)
	assert.False(t, m.IsActive())
}

func TestMuteIsOnlyLogged(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})
	called := false
	m.SetEndedHandler(func(media.Track) { called = true })
	_, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	p.Tracks()[0].Emit(media.EventMute)
	p.Tracks()[0].Emit(media.EventUnmute)
	assert.False(t, called)
	assert.True(t, m.IsActive())
}

func TestScreenStreamPreview(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{})
	assert.Nil(t, m.ScreenStream())

	s, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	preview := m.ScreenStream()
	require.NotNil(t, preview)
	assert.Equal(t, s.ID(), preview.ID())
	assert.Len(t, preview.VideoTracks(), 1)
}

func TestSetOptionsAppliesToNextAcquisition(t *testing.T) {
	p := mediatest.New()
	m := newManager(p, Options{MicDevice: "builtin"})

	m.SetOptions(Options{MicDevice: "usb", FrameRate: 15})
	assert.Equal(t, 15, m.Options().FrameRate)

	_, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "usb", p.LastAudioConstraints.DeviceID)
}
