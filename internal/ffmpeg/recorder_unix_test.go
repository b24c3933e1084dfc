//go:build !windows

package ffmpeg

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
)

// collector records recorder callbacks.
type collector struct {
	mu      sync.Mutex
	data    []byte
	chunks  int
	errs    []error
	stopped chan struct{}
}

func newCollector() *collector {
	return &collector{stopped: make(chan struct{})}
}

func (c *collector) handlers() media.RecorderHandlers {
	return media.RecorderHandlers{
		OnData: func(b []byte) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.data = append(c.data, b...)
			c.chunks++
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
		OnStop: func() { close(c.stopped) },
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestRecorderStopFinalizes(t *testing.T) {
	c := newCollector()
	screen := testScreen()
	ended := 0
	screen.Listen(func(ev media.TrackEvent) {
		if ev == media.EventEnded {
			ended++
		}
	})

	// The script waits for the quit command on stdin like FFmpeg does.
	r := newRecorder("sh", []string{"-c", "printf head; read q; printf tail"}, "", []*Track{screen}, c.handlers())
	require.NoError(t, r.Start(20*time.Millisecond))
	assert.Equal(t, media.RecorderRecording, r.State())
	assert.Error(t, r.Start(time.Second))

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.data) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "headtail", string(c.data))
	assert.Empty(t, c.errs)
	assert.Equal(t, 0, ended)
	assert.Equal(t, media.RecorderInactive, r.State())
	assert.Equal(t, "video/webm", r.MIMEType())
}

func TestRecorderUnexpectedExitEndsTracks(t *testing.T) {
	c := newCollector()
	screen := testScreen()
	endedCh := make(chan struct{})
	screen.Listen(func(ev media.TrackEvent) {
		if ev == media.EventEnded {
			close(endedCh)
		}
	})

	r := newRecorder("sh", []string{"-c", "printf partial; echo 'x11grab: display closed' >&2; exit 1"}, "video/mp4", []*Track{screen}, c.handlers())
	require.NoError(t, r.Start(time.Hour))
	c.wait(t)

	select {
	case <-endedCh:
	case <-time.After(5 * time.Second):
		t.Fatal("track did not end")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "partial", string(c.data))
	assert.Equal(t, 1, c.chunks)
	require.Len(t, c.errs, 1)
	assert.Contains(t, c.errs[0].Error(), "display closed")
	assert.Error(t, r.Stop())
}

func TestRecorderRejectsInvalidTimeslice(t *testing.T) {
	r := newRecorder("sh", nil, "", nil, media.RecorderHandlers{})
	assert.Error(t, r.Start(0))
	assert.ErrorIs(t, r.Pause(), media.ErrNotSupported)
	assert.ErrorIs(t, r.Resume(), media.ErrNotSupported)
}
