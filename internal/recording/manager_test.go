package recording

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
	"github.com/oszuidwest/zwfm-screenrec/internal/media/mediatest"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

func testStream() *media.Stream {
	return media.NewStream("s",
		media.NewBaseTrack("v", media.KindVideo, "screen", nil),
		media.NewBaseTrack("a", media.KindAudio, "mix", nil))
}

func TestStopBlobEqualsSumOfChunks(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, 60*time.Second, "video/webm")

	var emitted []int
	require.NoError(t, m.Start(testStream(), func(b []byte) { emitted = append(emitted, len(b)) }))

	rec := p.LastRecorder()
	require.NotNil(t, rec)
	rec.Advance(150 * time.Second)

	snap := m.State()
	assert.True(t, snap.IsRecording)
	assert.Equal(t, 2, snap.ChunkCount)
	assert.Equal(t, 120.0, snap.ApproxDuration)

	blob, err := m.Stop(context.Background())
	require.NoError(t, err)

	require.Len(t, emitted, 3)
	var sum int64
	for _, n := range emitted {
		sum += int64(n)
	}
	assert.Equal(t, sum, blob.Size())
	assert.Equal(t, int64(150_000), blob.Size())
	assert.Equal(t, "video/webm", blob.MIMEType)

	after := m.State()
	assert.Equal(t, 0, after.ChunkCount)
	assert.Equal(t, int64(0), after.TotalBytes)
	assert.False(t, after.IsRecording)
}

func TestStopWithoutRecording(t *testing.T) {
	m := NewManager(mediatest.New(), time.Second, "")
	_, err := m.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestStartTwice(t *testing.T) {
	m := NewManager(mediatest.New(), time.Second, "")
	require.NoError(t, m.Start(testStream(), nil))
	err := m.Start(testStream(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, types.ClassRecorder, types.ClassOf(err))
	assert.True(t, m.IsRecording())
}

func TestStartRecorderFailureIsClassified(t *testing.T) {
	p := mediatest.New()
	p.RecorderErr = errors.New("NotSupportedError")
	m := NewManager(p, time.Second, "")

	err := m.Start(testStream(), nil)
	assert.Equal(t, types.ClassRecorder, types.ClassOf(err))
	assert.False(t, m.IsRecording())
}

func TestEmptyChunksAreSkipped(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, time.Second, "")
	calls := 0
	require.NoError(t, m.Start(testStream(), func([]byte) { calls++ }))

	// Stopping on a chunk boundary flushes an empty final chunk.
	p.LastRecorder().Advance(2 * time.Second)
	blob, err := m.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2000), blob.Size())
}

func TestPauseResume(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, time.Second, "")

	m.Pause() // no recording: no-op
	m.Resume()
	assert.False(t, m.State().IsPaused)

	require.NoError(t, m.Start(testStream(), nil))
	m.Resume() // not paused: no-op
	m.Pause()
	assert.True(t, m.State().IsPaused)
	assert.Equal(t, media.RecorderPaused, p.LastRecorder().State())

	p.LastRecorder().Advance(5 * time.Second)
	assert.Equal(t, 0, m.State().ChunkCount)

	m.Resume()
	assert.False(t, m.State().IsPaused)
	assert.True(t, m.State().IsRecording)
}

func TestCleanupDiscardsAndIsIdempotent(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, time.Second, "")
	require.NoError(t, m.Start(testStream(), nil))
	p.LastRecorder().Advance(3 * time.Second)

	m.Cleanup()
	m.Cleanup()

	assert.Equal(t, media.RecorderInactive, p.LastRecorder().State())
	assert.Equal(t, types.RecordingSnapshot{}, m.State())

	// A fresh recording starts from an empty buffer.
	require.NoError(t, m.Start(testStream(), nil))
	p.LastRecorder().Advance(time.Second)
	blob, err := m.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), blob.Size())
}

func TestStaleRecorderDataIsDropped(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, time.Second, "")
	require.NoError(t, m.Start(testStream(), nil))
	old := p.LastRecorder()
	m.Cleanup()

	require.NoError(t, m.Start(testStream(), nil))
	require.NoError(t, old.Start(time.Second))
	old.Advance(4 * time.Second)

	assert.Equal(t, 0, m.State().ChunkCount)
}

func TestRecorderErrorWithoutDataFailsStop(t *testing.T) {
	p := mediatest.New()
	m := NewManager(p, time.Second, "")
	require.NoError(t, m.Start(testStream(), nil))
	p.LastRecorder().Fail(errors.New("encoder crashed"))

	_, err := m.Stop(context.Background())
	assert.Equal(t, types.ClassRecorder, types.ClassOf(err))
}
