// Package recording provides chunked screen recording and the collaborators
// that persist the result: S3 or HTTP upload and local download.
package recording

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-screenrec/internal/media"
)

// Sentinel errors for recording operations.
var (
	// ErrAlreadyRecording is returned when starting while a recording is in progress.
	ErrAlreadyRecording = errors.New("recorder is already recording")

	// ErrNotRecording is returned when stopping while no recording is in progress.
	ErrNotRecording = errors.New("recorder is not recording")
)

// RecordingState tracks the state of a recording.
type RecordingState string

const (
	// StateIdle indicates no active recording.
	StateIdle RecordingState = "idle"
	// StateRecording indicates recording is in progress.
	StateRecording RecordingState = "recording"
	// StatePaused indicates recording is paused.
	StatePaused RecordingState = "paused"
	// StateFinalizing indicates the recorder was asked to stop and the blob is being assembled.
	StateFinalizing RecordingState = "finalizing"
)

// Progress reports upload progress. Percent is 0-100.
type Progress struct {
	Percent float64
	Sent    int64
	Total   int64
}

// Uploader sends a finished recording to remote storage.
type Uploader interface {
	Upload(ctx context.Context, userID string, blob media.Blob, filename string, onProgress func(Progress)) error
}

// Downloader offers a finished recording as a local file.
type Downloader interface {
	Download(ctx context.Context, blob media.Blob, filename string) (string, error)
}
