package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaveErrorWithoutUploader(t *testing.T) {
	download := errors.New("disk full")
	err := &SaveError{Download: download}

	assert.ErrorIs(t, err, download)
	assert.Equal(t, ClassUpload, ClassOf(err))
	assert.Equal(t, "save recording: download: disk full", err.Error())
	assert.Equal(t, "Your recording could not be saved locally: disk full. The recording was lost.", UserMessage(err))
}

func TestSaveErrorNamesBothDestinations(t *testing.T) {
	upload := &RecordingError{Class: ClassUpload, Code: "QuotaExceeded", Message: "storage quota exceeded"}
	err := &SaveError{Download: errors.New("permission denied"), Upload: upload}

	var re *RecordingError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, "QuotaExceeded", re.Code)
	assert.Equal(t, ClassUpload, ClassOf(err))
	assert.Equal(t, "Your recording could not be saved locally (permission denied) and the upload failed ([QuotaExceeded] storage quota exceeded). The recording was lost.", UserMessage(err))

	plain := &SaveError{Download: errors.New("permission denied"), Upload: errors.New("connection reset")}
	assert.Equal(t, "Your recording could not be saved locally (permission denied) and the upload failed (connection reset). The recording was lost.", UserMessage(plain))
}

func TestUserMessageByClass(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "Something went wrong while recording: boom", UserMessage(errors.New("boom")))
	assert.Equal(t, "Please sign in to record your screen.", UserMessage(ErrUnauthenticated))
	assert.Equal(t, ClassRecorder, ClassOf(NewError(ClassRecorder, errors.New("stopped"))))
	assert.Empty(t, ClassOf(errors.New("boom")))
}
