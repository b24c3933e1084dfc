package types

import (
	"errors"
	"fmt"
)

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`   // JSON path to the field (e.g., "recording.chunk_interval_ms")
	Message string `json:"message"` // Human-readable error message
	Value   any    `json:"value"`   // The invalid value that was provided
}

// ValidationError collects multiple field validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationError creates a new empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{
		Errors: make([]FieldError, 0),
	}
}

// Add adds a field error to the collection.
func (v *ValidationError) Add(field, message string, value any) {
	v.Errors = append(v.Errors, FieldError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// ErrorClass classifies a session failure. It only selects the message
// shown to the user; no class is retried automatically.
type ErrorClass string

// Failure classes.
const (
	ClassPermission      ErrorClass = "permission"      // Capture request declined
	ClassDevice          ErrorClass = "device"          // Capture requested but unsatisfiable
	ClassStream          ErrorClass = "stream"          // Combining acquired streams failed
	ClassRecorder        ErrorClass = "recorder"        // Recorder primitive failed
	ClassUpload          ErrorClass = "upload"          // Post-recording persistence failed
	ClassUnauthenticated ErrorClass = "unauthenticated" // No signed-in user
)

// ErrUnauthenticated is returned when a session is opened without a user.
var ErrUnauthenticated = &RecordingError{Class: ClassUnauthenticated, Message: "not signed in"}

// RecordingError is a classified session failure.
// Code and Message carry the provider's original values for upload failures.
type RecordingError struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

// NewError returns a RecordingError of class c wrapping err.
func NewError(c ErrorClass, err error) *RecordingError {
	re := &RecordingError{Class: c, Err: err}
	if err != nil {
		re.Message = err.Error()
	}
	return re
}

func (e *RecordingError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Class, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Class, e.Message)
	}
	return string(e.Class)
}

func (e *RecordingError) Unwrap() error {
	return e.Err
}

// Is matches another RecordingError of the same class without a code,
// so errors.Is(err, ErrUnauthenticated) works on wrapped copies.
func (e *RecordingError) Is(target error) bool {
	t, ok := target.(*RecordingError)
	if !ok {
		return false
	}
	return t.Class == e.Class && t.Code == "" && t.Err == nil
}

// SaveError reports a recording that reached neither the local download
// nor the upload destination. It is classified as an upload failure.
type SaveError struct {
	Download error
	Upload   error // Nil when no uploader is configured
}

func (e *SaveError) Error() string {
	if e.Upload == nil {
		return fmt.Sprintf("save recording: download: %v", e.Download)
	}
	return fmt.Sprintf("save recording: download: %v; upload: %v", e.Download, e.Upload)
}

func (e *SaveError) Unwrap() []error {
	if e.Upload == nil {
		return []error{e.Download}
	}
	return []error{e.Download, e.Upload}
}

// ClassOf returns the class of err, or "" when err is not classified.
func ClassOf(err error) ErrorClass {
	var se *SaveError
	if errors.As(err, &se) {
		return ClassUpload
	}
	var re *RecordingError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}

// UserMessage returns the single human-readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *SaveError
	if errors.As(err, &se) {
		return saveMessage(se)
	}
	var re *RecordingError
	if !errors.As(err, &re) {
		return "Something went wrong while recording: " + err.Error()
	}
	switch re.Class {
	case ClassPermission:
		return "Screen recording permission was denied. Allow screen sharing and try again."
	case ClassDevice:
		return "No screen or microphone could be captured. Check your devices and try again."
	case ClassStream:
		return "The captured screen and audio could not be combined. Please start a new recording."
	case ClassRecorder:
		return "The recorder stopped unexpectedly. Please start a new recording."
	case ClassUnauthenticated:
		return "Please sign in to record your screen."
	case ClassUpload:
		code := re.Code
		if code == "" {
			code = "unknown"
		}
		return fmt.Sprintf("[%s] Upload failed: %s. Your recording was still saved locally.", code, re.Message)
	default:
		return re.Error()
	}
}

func saveMessage(se *SaveError) string {
	if se.Upload == nil {
		return fmt.Sprintf("Your recording could not be saved locally: %v. The recording was lost.", se.Download)
	}
	upload := se.Upload.Error()
	var re *RecordingError
	if errors.As(se.Upload, &re) {
		code := re.Code
		if code == "" {
			code = "unknown"
		}
		upload = fmt.Sprintf("[%s] %s", code, re.Message)
	}
	return fmt.Sprintf("Your recording could not be saved locally (%v) and the upload failed (%s). The recording was lost.", se.Download, upload)
}
