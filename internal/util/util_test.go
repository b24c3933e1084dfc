package util

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractLastError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"empty", "", ""},
		{"last line", "Input #0\nOutput #0\nConversion failed!\n", "Conversion failed!"},
		{"component tag", "[x11grab @ 0x55d0c1a2b3c0] Cannot open display :1, error 1.\n", "Cannot open display :1, error 1."},
		{"skips progress", "display closed\nframe=  120 fps= 30 q=-1.0 size=     512kB\n\n", "display closed"},
		{"only progress", "size=     512kB time=00:00:04.00\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractLastError(tt.stderr))
		})
	}
}

func TestExtractLastErrorTruncates(t *testing.T) {
	got := ExtractLastError(strings.Repeat("x", 300))
	assert.Len(t, got, maxErrorLineLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("load config", nil))

	base := errors.New("boom")
	err := WrapError("load config", base)
	assert.EqualError(t, err, "failed to load config: boom")
	assert.ErrorIs(t, err, base)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(-time.Second))
	assert.Equal(t, "45s", FormatDuration(45*time.Second+300*time.Millisecond))
	assert.Equal(t, "2m 34s", FormatDuration(154*time.Second))
	assert.Equal(t, "1h 23m", FormatDuration(83*time.Minute+10*time.Second))
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "unknown", FormatHumanTime("unknown"))
	assert.Equal(t, "yesterday", FormatHumanTime("yesterday"))

	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, ts.Local().Format(humanTimeFormat), FormatHumanTime(ts.Format(time.RFC3339)))
}

func TestStopFFmpegViaStdinNil(t *testing.T) {
	assert.NoError(t, StopFFmpegViaStdin(nil))
	assert.NoError(t, Interrupt(nil))
}
