package util

import (
	"fmt"
	"regexp"
	"strings"
)

// maxErrorLineLength is the maximum length for extracted error messages.
const maxErrorLineLength = 200

// componentPrefix matches the "[x11grab @ 0x55d0c1a2b3c0] " tag FFmpeg puts
// before messages of a demuxer or filter.
var componentPrefix = regexp.MustCompile(`^\[[^\]]+ @ 0x[0-9a-f]+\]\s*`)

// WrapError wraps an error with a descriptive operation context.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last meaningful line of FFmpeg stderr output.
// Progress lines and component tags are dropped.
func ExtractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || isProgressLine(line) {
			continue
		}
		line = componentPrefix.ReplaceAllString(line, "")
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}

// isProgressLine reports whether line is FFmpeg's periodic encoding status.
func isProgressLine(line string) bool {
	return strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=")
}
