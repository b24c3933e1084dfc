package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log rotation limits for the log file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// setupLogging installs the default slog logger at level. When file is set,
// records also go to a rotated log file. The returned func closes the file.
func setupLogging(level, file string) func() {
	var w io.Writer = os.Stderr
	closeFn := func() {}

	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			slog.Warn("log directory unavailable, logging to stderr only", "path", file, "error", err)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   file,
				MaxSize:    logMaxSizeMB,
				MaxBackups: logMaxBackups,
				MaxAge:     logMaxAgeDays,
				Compress:   true,
			}
			w = io.MultiWriter(os.Stderr, rotator)
			closeFn = func() {
				_ = rotator.Close() //nolint:errcheck // Best-effort at exit
			}
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
	return closeFn
}

// parseLevel maps a configured level name to a slog level. Unknown names log at info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
