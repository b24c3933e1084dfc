// Package main provides a screen recorder that captures the screen and
// microphone with FFmpeg, driven from a browser interface, and saves each
// recording locally and to S3 or an HTTP upload endpoint.
//
// Usage:
//
//	screenrec [-config path/to/config.json]
//
// If -config is not specified, the recorder looks for config.json in the same
// directory as the binary. A path ending in .toml is read as TOML.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-screenrec/internal/config"
	"github.com/oszuidwest/zwfm-screenrec/internal/engine"
	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-screenrec/internal/recording"
	"github.com/oszuidwest/zwfm-screenrec/internal/server"
	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/util"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenrec %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	closeLog := setupLogging(snap.LogLevel, snap.LogFile)
	defer closeLog()
	slog.Info("using config file", "path", *configPath, "version", Version)

	platform := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:  snap.FFmpegPath,
		Display:     snap.Display,
		SystemAudio: snap.SystemAudio,
		Microphone:  snap.Microphone,
		Probe:       snap.ProbeDevices,
	})
	ffmpegAvailable := platform.Available()
	if !ffmpegAvailable {
		slog.Warn("FFmpeg not found - running in degraded mode", "configured_path", snap.FFmpegPath)
	}

	events := openEventLog(snap.WebPort, snap.DataDir)
	hub := server.NewHub()

	eng := engine.New(cfg, engine.Options{
		Platform:   platform,
		Backend:    statusBackend(snap.StatusDir),
		Uploader:   uploader(&snap),
		Downloader: recording.NewLocalSaver(snap.DownloadsDir),
		Events:     events,
		Windows:    hub.Window,
		OnChange:   hub.Notify,
		OnProgress: hub.Progress,
	})

	srv := NewServer(cfg, eng, hub, events.Path(), ffmpegAvailable)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()

	// Save running recordings while the control windows are still connected.
	if err := eng.Stop(); err != nil {
		slog.Error("error stopping recorder", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}

// statusBackend returns the shared file backend, or nil to keep status in
// this process when the directory cannot be used.
func statusBackend(dir string) status.Backend {
	backend, err := status.NewFileBackend(dir)
	if err != nil {
		slog.Warn("status directory unavailable, windows of other processes will not sync", "dir", dir, "error", err)
		return nil
	}
	slog.Info("sharing status through directory", "dir", dir)
	return backend
}

// uploader returns the configured remote storage, or nil for local-only saves.
func uploader(snap *config.Snapshot) recording.Uploader {
	switch {
	case snap.HasS3():
		u, err := recording.NewS3Uploader(&snap.S3)
		if err != nil {
			slog.Error("S3 upload disabled", "error", err)
			return nil
		}
		slog.Info("uploading recordings to S3", "bucket", snap.S3.Bucket)
		return u
	case snap.HasHTTPUpload():
		u, err := recording.NewHTTPUploader(&snap.HTTPUpload)
		if err != nil {
			slog.Error("HTTP upload disabled", "error", err)
			return nil
		}
		slog.Info("uploading recordings over HTTP", "url", snap.HTTPUpload.URL)
		return u
	default:
		slog.Info("no upload target configured, recordings are saved locally only")
		return nil
	}
}

// openEventLog opens the session event log at the system location, falling
// back to the data directory.
func openEventLog(port int, dataDir string) *eventlog.Logger {
	for _, path := range []string{
		eventlog.DefaultLogPath(port),
		filepath.Join(dataDir, "logs", "sessions.jsonl"),
	} {
		l, err := eventlog.NewLogger(path)
		if err == nil {
			slog.Info("writing session events", "path", path)
			return l
		}
		slog.Debug("event log location unavailable", "path", path, "error", err)
	}
	slog.Warn("session event log disabled")
	return nil
}
