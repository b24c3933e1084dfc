package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-screenrec/internal/status"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// errFFmpegMissing is returned for capture commands without an FFmpeg binary.
var errFFmpegMissing = errors.New("FFmpeg is not installed; screen capture is unavailable")

// handleRecorderAction processes recorder/initialize, recorder/start,
// recorder/stop and recorder/reset. Only the control window may send them.
// The action runs asynchronously because acquisition waits for the user.
func (h *CommandHandler) handleRecorderAction(action string, cmd WSCommand, c *Client, send chan<- any) {
	if c.Role != RoleControl {
		slog.Warn("recorder command from observing window", "type", cmd.Type, "user", c.UserID)
		SendError(send, cmd.Type, ErrNotControl)
		return
	}
	if !h.ffmpegAvailable && action != "reset" {
		SendError(send, cmd.Type, errFFmpegMissing)
		return
	}

	sess, err := h.engine.Session(c.UserID)
	if err != nil {
		SendError(send, cmd.Type, commandError(err))
		return
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		ctx := context.Background()
		o := sess.Orchestrator()

		var err error
		switch action {
		case "initialize":
			err = o.Initialize(ctx)
		case "start":
			err = o.Start(ctx)
		case "stop":
			err = o.Stop(ctx)
		case "reset":
			err = o.Reset(ctx)
		}
		if err != nil {
			slog.Warn("recorder command failed", "type", cmd.Type, "user", c.UserID, "error", err)
			return nil, commandError(err)
		}

		slog.Info("recorder command completed", "type", cmd.Type, "user", c.UserID, "status", sess.Store().Read())
		return sess.View(), nil
	})
}

// handleLaunch processes launcher/start and launcher/stop. Any window may
// request a start or stop; the control window's orchestrator carries it out.
func (h *CommandHandler) handleLaunch(action string, cmd WSCommand, c *Client, send chan<- any) {
	sess, err := h.engine.Session(c.UserID)
	if err != nil {
		SendError(send, cmd.Type, commandError(err))
		return
	}
	store := sess.Store()
	st := store.Read()

	var want types.RecorderStatus
	switch action {
	case "start":
		if !h.hub.ControlOpen(c.UserID) {
			SendError(send, cmd.Type, ErrNoControlWindow)
			return
		}
		if st != types.StatusIdle && st != types.StatusReady && st != types.StatusError {
			SendError(send, cmd.Type, fmt.Errorf("cannot start while %s", st))
			return
		}
		want = types.StatusShouldStart
	case "stop":
		if st != types.StatusRecording && st != types.StatusStarting {
			SendError(send, cmd.Type, fmt.Errorf("cannot stop while %s", st))
			return
		}
		want = types.StatusShouldStop
	}

	if err := store.Write(context.Background(), want, status.OriginLocal); err != nil && !errors.Is(err, status.ErrPersist) {
		SendError(send, cmd.Type, err)
		return
	}
	slog.Info("launch requested", "user", c.UserID, "role", c.Role, "status", want)
	SendSuccess(send, cmd.Type, map[string]string{"status": string(want)})
}

// commandError returns err in the form shown to the user.
func commandError(err error) error {
	if types.ClassOf(err) != "" {
		return errors.New(types.UserMessage(err))
	}
	return err
}
