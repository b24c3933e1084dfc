package server

import (
	"log/slog"

	"github.com/oszuidwest/zwfm-screenrec/internal/eventlog"
	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// --- Capture settings handlers ---

// handleSettingsUpdate processes a settings/update command.
func (h *CommandHandler) handleSettingsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(cmd, send, func(req *SettingsUpdateRequest) error {
		if req.Microphone != nil {
			slog.Info("settings/update: changing microphone", "device", *req.Microphone)
			if err := h.cfg.SetMicrophone(*req.Microphone); err != nil {
				return err
			}
		}
		if req.MixMicrophone != nil {
			if err := h.cfg.SetMixMicrophone(*req.MixMicrophone); err != nil {
				return err
			}
		}
		if req.FrameRate != nil {
			if err := h.cfg.SetFrameRate(*req.FrameRate); err != nil {
				return err
			}
		}

		// Apply to the next acquisition of every session
		h.engine.ApplySettings()
		return nil
	})
}

// handleSettingsGet processes a settings/get command.
func (h *CommandHandler) handleSettingsGet(send chan<- any) {
	snap := h.cfg.Snapshot()
	SendSuccess(send, "settings/get", types.CaptureSettings{
		Microphone:    snap.Microphone,
		MixMicrophone: snap.MixMicrophone,
		FrameRate:     snap.FrameRate,
		SystemAudio:   snap.SystemAudio != "",
		MIMEType:      snap.MIMEType,
		Upload:        uploadTarget(snap.HasS3(), snap.HasHTTPUpload()),
	})
}

// uploadTarget names where recordings are uploaded.
func uploadTarget(s3, http bool) string {
	switch {
	case s3:
		return "s3"
	case http:
		return "http"
	default:
		return "none"
	}
}

// --- Event log handlers ---

// EventsResult is the data of an events/list result.
type EventsResult struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// handleEventsList reads the signed-in user's most recent events.
func (h *CommandHandler) handleEventsList(cmd WSCommand, c *Client, send chan<- any) {
	var req EventsListRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = MaxEventEntries
	}

	HandleActionAsync(cmd, send, func() (any, error) {
		if h.eventLogPath == "" {
			return EventsResult{Events: []eventlog.Event{}}, nil
		}
		events, hasMore, err := eventlog.ReadLast(h.eventLogPath, eventlog.Query{
			Limit:  limit,
			Offset: req.Offset,
			Filter: eventlog.TypeFilter(req.Filter),
			UserID: c.UserID,
		})
		if err != nil {
			return nil, err
		}
		return EventsResult{Events: events, HasMore: hasMore}, nil
	})
}
