// Package status provides the per-user recorder status shared by every open
// window, replicated through a persistence backend.
package status

import (
	"context"

	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// Record is the persisted status value of one user.
type Record struct {
	Status    types.RecorderStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	UpdatedAt int64                `json:"updated_at"` // Writer-monotonic Unix nanoseconds
	WriterID  string               `json:"writer_id"`
}

// NewerThan reports whether r wins over o under last-write-wins ordering.
// Ties on the timestamp are broken by writer id.
func (r Record) NewerThan(o Record) bool {
	if r.UpdatedAt != o.UpdatedAt {
		return r.UpdatedAt > o.UpdatedAt
	}
	return r.WriterID > o.WriterID
}

// Merge folds in into stored. Zero fields of in never erase stored fields;
// the message travels with the status. A stamped record older than stored
// is rejected and ok is false.
func Merge(stored, in Record) (out Record, ok bool) {
	if in.UpdatedAt != 0 && stored.UpdatedAt != 0 && !in.NewerThan(stored) {
		return stored, false
	}
	out = stored
	if in.Status != "" {
		out.Status = in.Status
		out.Message = in.Message
	}
	if in.UpdatedAt != 0 {
		out.UpdatedAt = in.UpdatedAt
	}
	if in.WriterID != "" {
		out.WriterID = in.WriterID
	}
	return out, true
}

// Backend persists records keyed by user id and feeds changes back.
type Backend interface {
	// Get returns the stored record, or the zero Record when none exists.
	Get(ctx context.Context, userID string) (Record, error)
	// Merge writes rec with merge semantics.
	Merge(ctx context.Context, userID string, rec Record) error
	// Subscribe delivers every stored change for userID until cancel is called.
	Subscribe(ctx context.Context, userID string, fn func(Record)) (cancel func(), err error)
}
