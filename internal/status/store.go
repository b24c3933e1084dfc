package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-screenrec/internal/types"
)

// ErrPersist wraps a backend failure on a local write. The local value has
// already changed when it is returned.
var ErrPersist = errors.New("status not persisted")

// Origin identifies where a write comes from.
type Origin int

const (
	// OriginLocal is a change made in this window; it is persisted.
	OriginLocal Origin = iota
	// OriginRemote is a change that arrived through the backend; it is not persisted again.
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Store holds the status of one user as seen by one window.
// It is safe for concurrent use.
type Store struct {
	backend  Backend
	userID   string
	writerID string
	now      func() time.Time

	mu        sync.Mutex
	current   Record
	lastStamp int64
	subs      map[uint64]func(Record)
	nextSub   uint64
	cancel    func()
}

// New creates a Store for userID, loads the persisted value and attaches to
// the backend feed. A nil backend gives a window-local store.
func New(ctx context.Context, backend Backend, userID string) (*Store, error) {
	s := &Store{
		backend:  backend,
		userID:   userID,
		writerID: uuid.NewString(),
		now:      time.Now,
		current:  Record{Status: types.StatusIdle},
		subs:     make(map[uint64]func(Record)),
	}
	if backend == nil {
		return s, nil
	}

	rec, err := backend.Get(ctx, userID)
	if err != nil {
		slog.Warn("failed to load persisted status", "user", userID, "error", err)
	} else if rec.Status != "" {
		rec.Status = types.ParseRecorderStatus(string(rec.Status))
		s.current = rec
	}

	cancel, err := backend.Subscribe(ctx, userID, s.applyRemote)
	if err != nil {
		return nil, fmt.Errorf("subscribe to status feed: %w", err)
	}
	s.cancel = cancel
	return s, nil
}

// WriterID returns the id stamped on this store's writes.
func (s *Store) WriterID() string {
	return s.writerID
}

// Read returns the current status.
func (s *Store) Read() types.RecorderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Status
}

// Record returns the current record.
func (s *Store) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Write sets the status with an empty message.
func (s *Store) Write(ctx context.Context, status types.RecorderStatus, origin Origin) error {
	return s.WriteMessage(ctx, status, "", origin)
}

// WriteMessage sets the status and its message. The value changes and
// subscribers are notified before a local write is persisted; a failed
// persistence is logged and returned wrapped in [ErrPersist].
func (s *Store) WriteMessage(ctx context.Context, status types.RecorderStatus, message string, origin Origin) error {
	_, err := s.write(ctx, nil, status, message, origin)
	return err
}

// WriteIf sets the status and its message only while the current status is
// expect, checked and changed under one lock. It reports whether the write
// happened; errors are those of [Store.WriteMessage].
func (s *Store) WriteIf(ctx context.Context, expect, status types.RecorderStatus, message string, origin Origin) (bool, error) {
	return s.write(ctx, &expect, status, message, origin)
}

func (s *Store) write(ctx context.Context, expect *types.RecorderStatus, status types.RecorderStatus, message string, origin Origin) (bool, error) {
	s.mu.Lock()
	prev := s.current.Status
	if expect != nil && prev != *expect {
		s.mu.Unlock()
		slog.Debug("status write skipped", "user", s.userID, "expected", *expect, "current", prev, "to", status)
		return false, nil
	}
	rec := Record{
		Status:    status,
		Message:   message,
		UpdatedAt: s.stampLocked(),
		WriterID:  s.writerID,
	}
	s.current = rec
	subs := s.subscribersLocked()
	s.mu.Unlock()

	slog.Debug("status changed", "user", s.userID, "from", prev, "to", status, "origin", origin)
	notify(subs, rec)

	if origin != OriginLocal || s.backend == nil {
		return true, nil
	}
	if err := s.backend.Merge(ctx, s.userID, rec); err != nil {
		slog.Warn("failed to persist status", "user", s.userID, "status", status, "error", err)
		return true, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return true, nil
}

// applyRemote receives a record from the backend feed.
func (s *Store) applyRemote(rec Record) {
	if rec.Status == "" {
		return
	}
	rec.Status = types.ParseRecorderStatus(string(rec.Status))

	s.mu.Lock()
	if rec.WriterID == s.writerID || !rec.NewerThan(s.current) {
		s.mu.Unlock()
		return
	}
	prev := s.current.Status
	s.current = rec
	subs := s.subscribersLocked()
	s.mu.Unlock()

	slog.Debug("status changed", "user", s.userID, "from", prev, "to", rec.Status, "origin", OriginRemote)
	notify(subs, rec)
}

// stampLocked returns a timestamp newer than every record seen so far.
func (s *Store) stampLocked() int64 {
	ts := max(s.now().UnixNano(), s.lastStamp+1, s.current.UpdatedAt+1)
	s.lastStamp = ts
	return ts
}

// Subscribe registers fn for every change, local or remote.
// Callbacks run on the writing goroutine and must not block.
func (s *Store) Subscribe(fn func(Record)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// subscribersLocked returns the callbacks in registration order.
// Must be called with lock held.
func (s *Store) subscribersLocked() []func(Record) {
	fns := make([]func(Record), 0, len(s.subs))
	for _, id := range slices.Sorted(maps.Keys(s.subs)) {
		fns = append(fns, s.subs[id])
	}
	return fns
}

func notify(fns []func(Record), rec Record) {
	for _, fn := range fns {
		fn(rec)
	}
}

// Close detaches from the backend feed.
func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
