package status

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process backend shared by every store of a
// process. Changes are delivered synchronously to every subscriber,
// including the writer.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
	subs    map[string]map[uint64]func(Record)
	nextSub uint64
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string]Record),
		subs:    make(map[string]map[uint64]func(Record)),
	}
}

// Get returns the stored record for userID.
func (b *MemoryBackend) Get(_ context.Context, userID string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[userID], nil
}

// Merge folds rec into the stored record and feeds the result to subscribers.
func (b *MemoryBackend) Merge(ctx context.Context, userID string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	merged, ok := Merge(b.records[userID], rec)
	if !ok {
		b.mu.Unlock()
		return nil
	}
	b.records[userID] = merged
	fns := make([]func(Record), 0, len(b.subs[userID]))
	for _, fn := range b.subs[userID] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(merged)
	}
	return nil
}

// Subscribe registers fn for changes to userID.
func (b *MemoryBackend) Subscribe(_ context.Context, userID string, fn func(Record)) (func(), error) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[uint64]func(Record))
	}
	b.subs[userID][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
		})
	}, nil
}
