package media

import (
	"sync"
)

// BaseTrack is a Track implementation with listener bookkeeping.
// Platforms embed it and call Emit when the source changes state.
// It is safe for concurrent use.
type BaseTrack struct {
	id    string
	kind  Kind
	label string

	mu        sync.Mutex
	ended     bool
	listeners map[int]func(TrackEvent)
	nextID    int
	onStop    func()
}

// NewBaseTrack returns a live track. onStop, if non-nil, runs once on Stop.
func NewBaseTrack(id string, kind Kind, label string, onStop func()) *BaseTrack {
	return &BaseTrack{
		id:        id,
		kind:      kind,
		label:     label,
		listeners: make(map[int]func(TrackEvent)),
		onStop:    onStop,
	}
}

// ID returns the track identifier.
func (t *BaseTrack) ID() string { return t.id }

// Kind returns the track kind.
func (t *BaseTrack) Kind() Kind { return t.kind }

// Label returns the human-readable source name.
func (t *BaseTrack) Label() string { return t.label }

// Listen registers fn for lifecycle events.
func (t *BaseTrack) Listen(fn func(TrackEvent)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// ListenerCount returns the number of registered listeners.
func (t *BaseTrack) ListenerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// Stop releases the track without emitting EventEnded.
func (t *BaseTrack) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// Ended reports whether the track was stopped or ended.
func (t *BaseTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Emit delivers ev to all listeners. EventEnded marks the track ended and
// is delivered at most once. Listeners run without the lock held, so they
// may remove themselves or stop the track.
func (t *BaseTrack) Emit(ev TrackEvent) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	if ev == EventEnded {
		t.ended = true
	}
	fns := make([]func(TrackEvent), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
