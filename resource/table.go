package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("resource table closed")
	ErrFull   = errors.New("resource table full")
)

// Table maps handles to values of type T. Freed handles are reused,
// most recently freed first.
type Table[T any] struct {
	mu        sync.RWMutex
	entries   []entry[T]
	freeList  []Handle
	live      int
	limit     int
	closed    bool
	observers []Observer[T]
}

type entry[T any] struct {
	value T
	valid bool
}

// NewTable creates a table holding at most limit values; zero means no
// limit.
func NewTable[T any](limit int) *Table[T] {
	return &Table[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]Handle, 0, 16),
		limit:    limit,
	}
}

// Insert stores value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrClosed
	}
	if t.limit > 0 && t.live >= t.limit {
		t.mu.Unlock()
		return 0, ErrFull
	}

	var h Handle
	if n := len(t.freeList); n > 0 {
		h = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[h-1] = entry[T]{value: value, valid: true}
	} else {
		t.entries = append(t.entries, entry[T]{value: value, valid: true})
		h = Handle(len(t.entries))
	}
	t.live++
	obs := t.observers
	t.mu.Unlock()

	notify(obs, Event[T]{Type: EventCreated, Handle: h, Value: value})
	return h, nil
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.getLocked(h)
}

func (t *Table[T]) getLocked(h Handle) (T, bool) {
	var zero T
	if h == 0 || int(h) > len(t.entries) {
		return zero, false
	}
	e := t.entries[h-1]
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// Remove drops a value and returns it. Values implementing Dropper are
// dropped after observers have been notified.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	t.mu.Lock()
	value, ok := t.getLocked(h)
	if !ok {
		t.mu.Unlock()
		return value, false
	}
	t.entries[h-1] = entry[T]{}
	t.freeList = append(t.freeList, h)
	t.live--
	obs := t.observers
	t.mu.Unlock()

	notify(obs, Event[T]{Type: EventDropped, Handle: h, Value: value})
	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}
	return value, true
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Limit returns the configured capacity; zero means no limit.
func (t *Table[T]) Limit() int { return t.limit }

// Each calls fn for every live value in handle order until fn returns
// false. fn must not modify the table.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, e := range t.entries {
		if e.valid && !fn(Handle(i+1), e.value) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// copy on write: notify iterates a snapshot without the lock
	next := make([]Observer[T], len(t.observers), len(t.observers)+1)
	copy(next, t.observers)
	t.observers = append(next, o)
}

// Close drops every value and rejects further inserts.
func (t *Table[T]) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	entries := t.entries
	t.entries = nil
	t.freeList = nil
	t.live = 0
	t.mu.Unlock()

	for _, e := range entries {
		if !e.valid {
			continue
		}
		if d, ok := any(e.value).(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

func notify[T any](obs []Observer[T], e Event[T]) {
	for _, o := range obs {
		o.OnResourceEvent(e)
	}
}
