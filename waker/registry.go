package waker

import "sync"

// Token identifies a registration. Zero is never issued.
type Token uint64

type entry struct {
	tok Token
	w   Wakeable
}

// Registry is a FIFO list of wakers. A registration may carry a nil waker;
// it still occupies its place in line and counts when woken.
type Registry struct {
	mu      sync.Mutex
	next    Token
	entries []entry
}

// Register appends w and returns its token.
func (r *Registry) Register(w Wakeable) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry{tok: r.next, w: w})
	return r.next
}

// Replace swaps the waker of a live registration.
func (r *Registry) Replace(tok Token, w Wakeable) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].tok == tok {
			r.entries[i].w = w
			return true
		}
	}
	return false
}

// Cancel removes a registration without waking it.
func (r *Registry) Cancel(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].tok == tok {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether tok is still registered.
func (r *Registry) Contains(tok Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].tok == tok {
			return true
		}
	}
	return false
}

// WakeOne removes and wakes the oldest registration.
func (r *Registry) WakeOne() (Token, bool) {
	r.mu.Lock()
	if len(r.entries) == 0 {
		r.mu.Unlock()
		return 0, false
	}
	e := r.entries[0]
	r.entries[0] = entry{}
	r.entries = r.entries[1:]
	r.mu.Unlock()

	if e.w != nil {
		e.w.Wake()
	}
	return e.tok, true
}

// WakeAll removes and wakes every registration in FIFO order.
func (r *Registry) WakeAll() int {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, e := range entries {
		if e.w != nil {
			e.w.Wake()
		}
	}
	return len(entries)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
