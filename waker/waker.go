package waker

import "sync/atomic"

// Wakeable resumes a suspended operation. Wake may be called from any
// goroutine and any number of times; extra calls are harmless.
type Wakeable interface {
	Wake()
}

// Once delivers at most one Wake to the wrapped waker.
type Once struct {
	w     Wakeable
	fired atomic.Bool
}

// NewOnce wraps w.
func NewOnce(w Wakeable) *Once {
	return &Once{w: w}
}

// Wake forwards the first call and drops the rest.
func (o *Once) Wake() {
	if o.fired.CompareAndSwap(false, true) && o.w != nil {
		o.w.Wake()
	}
}

// Fired reports whether Wake has been called.
func (o *Once) Fired() bool {
	return o.fired.Load()
}

// Signal is a channel-backed waker. Any number of Wake calls made before the
// receiver drains C collapse into a single notification.
type Signal struct {
	c chan struct{}
}

// NewSignal creates a Signal with no pending notification.
func NewSignal() *Signal {
	return &Signal{c: make(chan struct{}, 1)}
}

// Wake posts a notification if none is pending.
func (s *Signal) Wake() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// C returns the notification channel.
func (s *Signal) C() <-chan struct{} {
	return s.c
}

// Func adapts a function to Wakeable.
type Func func()

// Wake calls f.
func (f Func) Wake() { f() }

// InvokeAll wakes every non-nil waker in ws once.
func InvokeAll(ws []Wakeable) {
	for _, w := range ws {
		if w != nil {
			w.Wake()
		}
	}
}
