package sched

import (
	"context"
	"sync"
	"time"

	"github.com/wippyai/wasix-runtime/waker"
)

// Status is the outcome of a single poll.
type Status int

const (
	Pending Status = iota // waker registered, not resolved
	Ready                 // resolved, Value and Err are final
)

// Result is what a poll returns.
type Result[T any] struct {
	Value  T
	Err    error
	Status Status
}

// Done returns a Ready result.
func Done[T any](v T, err error) Result[T] {
	return Result[T]{Value: v, Err: err, Status: Ready}
}

// Fail returns a Ready result carrying err.
func Fail[T any](err error) Result[T] {
	var zero T
	return Result[T]{Value: zero, Err: err, Status: Ready}
}

// Waiting returns a Pending result.
func Waiting[T any]() Result[T] {
	return Result[T]{}
}

// Future is a poll-based suspension point.
type Future[T any] interface {
	Poll(w waker.Wakeable) Result[T]
}

// Abandoner is implemented by futures that hold registrations. Abandon
// drops them and returns Waiting, or the final result if the future
// resolved before it could be abandoned.
type Abandoner[T any] interface {
	Abandon() Result[T]
}

// Block polls f until it resolves, parking the goroutine between wakes.
// On context cancellation f is abandoned; a result that raced in first is
// still returned.
func Block[T any](ctx context.Context, f Future[T]) (T, error) {
	sig := waker.NewSignal()
	for {
		r := f.Poll(sig)
		if r.Status == Ready {
			return r.Value, r.Err
		}
		select {
		case <-sig.C():
		case <-ctx.Done():
			if a, ok := f.(Abandoner[T]); ok {
				if r := a.Abandon(); r.Status == Ready {
					return r.Value, r.Err
				}
			}
			var zero T
			return zero, ctx.Err()
		}
	}
}

type yield struct {
	polled bool
}

// Yield returns a future that is pending exactly once. The first poll wakes
// its own waker so the caller is rescheduled behind already runnable work.
func Yield() Future[struct{}] {
	return &yield{}
}

func (y *yield) Poll(w waker.Wakeable) Result[struct{}] {
	if y.polled {
		return Done(struct{}{}, nil)
	}
	y.polled = true
	if w != nil {
		w.Wake()
	}
	return Waiting[struct{}]()
}

// SleepFuture resolves once its duration has elapsed.
type SleepFuture struct {
	mu    sync.Mutex
	d     time.Duration
	timer *time.Timer
	w     waker.Wakeable
	fired bool
}

// Sleep returns a future that resolves after d. A non-positive d resolves
// on the first poll.
func Sleep(d time.Duration) *SleepFuture {
	return &SleepFuture{d: d}
}

func (s *SleepFuture) Poll(w waker.Wakeable) Result[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fired || s.d <= 0 {
		return Done(struct{}{}, nil)
	}
	s.w = w
	if s.timer == nil {
		s.timer = time.AfterFunc(s.d, s.fire)
	}
	return Waiting[struct{}]()
}

func (s *SleepFuture) fire() {
	s.mu.Lock()
	s.fired = true
	w := s.w
	s.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

func (s *SleepFuture) Abandon() Result[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return Done(struct{}{}, nil)
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.w = nil
	return Waiting[struct{}]()
}
