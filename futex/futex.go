package futex

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/waker"
	"go.uber.org/zap"
)

// Outcome is how a wait resolved.
type Outcome int

const (
	Woken         Outcome = iota + 1 // released by a wake
	ValueMismatch                    // the value differed, the caller never slept
	TimedOut                         // the deadline passed first
)

func (o Outcome) String() string {
	switch o {
	case Woken:
		return "woken"
	case ValueMismatch:
		return "value_mismatch"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Forever waits without a deadline.
const Forever time.Duration = -1

type waiter struct {
	w      waker.Wakeable
	woken  bool
	closed bool
}

type futex struct {
	waiters []*waiter
}

// Table holds the waiters of one process keyed by guest address.
type Table struct {
	mu      sync.Mutex
	futexes map[uint64]*futex
	closed  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{futexes: make(map[uint64]*futex)}
}

// Len returns the number of addresses with waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.futexes)
}

// Waiters returns the number of waiters on addr.
func (t *Table) Waiters(addr uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fx := t.futexes[addr]; fx != nil {
		return len(fx.waiters)
	}
	return 0
}

// remove drops w from addr's list. Callers hold mu.
func (t *Table) remove(addr uint64, w *waiter) {
	fx := t.futexes[addr]
	if fx == nil {
		return
	}
	for i, cur := range fx.waiters {
		if cur == w {
			fx.waiters = append(fx.waiters[:i], fx.waiters[i+1:]...)
			break
		}
	}
	if len(fx.waiters) == 0 {
		delete(t.futexes, addr)
	}
}

// Wake releases the oldest waiter on addr and returns how many were woken.
func (t *Table) Wake(addr uint64) int {
	return t.WakeN(addr, 1)
}

// WakeN releases up to n waiters on addr in registration order.
func (t *Table) WakeN(addr uint64, n int) int {
	t.mu.Lock()
	fx := t.futexes[addr]
	if fx == nil || n <= 0 {
		t.mu.Unlock()
		Logger().Debug("futex wake (miss)", zap.Uint64("addr", addr))
		return 0
	}

	count := min(n, len(fx.waiters))
	wake := make([]waker.Wakeable, 0, count)
	for _, w := range fx.waiters[:count] {
		w.woken = true
		wake = append(wake, w.w)
	}
	fx.waiters = fx.waiters[count:]
	if len(fx.waiters) == 0 {
		delete(t.futexes, addr)
	}
	t.mu.Unlock()

	waker.InvokeAll(wake)
	Logger().Debug("futex wake (hit)", zap.Uint64("addr", addr), zap.Int("woken", count))
	return count
}

// WakeAll releases every waiter on addr and removes the entry.
func (t *Table) WakeAll(addr uint64) int {
	t.mu.Lock()
	fx := t.futexes[addr]
	if fx == nil {
		t.mu.Unlock()
		Logger().Debug("futex wake_all (miss)", zap.Uint64("addr", addr))
		return 0
	}
	delete(t.futexes, addr)

	wake := make([]waker.Wakeable, 0, len(fx.waiters))
	for _, w := range fx.waiters {
		w.woken = true
		wake = append(wake, w.w)
	}
	t.mu.Unlock()

	waker.InvokeAll(wake)
	Logger().Debug("futex wake_all (hit)", zap.Uint64("addr", addr), zap.Int("woken", len(wake)))
	return len(wake)
}

// Close releases every waiter with an interrupted error and makes later
// waits fail the same way. Used when the owning thread set is discarded.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	var wake []waker.Wakeable
	for addr, fx := range t.futexes {
		for _, w := range fx.waiters {
			w.closed = true
			wake = append(wake, w.w)
		}
		delete(t.futexes, addr)
	}
	t.mu.Unlock()

	waker.InvokeAll(wake)
}

// Wait blocks until addr is woken, the value differs from expected, or
// timeout passes. A zero timeout only compares; Forever never times out.
func (t *Table) Wait(ctx context.Context, mem wasix.Memory, addr uint64, expected uint32, timeout time.Duration) (Outcome, error) {
	return sched.Block[Outcome](ctx, t.NewWait(mem, addr, expected, timeout))
}

// NewWait returns the pollable form of Wait. Nothing is read or registered
// until the first poll.
func (t *Table) NewWait(mem wasix.Memory, addr uint64, expected uint32, timeout time.Duration) *WaitFuture {
	return &WaitFuture{
		t:        t,
		mem:      mem,
		addr:     addr,
		expected: expected,
		timeout:  timeout,
	}
}

// WaitFuture is a pending futex wait.
type WaitFuture struct {
	t        *Table
	mem      wasix.Memory
	addr     uint64
	expected uint32
	timeout  time.Duration

	// guarded by t.mu
	w     *waiter
	timer *time.Timer
	done  bool
	res   sched.Result[Outcome]

	expired atomic.Bool
}

var (
	_ sched.Future[Outcome]    = (*WaitFuture)(nil)
	_ sched.Abandoner[Outcome] = (*WaitFuture)(nil)
)

// Addr returns the waited-on address.
func (f *WaitFuture) Addr() uint64 { return f.addr }

func (f *WaitFuture) resolve(o Outcome, err error) sched.Result[Outcome] {
	if f.timer != nil {
		f.timer.Stop()
	}
	f.done = true
	f.res = sched.Done(o, err)
	return f.res
}

func errClosed() error {
	return errors.Interrupted(errors.PhaseFutex, "futex table closed")
}

func (f *WaitFuture) Poll(wk waker.Wakeable) sched.Result[Outcome] {
	t := f.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.done {
		return f.res
	}

	if f.w == nil {
		if t.closed {
			return f.resolve(0, errClosed())
		}
		v, err := f.mem.LoadU32(f.addr)
		if err != nil {
			return f.resolve(0, err)
		}
		if v != f.expected {
			return f.resolve(ValueMismatch, nil)
		}
		if f.timeout == 0 {
			return f.resolve(TimedOut, nil)
		}

		f.w = &waiter{w: wk}
		fx := t.futexes[f.addr]
		if fx == nil {
			fx = &futex{}
			t.futexes[f.addr] = fx
		}
		fx.waiters = append(fx.waiters, f.w)
		if f.timeout > 0 {
			f.timer = time.AfterFunc(f.timeout, f.expire)
		}
		return sched.Waiting[Outcome]()
	}

	switch {
	case f.w.woken:
		return f.resolve(Woken, nil)
	case f.w.closed:
		return f.resolve(0, errClosed())
	case f.expired.Load():
		t.remove(f.addr, f.w)
		return f.resolve(TimedOut, nil)
	}
	f.w.w = wk
	return sched.Waiting[Outcome]()
}

func (f *WaitFuture) expire() {
	f.expired.Store(true)
	f.t.mu.Lock()
	var wk waker.Wakeable
	if f.w != nil && !f.w.woken {
		wk = f.w.w
	}
	f.t.mu.Unlock()
	if wk != nil {
		wk.Wake()
	}
}

// Abandon deregisters a pending wait. A wait that was already woken
// reports Woken.
func (f *WaitFuture) Abandon() sched.Result[Outcome] {
	t := f.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.done {
		return f.res
	}
	if f.w == nil {
		f.done = true
		f.res = sched.Fail[Outcome](errors.Interrupted(errors.PhaseFutex, "wait abandoned"))
		return sched.Waiting[Outcome]()
	}
	if f.w.woken {
		return f.resolve(Woken, nil)
	}
	t.remove(f.addr, f.w)
	f.resolve(0, errors.Interrupted(errors.PhaseFutex, "wait abandoned"))
	return sched.Waiting[Outcome]()
}
