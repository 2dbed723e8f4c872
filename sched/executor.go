package sched

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasix-runtime/waker"
)

// Task is a unit of pollable work. Poll returns true once the task is done;
// returning false means w has been registered somewhere that will wake it.
type Task interface {
	Poll(ctx context.Context, w waker.Wakeable) bool
}

// Canceler is implemented by tasks that must release registrations when
// their context ends before they complete.
type Canceler interface {
	Cancel()
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context, w waker.Wakeable) bool

func (f TaskFunc) Poll(ctx context.Context, w waker.Wakeable) bool { return f(ctx, w) }

const (
	stateIdle int32 = iota
	stateQueued
	stateRunning
	stateNotified
	stateDone
)

type cell struct {
	e     *Executor
	ctx   context.Context
	task  Task
	state atomic.Int32
	done  chan struct{}
	err   error
	stop  func() bool
}

func (c *cell) Wake() {
	for {
		switch c.state.Load() {
		case stateIdle:
			if c.state.CompareAndSwap(stateIdle, stateQueued) {
				c.e.enqueue(c)
				return
			}
		case stateRunning:
			if c.state.CompareAndSwap(stateRunning, stateNotified) {
				return
			}
		default:
			return
		}
	}
}

// Executor runs tasks on a fixed number of workers. A task that is waiting
// for a wake holds no worker.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*cell
	closed  bool
	workers int
	live    atomic.Int64
	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewExecutor starts an executor with the given number of workers; zero or
// less means GOMAXPROCS.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e := &Executor{workers: workers, stopped: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.work()
	}
	return e
}

// Workers returns the worker count.
func (e *Executor) Workers() int { return e.workers }

// Live returns the number of spawned tasks that have not completed.
func (e *Executor) Live() int { return int(e.live.Load()) }

// Spawn schedules t. The task is woken when ctx ends so it can be canceled.
func (e *Executor) Spawn(ctx context.Context, t Task) *Handle {
	c := &cell{e: e, ctx: ctx, task: t, done: make(chan struct{})}
	c.state.Store(stateQueued)
	e.live.Add(1)
	c.stop = context.AfterFunc(ctx, c.Wake)
	e.enqueue(c)
	return &Handle{c: c}
}

func (e *Executor) enqueue(c *cell) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, c)
	e.mu.Unlock()
	e.cond.Signal()
}

func (e *Executor) next() *cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.queue) == 0 && !e.closed {
		e.cond.Wait()
	}
	if e.closed {
		return nil
	}
	c := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return c
}

func (e *Executor) work() {
	defer e.wg.Done()
	for {
		c := e.next()
		if c == nil {
			return
		}
		e.run(c)
	}
}

func (e *Executor) run(c *cell) {
	c.state.Store(stateRunning)

	if err := c.ctx.Err(); err != nil {
		if cn, ok := c.task.(Canceler); ok {
			cn.Cancel()
		}
		c.err = err
		e.finish(c)
		return
	}

	if c.task.Poll(c.ctx, c) {
		e.finish(c)
		return
	}
	if c.state.CompareAndSwap(stateRunning, stateIdle) {
		return
	}
	// woken while running
	c.state.Store(stateQueued)
	e.enqueue(c)
}

func (e *Executor) finish(c *cell) {
	c.state.Store(stateDone)
	c.stop()
	e.live.Add(-1)
	close(c.done)
}

// Close stops the workers. Tasks still pending are dropped.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
	close(e.stopped)
}

// Handle observes a spawned task.
type Handle struct {
	c *cell
}

// Done is closed when the task completes or is canceled.
func (h *Handle) Done() <-chan struct{} { return h.c.done }

// Err returns the context error if the task was canceled. Valid after Done.
func (h *Handle) Err() error { return h.c.err }

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.c.done:
		return h.c.err
	case <-ctx.Done():
		return ctx.Err()
	case <-h.c.e.stopped:
		return context.Canceled
	}
}

type futureTask[T any] struct {
	f   Future[T]
	res Result[T]
}

func (t *futureTask[T]) Poll(_ context.Context, w waker.Wakeable) bool {
	t.res = t.f.Poll(w)
	return t.res.Status == Ready
}

func (t *futureTask[T]) Cancel() {
	if a, ok := t.f.(Abandoner[T]); ok {
		t.res = a.Abandon()
	}
}

// Run drives f on e and waits for its result.
func Run[T any](ctx context.Context, e *Executor, f Future[T]) (T, error) {
	t := &futureTask[T]{f: f}
	h := e.Spawn(ctx, t)

	select {
	case <-h.c.done:
	case <-e.stopped:
		var zero T
		return zero, context.Canceled
	}
	if t.res.Status == Ready {
		return t.res.Value, t.res.Err
	}
	var zero T
	return zero, h.c.err
}
