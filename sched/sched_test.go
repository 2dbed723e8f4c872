package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/wasix-runtime/waker"
)

// gate is a future that resolves once opened.
type gate struct {
	mu        sync.Mutex
	open      bool
	reg       waker.Registry
	polls     atomic.Int32
	abandoned bool
}

func (g *gate) Poll(w waker.Wakeable) Result[int] {
	g.polls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return Done(42, nil)
	}
	g.reg.Register(w)
	return Waiting[int]()
}

func (g *gate) Abandon() Result[int] {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return Done(42, nil)
	}
	g.abandoned = true
	return Waiting[int]()
}

func (g *gate) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
	g.reg.WakeAll()
}

func TestBlock_Resolves(t *testing.T) {
	g := &gate{}
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Open()
	}()

	v, err := Block[int](context.Background(), g)
	if err != nil || v != 42 {
		t.Fatalf("Block = %d, %v", v, err)
	}
}

func TestBlock_CancelAbandons(t *testing.T) {
	g := &gate{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Block[int](ctx, g)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !g.abandoned {
		t.Error("future was not abandoned")
	}
}

// racer resolves during abandonment, as when a wake lands just before the
// cancellation is observed.
type racer struct{}

func (racer) Poll(waker.Wakeable) Result[int] { return Waiting[int]() }

func (racer) Abandon() Result[int] { return Done(7, nil) }

func TestBlock_WakeBeatsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := Block[int](ctx, racer{})
	if err != nil || v != 7 {
		t.Fatalf("Block = %d, %v, want 7", v, err)
	}
}

func TestYield(t *testing.T) {
	y := Yield()
	sig := waker.NewSignal()

	if r := y.Poll(sig); r.Status != Pending {
		t.Fatal("first poll should be pending")
	}
	select {
	case <-sig.C():
	default:
		t.Fatal("yield should wake itself")
	}
	if r := y.Poll(sig); r.Status != Ready {
		t.Fatal("second poll should be ready")
	}

	if _, err := Block(context.Background(), Yield()); err != nil {
		t.Fatalf("Block(Yield) = %v", err)
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if _, err := Block[struct{}](context.Background(), Sleep(20*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("sleep returned early")
	}

	if r := Sleep(0).Poll(nil); r.Status != Ready {
		t.Error("zero sleep should be ready immediately")
	}

	s := Sleep(time.Hour)
	s.Poll(waker.NewSignal())
	if r := s.Abandon(); r.Status != Pending {
		t.Error("abandoned sleep should not be ready")
	}
}

func TestExecutor_RunsTasks(t *testing.T) {
	e := NewExecutor(2)
	defer e.Close()

	if e.Workers() != 2 {
		t.Errorf("Workers = %d", e.Workers())
	}

	var n atomic.Int32
	var handles []*Handle
	for i := 0; i < 10; i++ {
		handles = append(handles, e.Spawn(context.Background(), TaskFunc(func(context.Context, waker.Wakeable) bool {
			n.Add(1)
			return true
		})))
	}
	for _, h := range handles {
		if err := h.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n.Load() != 10 {
		t.Errorf("ran %d tasks, want 10", n.Load())
	}
}

func TestExecutor_PendingTasksHoldNoWorker(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	g := &gate{}
	results := make(chan int, 50)
	for i := 0; i < 50; i++ {
		go func() {
			v, _ := Run[int](context.Background(), e, g)
			results <- v
		}()
	}

	// With one worker, unrelated work still runs while 50 waits are parked.
	deadline := time.Now().Add(time.Second)
	for g.reg.Len() < 50 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if g.reg.Len() != 50 {
		t.Fatalf("registered %d waiters, want 50", g.reg.Len())
	}

	done, err := Run[struct{}](context.Background(), e, Yield())
	if err != nil {
		t.Fatalf("Run(Yield) = %v, %v", done, err)
	}

	g.Open()
	for i := 0; i < 50; i++ {
		if v := <-results; v != 42 {
			t.Errorf("result = %d", v)
		}
	}
	if e.Live() != 0 {
		t.Errorf("Live = %d after completion", e.Live())
	}
}

func TestExecutor_WakeWhileRunningRequeues(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	var polls atomic.Int32
	h := e.Spawn(context.Background(), TaskFunc(func(_ context.Context, w waker.Wakeable) bool {
		if polls.Add(1) == 1 {
			w.Wake()
			w.Wake()
			return false
		}
		return true
	}))
	if err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if polls.Load() != 2 {
		t.Errorf("polls = %d, want 2", polls.Load())
	}
}

func TestExecutor_Cancel(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()

	g := &gate{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Run[int](ctx, e, g)
		done <- err
	}()

	for g.reg.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled task did not finish")
	}
	if !g.abandoned {
		t.Error("canceled future was not abandoned")
	}
}

func TestHandle_WaitAfterClose(t *testing.T) {
	e := NewExecutor(1)
	g := &gate{}
	h := e.Spawn(context.Background(), &futureTask[int]{f: g})
	for g.reg.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	e.Close()
	if err := h.Wait(context.Background()); err != context.Canceled {
		t.Errorf("Wait = %v, want canceled", err)
	}
}
