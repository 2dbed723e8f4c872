package thread

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/memory"
	"github.com/wippyai/wasix-runtime/signal"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func exitWith(code uint32) Entry {
	return func(context.Context, *Thread) uint32 { return code }
}

// parked blocks until release is closed or the thread is discarded.
func parked(release <-chan struct{}, code uint32) Entry {
	return func(ctx context.Context, _ *Thread) uint32 {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return code
	}
}

func TestSpawnJoin(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	id, err := m.Spawn(ctx, exitWith(7), StackConfig{})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	code, err := m.Join(ctx, id)
	if err != nil || code != 7 {
		t.Fatalf("Join = %d, %v, want 7", code, err)
	}

	// idempotent
	for i := 0; i < 3; i++ {
		if code, err := m.Join(ctx, id); err != nil || code != 7 {
			t.Errorf("repeat Join = %d, %v", code, err)
		}
	}
}

func TestJoin_ManyJoiners(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	release := make(chan struct{})

	id, _ := m.Spawn(ctx, parked(release, 3), StackConfig{})

	var wg sync.WaitGroup
	codes := make(chan uint32, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := m.Join(ctx, id)
			codes <- c
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	close(codes)
	for c := range codes {
		if c != 3 {
			t.Errorf("joiner got %d, want 3", c)
		}
	}
}

func TestJoin_Unknown(t *testing.T) {
	m := NewManager(DefaultConfig())
	if _, err := m.Join(context.Background(), 42); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("err = %v, want invalid_handle", err)
	}
}

func TestReap(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	release := make(chan struct{})
	id, _ := m.Spawn(ctx, parked(release, 5), StackConfig{})

	if _, err := m.Reap(id); !errors.HasKind(err, errors.KindInvalidState) {
		t.Errorf("Reap of live thread = %v", err)
	}
	close(release)
	_, _ = m.Join(ctx, id)

	code, err := m.Reap(id)
	if err != nil || code != 5 {
		t.Fatalf("Reap = %d, %v", code, err)
	}
	if _, err := m.Join(ctx, id); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("Join after reap = %v, want invalid_handle", err)
	}
}

func TestSpawn_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxThreads = 2
	cfg.MaxStackSize = 1 << 16
	m := NewManager(cfg)
	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)

	if _, err := m.Spawn(ctx, exitWith(0), StackConfig{Size: 1 << 17}); !errors.HasKind(err, errors.KindResourceExhausted) {
		t.Errorf("oversized stack err = %v", err)
	}

	a, _ := m.Spawn(ctx, parked(release, 0), StackConfig{Size: 1024})
	if _, err := m.Spawn(ctx, parked(release, 0), StackConfig{Size: 1024}); err != nil {
		t.Fatalf("second spawn: %v", err)
	}
	if _, err := m.Spawn(ctx, exitWith(0), StackConfig{Size: 1024}); !errors.HasKind(err, errors.KindResourceExhausted) {
		t.Errorf("third spawn err = %v, want resource_exhausted", err)
	}

	_ = m.Exit(a, 0)
	if _, err := m.Spawn(ctx, exitWith(0), StackConfig{Size: 1024}); err != nil {
		t.Errorf("spawn after exit: %v", err)
	}
}

func TestSpawn_IDsNeverReused(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	seen := map[ID]bool{}
	var last ID
	for i := 0; i < 10; i++ {
		id, err := m.Spawn(ctx, exitWith(0), StackConfig{})
		if err != nil {
			t.Fatal(err)
		}
		_, _ = m.Join(ctx, id)
		_, _ = m.Reap(id)
		if seen[id] || id <= last {
			t.Fatalf("id %d reused or not increasing (last %d)", id, last)
		}
		seen[id] = true
		last = id
	}
}

func TestSpawn_DefaultStack(t *testing.T) {
	m := NewManager(DefaultConfig())
	release := make(chan struct{})
	defer close(release)
	id, _ := m.Spawn(context.Background(), parked(release, 0), StackConfig{})
	th, ok := m.Get(id)
	if !ok {
		t.Fatal("thread not found")
	}
	if th.Stack().Size != DefaultConfig().DefaultStackSize {
		t.Errorf("stack size = %d", th.Stack().Size)
	}
}

func TestExit_FirstWins(t *testing.T) {
	m := NewManager(DefaultConfig())
	release := make(chan struct{})
	id, _ := m.Spawn(context.Background(), parked(release, 9), StackConfig{})

	if err := m.Exit(id, 1); err != nil {
		t.Fatal(err)
	}
	close(release)
	th, _ := m.Get(id)
	<-th.Done()

	if code, _ := m.Join(context.Background(), id); code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
	if err := m.Exit(99, 0); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("Exit unknown = %v", err)
	}
}

func TestOnEmpty(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	var calls atomic.Int32
	var last atomic.Uint32
	m.OnEmpty(func(code uint32) {
		calls.Add(1)
		last.Store(code)
	})

	release := make(chan struct{})
	a, _ := m.Spawn(ctx, exitWith(1), StackConfig{})
	_, _ = m.Join(ctx, a)
	waitFor(t, func() bool { return calls.Load() == 1 })

	b, _ := m.Spawn(ctx, parked(release, 2), StackConfig{})
	c, _ := m.Spawn(ctx, exitWith(3), StackConfig{})
	_, _ = m.Join(ctx, c)
	if calls.Load() != 1 {
		t.Error("OnEmpty fired while a thread is live")
	}
	close(release)
	_, _ = m.Join(ctx, b)
	waitFor(t, func() bool { return calls.Load() == 2 })
	if last.Load() != 2 {
		t.Errorf("last code = %d, want 2", last.Load())
	}
}

func TestSignal_InterruptsFutexWait(t *testing.T) {
	m := NewManager(DefaultConfig())
	tbl := futex.NewTable()
	mem := memory.NewLinear(1, 0)
	ctx := context.Background()

	errc := make(chan error, 1)
	var th *Thread
	id, _ := m.Spawn(ctx, func(ctx context.Context, self *Thread) uint32 {
		_, err := self.FutexWait(ctx, tbl, mem, 8, 0, futex.Forever)
		errc <- err
		return 0
	}, StackConfig{})
	th, _ = m.Get(id)

	waitFor(t, func() bool { return th.Info().State == Blocked })
	if r := th.Info().Reason; r.Kind != BlockFutex || r.Addr != 8 {
		t.Errorf("reason = %+v", r)
	}

	if err := m.Signal(id, signal.SIGUSR1); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; !errors.HasKind(err, errors.KindInterrupted) {
		t.Fatalf("wait err = %v, want interrupted", err)
	}
	if tbl.Waiters(8) != 0 {
		t.Error("interrupted waiter still registered")
	}
	if sig, ok := th.TakeSignal(); !ok || sig != signal.SIGUSR1 {
		t.Errorf("TakeSignal = %v, %v", sig, ok)
	}
	if !th.Pending().Empty() {
		t.Error("signal should be consumed")
	}
}

func TestSignal_PendingBeforeWait(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	gate := make(chan struct{})
	errc := make(chan error, 1)

	id, _ := m.Spawn(ctx, func(ctx context.Context, self *Thread) uint32 {
		<-gate
		errc <- self.Sleep(ctx, time.Hour)
		return 0
	}, StackConfig{})

	_ = m.Signal(id, signal.SIGINT)
	close(gate)
	if err := <-errc; !errors.HasKind(err, errors.KindInterrupted) {
		t.Errorf("err = %v, want interrupted", err)
	}
}

func TestSignal_Errors(t *testing.T) {
	m := NewManager(DefaultConfig())
	if err := m.Signal(1, signal.SIGINT); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("unknown = %v", err)
	}
	id, _ := m.Spawn(context.Background(), exitWith(0), StackConfig{})
	_, _ = m.Join(context.Background(), id)
	if err := m.Signal(id, signal.SIGINT); !errors.HasKind(err, errors.KindInvalidHandle) {
		t.Errorf("exited = %v", err)
	}
	if err := m.Signal(id, signal.Signal(0)); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("invalid signal = %v", err)
	}
}

func TestThreadJoin(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	release := make(chan struct{})
	target, _ := m.Spawn(ctx, parked(release, 4), StackConfig{})

	res := make(chan uint32, 1)
	joiner, _ := m.Spawn(ctx, func(ctx context.Context, self *Thread) uint32 {
		if _, err := self.Join(ctx, self.ID()); !errors.HasKind(err, errors.KindInvalidState) {
			return 100
		}
		c, _ := self.Join(ctx, target)
		res <- c
		return 0
	}, StackConfig{})

	j, _ := m.Get(joiner)
	waitFor(t, func() bool { return j.Info().Reason.Kind == BlockJoin })
	close(release)
	if c := <-res; c != 4 {
		t.Errorf("joined code = %d", c)
	}
	if c, _ := m.Join(ctx, joiner); c != 0 {
		t.Errorf("joiner exit = %d", c)
	}
}

func TestYieldAndSleep(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	id, _ := m.Spawn(ctx, func(ctx context.Context, self *Thread) uint32 {
		if FromContext(ctx) != self {
			return 1
		}
		if err := self.Yield(ctx); err != nil {
			return 2
		}
		if err := self.Sleep(ctx, 5*time.Millisecond); err != nil {
			return 3
		}
		return 0
	}, StackConfig{})

	if code, _ := m.Join(ctx, id); code != 0 {
		t.Errorf("exit = %d", code)
	}
}

func TestClose(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()
	tbl := futex.NewTable()
	mem := memory.NewLinear(1, 0)

	var fired atomic.Bool
	m.OnEmpty(func(uint32) { fired.Store(true) })

	errc := make(chan error, 1)
	id, _ := m.Spawn(ctx, func(ctx context.Context, self *Thread) uint32 {
		_, err := self.FutexWait(ctx, tbl, mem, 0, 0, futex.Forever)
		errc <- err
		return 0
	}, StackConfig{})
	waitFor(t, func() bool { return tbl.Waiters(0) == 1 })

	m.Close(137)
	if err := <-errc; !errors.HasKind(err, errors.KindInterrupted) {
		t.Errorf("discarded wait err = %v", err)
	}
	if code, _ := m.Join(ctx, id); code != 137 {
		t.Errorf("code = %d, want 137", code)
	}
	if fired.Load() {
		t.Error("OnEmpty must not fire on Close")
	}
	if m.Live() != 0 || !m.Closed() {
		t.Error("manager should be closed and empty")
	}
	if _, err := m.Spawn(ctx, exitWith(0), StackConfig{}); !errors.HasKind(err, errors.KindInvalidState) {
		t.Errorf("spawn after close = %v", err)
	}
}

func TestContinueAndAddExited(t *testing.T) {
	m := NewManager(DefaultConfig())
	ctx := context.Background()

	if err := m.AddExited(3, 8); err != nil {
		t.Fatal(err)
	}
	if code, err := m.Join(ctx, 3); err != nil || code != 8 {
		t.Errorf("Join restored = %d, %v", code, err)
	}

	th, err := m.Continue(ctx, 5, exitWith(2), StackConfig{})
	if err != nil || th.ID() != 5 {
		t.Fatalf("Continue = %v, %v", th, err)
	}
	if _, err := m.Continue(ctx, 5, exitWith(2), StackConfig{}); !errors.HasKind(err, errors.KindInvalidState) {
		t.Errorf("duplicate id err = %v", err)
	}
	if _, err := m.Continue(ctx, 0, exitWith(2), StackConfig{}); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("zero id err = %v", err)
	}

	next, _ := m.Spawn(ctx, exitWith(0), StackConfig{})
	if next <= 5 {
		t.Errorf("next id = %d, want > 5", next)
	}

	infos := m.Threads()
	for i := 1; i < len(infos); i++ {
		if infos[i-1].ID >= infos[i].ID {
			t.Fatalf("Threads not ordered: %+v", infos)
		}
	}
}

func TestParallelismHint(t *testing.T) {
	if NewManager(DefaultConfig()).ParallelismHint() < 1 {
		t.Error("hint should be at least 1")
	}
	cfg := DefaultConfig()
	cfg.Parallelism = 3
	if NewManager(cfg).ParallelismHint() != 3 {
		t.Error("configured parallelism ignored")
	}
}

func TestStrings(t *testing.T) {
	if Blocked.String() != "blocked" || FutexWait(16).String() != "futex_wait(0x10)" || Joining(2).String() != "joining(2)" {
		t.Error("unexpected names")
	}
}
