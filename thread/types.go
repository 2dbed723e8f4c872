package thread

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/wippyai/wasix-runtime/signal"
)

// ID identifies a thread within its process. Zero is never assigned.
type ID uint32

// State is the lifecycle state of a thread.
type State int

const (
	Running State = iota
	Blocked
	Exited
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// BlockKind says what a blocked thread waits for.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockFutex
	BlockSleep
	BlockIO
	BlockJoin
)

// BlockReason describes a blocked thread's suspension point.
type BlockReason struct {
	Kind     BlockKind
	Addr     uint64    // BlockFutex
	Deadline time.Time // BlockSleep
	Target   ID        // BlockJoin
}

// FutexWait is the reason of a thread waiting on addr.
func FutexWait(addr uint64) BlockReason {
	return BlockReason{Kind: BlockFutex, Addr: addr}
}

// Sleeping is the reason of a thread sleeping until deadline.
func Sleeping(deadline time.Time) BlockReason {
	return BlockReason{Kind: BlockSleep, Deadline: deadline}
}

// IOWait is the reason of a thread waiting for readiness.
func IOWait() BlockReason {
	return BlockReason{Kind: BlockIO}
}

// Joining is the reason of a thread waiting for target to exit.
func Joining(target ID) BlockReason {
	return BlockReason{Kind: BlockJoin, Target: target}
}

func (r BlockReason) String() string {
	switch r.Kind {
	case BlockFutex:
		return fmt.Sprintf("futex_wait(0x%x)", r.Addr)
	case BlockSleep:
		return "sleep"
	case BlockIO:
		return "io_wait"
	case BlockJoin:
		return fmt.Sprintf("joining(%d)", r.Target)
	default:
		return ""
	}
}

// StackConfig describes a thread's guest stack.
type StackConfig struct {
	Base uint64
	Size uint64
}

// Entry is the body of a thread. Its return value is the exit code.
type Entry func(ctx context.Context, t *Thread) uint32

// Launcher starts the execution context of a spawned thread.
type Launcher interface {
	Launch(ctx context.Context, t *Thread, run func(ctx context.Context))
}

// GoLauncher runs each thread on its own goroutine.
type GoLauncher struct{}

func (GoLauncher) Launch(ctx context.Context, _ *Thread, run func(ctx context.Context)) {
	go run(ctx)
}

// Config bounds a thread manager.
type Config struct {
	// MaxThreads caps live threads; zero means no limit.
	MaxThreads int

	// MaxStackSize caps StackConfig.Size; zero means no limit.
	MaxStackSize uint64

	// DefaultStackSize replaces a zero StackConfig.Size.
	DefaultStackSize uint64

	// Parallelism is reported by ParallelismHint; zero means GOMAXPROCS.
	Parallelism int

	Launcher Launcher
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxThreads:       1024,
		MaxStackSize:     64 << 20,
		DefaultStackSize: 1 << 20,
	}
}

// Info is a point-in-time view of a thread.
type Info struct {
	ID       ID
	State    State
	Reason   BlockReason
	ExitCode uint32
	Pending  signal.Set
	Stack    StackConfig
}

type ctxKeyThread struct{}

// WithThread returns ctx carrying t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, ctxKeyThread{}, t)
}

// FromContext returns the thread carried by ctx, if any.
func FromContext(ctx context.Context) *Thread {
	t, _ := ctx.Value(ctxKeyThread{}).(*Thread)
	return t
}

func parallelism(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
