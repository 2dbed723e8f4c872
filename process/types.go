package process

import (
	"context"
	"fmt"

	wasix "github.com/wippyai/wasix-runtime"
	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/memory"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
)

// PID identifies a process. Zero means "none": it is the parent of root
// processes and the value fork returns in the child.
type PID uint32

// AnyChild makes WaitChild wait for whichever child exits first.
const AnyChild PID = 0

// ExecFailedCode is the exit code of a process whose exec failed after
// its old image was discarded.
const ExecFailedCode = 127

// State is the lifecycle state of a process.
type State int32

const (
	Running State = iota
	Forking
	Execing
	Zombie
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Forking:
		return "forking"
	case Execing:
		return "execing"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// ExitStatus is how a process ended. Signal is zero unless a signal's
// default action killed it, in which case Code is 128+Signal.
type ExitStatus struct {
	Code   uint32
	Signal signal.Signal
}

func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("killed by %s", s.Signal)
	}
	return fmt.Sprintf("exit %d", s.Code)
}

// Image is an executable as handed to Spawn and Exec.
type Image struct {
	Name   string
	Binary []byte
	// Entry is the exported function to run; empty means the engine default.
	Entry string
}

// Program is a loaded image. Run is the body of a process's main thread
// and returns its exit code.
type Program interface {
	Run(ctx context.Context, p *Process, t *thread.Thread, args []string) uint32
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, p *Process, t *thread.Thread, args []string) uint32

func (f ProgramFunc) Run(ctx context.Context, p *Process, t *thread.Thread, args []string) uint32 {
	return f(ctx, p, t, args)
}

// Engine validates images and turns them into programs.
type Engine interface {
	Load(ctx context.Context, img *Image) (Program, error)
}

// Programs is an Engine serving native programs by image name.
type Programs map[string]Program

func (ps Programs) Load(_ context.Context, img *Image) (Program, error) {
	if img == nil {
		return nil, errors.InvalidImage("", nil)
	}
	p, ok := ps[img.Name]
	if !ok {
		return nil, errors.InvalidImage(img.Name, fmt.Errorf("no program named %q", img.Name))
	}
	return p, nil
}

// Continuation is the child side of a fork. forkRet is the value fork
// returns in the child, always 0.
type Continuation func(ctx context.Context, p *Process, t *thread.Thread, forkRet PID) uint32

// Config bounds a process manager.
type Config struct {
	// MaxProcesses caps the process table, zombies included; zero means
	// no limit.
	MaxProcesses int

	// Threads configures each process's thread manager.
	Threads thread.Config

	// Memory creates the linear memory of a new image.
	Memory func() (wasix.Memory, error)
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxProcesses: 256,
		Threads:      thread.DefaultConfig(),
		Memory:       NewLinearMemory,
	}
}

// NewLinearMemory creates a one page host memory that may grow to the
// 32-bit limit.
func NewLinearMemory() (wasix.Memory, error) {
	return memory.NewLinear(1, memory.MaxPages32), nil
}

// Info is a point-in-time view of a process.
type Info struct {
	PID     PID
	Parent  PID
	State   State
	Image   string
	Args    []string
	Threads int
	Status  ExitStatus
	Pending signal.Set
}

type ctxKeyProcess struct{}

// WithProcess returns ctx carrying p.
func WithProcess(ctx context.Context, p *Process) context.Context {
	return context.WithValue(ctx, ctxKeyProcess{}, p)
}

// FromContext returns the process carried by ctx, if any.
func FromContext(ctx context.Context) *Process {
	p, _ := ctx.Value(ctxKeyProcess{}).(*Process)
	return p
}
