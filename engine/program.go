package engine

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasix-runtime/memory"
	"github.com/wippyai/wasix-runtime/process"
	"github.com/wippyai/wasix-runtime/thread"
)

// TrapCode is the exit code of a thread whose guest code trapped.
const TrapCode = 1

// Program is a compiled image. Each Run instantiates it afresh.
type Program struct {
	engine   *Engine
	name     string
	entry    string
	compiled wazero.CompiledModule
}

var _ process.Program = (*Program)(nil)

// Name returns the image name.
func (p *Program) Name() string { return p.name }

// Entry returns the export Run calls.
func (p *Program) Entry() string { return p.entry }

// Run is the main thread of proc. It returns the guest's exit code.
func (p *Program) Run(ctx context.Context, proc *process.Process, t *thread.Thread, args []string) uint32 {
	return p.call(ctx, proc, t, p.entry, args)
}

// Continuation returns a fork continuation that runs export of the child's
// program over the inherited memory image.
func Continuation(export string) process.Continuation {
	return func(ctx context.Context, p *process.Process, t *thread.Thread, _ process.PID) uint32 {
		return resume(ctx, p, t, export)
	}
}

// Resume returns a restore function that runs export on every live thread
// of the restored process.
func Resume(export string) process.Resume {
	return func(ctx context.Context, p *process.Process, t *thread.Thread, _ process.ThreadRecord) uint32 {
		return resume(ctx, p, t, export)
	}
}

func resume(ctx context.Context, p *process.Process, t *thread.Thread, export string) uint32 {
	prog, ok := p.Program().(*Program)
	if !ok {
		Logger().Warn("process is not backed by a wasm program", zap.Uint32("pid", uint32(p.PID())))
		return TrapCode
	}
	return prog.call(ctx, p, t, export, p.Args())
}

func (p *Program) call(ctx context.Context, proc *process.Process, t *thread.Thread, export string, args []string) uint32 {
	e := p.engine
	name := fmt.Sprintf("%s#%d", p.name, e.seq.Add(1))
	cfg := wazero.NewModuleConfig().
		WithName(name).
		WithArgs(append([]string{p.name}, args...)...).
		WithStartFunctions()
	if e.cfg.Stdin != nil {
		cfg = cfg.WithStdin(e.cfg.Stdin)
	}
	if e.cfg.Stdout != nil {
		cfg = cfg.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		cfg = cfg.WithStderr(e.cfg.Stderr)
	}

	mod, err := e.runtime.InstantiateModule(ctx, p.compiled, cfg)
	if err != nil {
		return p.exitCode(proc, t, err)
	}
	defer func() { _ = mod.Close(context.WithoutCancel(ctx)) }()

	if mem := mod.Memory(); mem != nil {
		if proc.Inherited() {
			if src := proc.Memory(); src != nil {
				if err := memory.CopyInto(mem, src); err != nil {
					return p.exitCode(proc, t, err)
				}
			}
		}
		proc.SetMemory(memory.Wrap(mem))
	}

	fn := mod.ExportedFunction(export)
	if fn == nil {
		return p.exitCode(proc, t, fmt.Errorf("missing export %q", export))
	}
	_, err = fn.Call(ctx)
	return p.exitCode(proc, t, err)
}

func (p *Program) exitCode(proc *process.Process, t *thread.Thread, err error) uint32 {
	if err == nil {
		return 0
	}
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return exit.ExitCode()
	}
	Logger().Warn("guest trap",
		zap.String("image", p.name),
		zap.Uint32("pid", uint32(proc.PID())),
		zap.Uint32("tid", uint32(t.ID())),
		zap.Error(err))
	return TrapCode
}
