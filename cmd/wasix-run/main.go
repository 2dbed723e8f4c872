package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/wippyai/wasix-runtime/engine"
	"github.com/wippyai/wasix-runtime/futex"
	"github.com/wippyai/wasix-runtime/process"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/signal"
	"github.com/wippyai/wasix-runtime/thread"
	"github.com/wippyai/wasix-runtime/vfs"
)

type options struct {
	wasm       string
	entry      string
	argv       string
	stdio      string
	maxProcs   int
	maxThreads int
	pages      uint
	trace      bool
	top        bool
}

func main() {
	var o options
	flag.StringVar(&o.wasm, "wasm", "", "Path to wasm module")
	flag.StringVar(&o.entry, "entry", engine.DefaultEntry, "Export to run")
	flag.StringVar(&o.argv, "argv", "", "CLI arguments (comma-separated)")
	flag.StringVar(&o.stdio, "stdio", "piped", "Stdio mode: piped, inherit, null, log")
	flag.IntVar(&o.maxProcs, "max-procs", process.DefaultConfig().MaxProcesses, "Process table limit (0 = unlimited)")
	flag.IntVar(&o.maxThreads, "max-threads", thread.DefaultConfig().MaxThreads, "Threads per process (0 = unlimited)")
	flag.UintVar(&o.pages, "memory-pages", 0, "Memory limit per instance in 64KB pages (0 = default)")
	flag.BoolVar(&o.trace, "trace", false, "Log runtime events to stderr")
	flag.BoolVar(&o.top, "top", false, "Show a live process table")
	flag.Parse()

	if o.wasm == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasix-run -wasm <file.wasm> [-entry name] [-argv a,b] [-stdio piped|inherit|null|log]")
		fmt.Fprintln(os.Stderr, "       wasix-run -wasm <file.wasm> -top  (live process table)")
		os.Exit(1)
	}

	code, err := run(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(code))
}

func setLoggers(l *zap.Logger) {
	futex.SetLogger(l)
	thread.SetLogger(l)
	process.SetLogger(l)
	vfs.SetLogger(l)
	engine.SetLogger(l)
}

// rootOf returns f's readiness root, if it has one.
func rootOf(f vfs.VirtualFile) vfs.RootRegistrar {
	r, _ := f.(vfs.RootRegistrar)
	return r
}

func run(o options) (uint32, error) {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := zap.NewNop()
	if o.trace {
		l, err := zap.NewDevelopment()
		if err != nil {
			return 0, fmt.Errorf("create logger: %w", err)
		}
		log = l
		defer func() { _ = log.Sync() }()
	}
	setLoggers(log)

	mode, err := vfs.ParseStdioMode(o.stdio)
	if err != nil {
		return 0, err
	}
	if o.top && mode == vfs.StdioInherit {
		return 0, fmt.Errorf("-top needs the terminal; use -stdio piped, null or log")
	}

	data, err := os.ReadFile(o.wasm)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	stdio := vfs.NewStdio(mode, log.Named("guest"))
	ecfg := engine.DefaultConfig()
	ecfg.Entry = o.entry
	ecfg.MemoryLimitPages = uint32(o.pages)
	ecfg.Stdin = vfs.NewStreamReader(ctx, stdio.In, rootOf(stdio.In))
	ecfg.Stdout = vfs.NewStreamWriter(ctx, stdio.Out, rootOf(stdio.Out))
	ecfg.Stderr = vfs.NewStreamWriter(ctx, stdio.Err, rootOf(stdio.Err))

	e, err := engine.New(ctx, ecfg)
	if err != nil {
		return 0, fmt.Errorf("create engine: %w", err)
	}
	defer func() { _ = e.Close(context.Background()) }()

	// Piped output is drained by pumps; the pipes close once the root
	// process is gone.
	var pumps []*sched.Handle
	if mode == vfs.StdioPiped {
		exec := sched.NewExecutor(2)
		defer exec.Close()
		pumps = append(pumps,
			exec.Spawn(ctx, vfs.NewPump(stdio.Out, rootOf(stdio.Out), outputFor(o.top, os.Stdout))),
			exec.Spawn(ctx, vfs.NewPump(stdio.Err, rootOf(stdio.Err), outputFor(o.top, os.Stderr))))
		if !o.top {
			go feed(ctx, stdio.In, os.Stdin)
		}
	}

	pcfg := process.DefaultConfig()
	pcfg.MaxProcesses = o.maxProcs
	pcfg.Threads.MaxThreads = o.maxThreads
	procs := process.NewManager(e, pcfg)

	var args []string
	if o.argv != "" {
		args = strings.Split(o.argv, ",")
	}
	img := &process.Image{
		Name:   strings.TrimSuffix(filepath.Base(o.wasm), filepath.Ext(o.wasm)),
		Binary: data,
		Entry:  o.entry,
	}
	pid, err := procs.Spawn(ctx, 0, img, args)
	if err != nil {
		return 0, fmt.Errorf("spawn: %w", err)
	}
	if err := procs.SetReaper(pid); err != nil {
		return 0, err
	}
	log.Debug("root process started", zap.Uint32("pid", uint32(pid)), zap.String("image", img.Name))

	p, _ := procs.Get(pid)
	go func() {
		select {
		case <-ctx.Done():
			_ = procs.Signal(pid, signal.SIGINT)
		case <-p.Done():
		}
	}()

	if o.top {
		prog := tea.NewProgram(newTopModel(procs, pid, p.Done()), tea.WithAltScreen())
		if _, err := prog.Run(); err != nil {
			return 0, fmt.Errorf("process view: %w", err)
		}
	}

	_, status, err := procs.WaitChild(context.Background(), 0, pid)
	if err != nil {
		return 0, err
	}
	_ = stdio.Close()
	for _, h := range pumps {
		_ = h.Wait(context.Background())
	}

	log.Debug("root process exited", zap.Uint32("pid", uint32(pid)), zap.Stringer("status", status))
	return status.Code, nil
}

// outputFor keeps guest output off the terminal while the process view
// owns it.
func outputFor(top bool, w io.Writer) io.Writer {
	if top {
		return io.Discard
	}
	return w
}

// feed copies host stdin into the guest's stdin pipe and closes it at end
// of file.
func feed(ctx context.Context, in vfs.VirtualFile, src io.Reader) {
	_, _ = io.Copy(vfs.NewStreamWriter(ctx, in, rootOf(in)), src)
	if c, ok := in.(io.Closer); ok {
		_ = c.Close()
	}
}
