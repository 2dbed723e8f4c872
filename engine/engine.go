package engine

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/process"
)

// DefaultEntry is the export run when an image names none.
const DefaultEntry = "_start"

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal so guests can
	// use shared memory and atomics.
	EnableThreads bool

	// Entry is the export run for images that name none.
	Entry string

	// CompilationCache is shared between engines so an image loaded by
	// several of them compiles once. Nil keeps compilation per engine.
	CompilationCache wazero.CompilationCache

	// Stdio handed to every instance. Nil streams are discarded.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultConfig returns a config with threads enabled and the default entry.
func DefaultConfig() Config {
	return Config{
		EnableThreads: true,
		Entry:         DefaultEntry,
	}
}

// Engine turns wasm binaries into programs backed by one wazero runtime.
type Engine struct {
	runtime wazero.Runtime
	cfg     Config
	seq     atomic.Uint64
}

var _ process.Engine = (*Engine)(nil)

// New creates an engine with the WASI preview1 and wasix host modules
// instantiated.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Entry == "" {
		cfg.Entry = DefaultEntry
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CompilationCache != nil {
		runtimeCfg = runtimeCfg.WithCompilationCache(cfg.CompilationCache)
	}
	if cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	if _, err := instantiateWASI(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidState, err, "instantiate wasi_snapshot_preview1")
	}
	if _, err := instantiateHost(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidState, err, "instantiate "+HostModule)
	}
	return &Engine{runtime: r, cfg: cfg}, nil
}

// Load compiles img and checks that it exports its entry as a function
// without parameters.
func (e *Engine) Load(ctx context.Context, img *process.Image) (process.Program, error) {
	if img == nil {
		return nil, errors.InvalidImage("", nil)
	}
	compiled, err := e.runtime.CompileModule(ctx, img.Binary)
	if err != nil {
		return nil, errors.InvalidImage(img.Name, err)
	}

	entry := img.Entry
	if entry == "" {
		entry = e.cfg.Entry
	}
	fn, ok := compiled.ExportedFunctions()[entry]
	if !ok {
		_ = compiled.Close(ctx)
		return nil, errors.InvalidImage(img.Name, fmt.Errorf("missing export %q", entry))
	}
	if len(fn.ParamTypes()) != 0 {
		_ = compiled.Close(ctx)
		return nil, errors.InvalidImage(img.Name, fmt.Errorf("entry %q takes parameters", entry))
	}

	Logger().Debug("image loaded", zap.String("image", img.Name), zap.String("entry", entry))
	return &Program{engine: e, name: img.Name, entry: entry, compiled: compiled}, nil
}

// Close releases the runtime and every compiled program.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
