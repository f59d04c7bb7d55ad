package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Config configures an Engine. Zero fields take defaults, except Strategy which is required.
type Config struct {
	Strategy Strategy
	Features api.Features
	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
	// Registerer receives the engine metrics. When nil, metrics are collected but not exported.
	Registerer prometheus.Registerer
	// CompileParallelism bounds the functions compiled at once. Zero means runtime.GOMAXPROCS.
	CompileParallelism int
	// MemoryLimitPages is the ceiling on memory limits. Zero means wasm.MemoryLimitPages.
	MemoryLimitPages uint32
	// Limits bound the resources used to compile one function.
	Limits wasmir.Limits
}

// Engine compiles modules with one Strategy. It is safe for concurrent use.
type Engine struct {
	strategy         Strategy
	features         api.Features
	logger           *zap.Logger
	metrics          *metrics
	parallelism      int
	memoryLimitPages uint32
	limits           wasmir.Limits

	mux     sync.RWMutex
	modules map[wasm.ModuleID]*CompiledModule
	closed  bool
	// group collapses concurrent compilations of the same module.
	group singleflight.Group
}

// New returns an Engine, or an error if the metrics can't be registered.
func New(cfg Config) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, wasmerr.New(wasmerr.PhaseConfig, wasmerr.KindUnknownStrategy).Detail("no strategy").Build()
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	e := &Engine{
		strategy:         cfg.Strategy,
		features:         cfg.Features,
		logger:           cfg.Logger,
		metrics:          m,
		parallelism:      cfg.CompileParallelism,
		memoryLimitPages: cfg.MemoryLimitPages,
		limits:           cfg.Limits,
		modules:          map[wasm.ModuleID]*CompiledModule{},
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.parallelism <= 0 {
		e.parallelism = runtime.GOMAXPROCS(0)
	}
	if e.memoryLimitPages == 0 || e.memoryLimitPages > wasm.MemoryLimitPages {
		e.memoryLimitPages = wasm.MemoryLimitPages
	}
	return e, nil
}

// Strategy returns the name of the engine's strategy.
func (e *Engine) Strategy() string {
	return e.strategy.Name()
}

// Features returns the features enabled in the engine.
func (e *Engine) Features() api.Features {
	return e.features
}

// ModuleID returns the cache identity of a module binary.
func ModuleID(bin []byte) wasm.ModuleID {
	return wasm.ModuleID{Hash: xxhash.Checksum64(bin), Size: uint64(len(bin))}
}

// CompileModule decodes, validates and compiles a module binary, or returns the cached result for the same bytes.
// Concurrent calls for the same bytes compile once, and all receive the same *CompiledModule. Failures are not
// cached.
func (e *Engine) CompileModule(ctx context.Context, bin []byte) (*CompiledModule, error) {
	id := ModuleID(bin)
	if cm, ok, err := e.lookup(id); err != nil {
		return nil, err
	} else if ok {
		e.metrics.cacheHits.Inc()
		e.logger.Debug("compile cache hit", zap.String("strategy", e.strategy.Name()), zap.Uint64("module_id", id.Hash))
		return cm, nil
	}

	v, err, _ := e.group.Do(id.String(), func() (any, error) {
		// Another caller may have completed between the lookup and Do.
		if cm, ok, err := e.lookup(id); err != nil || ok {
			return cm, err
		}
		cm, err := e.compile(ctx, id, bin)
		if err != nil {
			return nil, err
		}
		e.mux.Lock()
		if !e.closed {
			e.modules[id] = cm
		}
		e.mux.Unlock()
		return cm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledModule), nil
}

func (e *Engine) lookup(id wasm.ModuleID) (*CompiledModule, bool, error) {
	e.mux.RLock()
	defer e.mux.RUnlock()
	if e.closed {
		return nil, false, wasmerr.New(wasmerr.PhaseCompile, wasmerr.KindClosed).Detail("engine closed").Build()
	}
	cm, ok := e.modules[id]
	return cm, ok, nil
}

func (e *Engine) compile(ctx context.Context, id wasm.ModuleID, bin []byte) (*CompiledModule, error) {
	start := time.Now()
	m, err := binary.DecodeModule(bin, e.features, e.memoryLimitPages)
	if err != nil {
		return nil, err
	}
	if err = m.Validate(e.features); err != nil {
		return nil, err
	}
	m.ID = id

	codes, err := e.compileFunctions(ctx, m)
	if err != nil {
		return nil, err
	}

	cm := newCompiledModule(m, codes, e)
	elapsed := time.Since(start)
	e.metrics.compilations.WithLabelValues(e.strategy.Name()).Inc()
	e.metrics.compileDuration.Observe(elapsed.Seconds())
	e.logger.Debug("compiled module",
		zap.String("strategy", e.strategy.Name()),
		zap.Uint64("module_id", id.Hash),
		zap.Int("functions", len(codes)),
		zap.Duration("duration", elapsed))
	return cm, nil
}

// compileFunctions compiles every defined function in parallel, returning the first error.
func (e *Engine) compileFunctions(ctx context.Context, m *wasm.Module) ([]*machine.Code, error) {
	imported := m.ImportFuncCount()
	codes := make([]*machine.Code, len(m.CodeSection))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range m.CodeSection {
		idx := imported + wasm.Index(i)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return wasmerr.New(wasmerr.PhaseCompile, wasmerr.KindResourceExhausted).Function(idx).
					Detail("compilation cancelled").Cause(err).Build()
			}
			code, err := e.strategy.CompileFunction(gctx, &wasmir.FunctionInput{
				Module: m, Index: idx, Features: e.features, Limits: e.limits,
			})
			if err != nil {
				return compileError(idx, err)
			}
			codes[idx-imported] = code
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

// compileError attributes err to the function, unless it already is a *wasmerr.Error.
func compileError(idx wasm.Index, err error) error {
	var werr *wasmerr.Error
	if errors.As(err, &werr) {
		return err
	}
	return wasmerr.New(wasmerr.PhaseCompile, wasmerr.KindMalformedBody).Function(idx).Cause(err).Build()
}

// CompiledModuleCount returns the count of cached modules.
func (e *Engine) CompiledModuleCount() int {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return len(e.modules)
}

// DeleteCompiledModule evicts a module from the cache. Instances of it are unaffected.
func (e *Engine) DeleteCompiledModule(id wasm.ModuleID) {
	e.mux.Lock()
	delete(e.modules, id)
	e.mux.Unlock()
}

// ObserveCall records the result of an exported function call in the metrics, and logs traps.
func (e *Engine) ObserveCall(name string, err error) {
	e.metrics.observeCall(err)
	if err != nil {
		e.logger.Debug("call failed", zap.String("function", name), zap.Error(err))
	}
}

// Close drops the cache. Later compilations fail with wasmerr.KindClosed.
func (e *Engine) Close() error {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.closed = true
	e.modules = nil
	return nil
}
