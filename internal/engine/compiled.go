package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

// CompiledModule is the immutable result of compiling a module. It implements wasm.CompiledCode, so it can be
// instantiated any number of times.
type CompiledModule struct {
	Module *wasm.Module
	// Codes are the defined functions, in the order of the code section.
	Codes []*machine.Code
	// Exports are keyed by name.
	Exports map[string]*wasm.Export
	// Data are the data segment offsets known at compile time.
	Data []wasm.DataOffset
	// Strategy is the name of the strategy that compiled the module.
	Strategy string

	engine *Engine
}

var (
	_ wasm.CompiledCode  = (*CompiledModule)(nil)
	_ wasm.DataOffsetter = (*CompiledModule)(nil)
)

func newCompiledModule(m *wasm.Module, codes []*machine.Code, e *Engine) *CompiledModule {
	cm := &CompiledModule{
		Module:   m,
		Codes:    codes,
		Exports:  make(map[string]*wasm.Export, len(m.ExportSection)),
		Data:     wasm.PrecomputeDataOffsets(m),
		Strategy: e.strategy.Name(),
		engine:   e,
	}
	for _, exp := range m.ExportSection {
		cm.Exports[exp.Name] = exp
	}
	return cm
}

// ID returns the cache identity of the module.
func (c *CompiledModule) ID() wasm.ModuleID {
	return c.Module.ID
}

// FusedInstructions returns the count of superinstructions across all functions.
func (c *CompiledModule) FusedInstructions() (n int) {
	for _, code := range c.Codes {
		n += code.Fused
	}
	return
}

// DataOffsets implements wasm.DataOffsetter.
func (c *CompiledModule) DataOffsets() []wasm.DataOffset {
	return c.Data
}

// NewModuleEngine implements wasm.CompiledCode.
func (c *CompiledModule) NewModuleEngine(inst *wasm.ModuleInstance) (wasm.ModuleEngine, error) {
	return machine.NewModuleEngine(inst, c.Codes)
}

// Instantiate binds the module to imports, applies segments and runs the start function.
func (c *CompiledModule) Instantiate(ctx context.Context, imports wasm.Imports) (*wasm.ModuleInstance, error) {
	start := time.Now()
	inst, err := wasm.Instantiate(ctx, c.Module, c, imports)
	if err != nil {
		c.engine.logger.Debug("instantiation failed", zap.Uint64("module_id", c.Module.ID.Hash), zap.Error(err))
		return nil, err
	}
	c.engine.logger.Debug("instantiated module",
		zap.String("strategy", c.Strategy),
		zap.Uint64("module_id", c.Module.ID.Hash),
		zap.Duration("duration", time.Since(start)))
	return inst, nil
}
