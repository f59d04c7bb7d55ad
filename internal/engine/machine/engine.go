package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// callStackCeiling is the maximum count of wasm and host frames in one call.
const callStackCeiling = 10000

// moduleEngine implements wasm.ModuleEngine for one instance.
type moduleEngine struct {
	inst *wasm.ModuleInstance
	// codes are the defined functions, in the order of the code section.
	codes         []*Code
	importedFuncs wasm.Index
}

var _ wasm.ModuleEngine = (*moduleEngine)(nil)

// NewModuleEngine returns the executor of inst, whose defined functions compiled to codes.
func NewModuleEngine(inst *wasm.ModuleInstance, codes []*Code) (wasm.ModuleEngine, error) {
	importedFuncs := inst.Module.ImportFuncCount()
	if want := len(inst.Functions) - int(importedFuncs); want != len(codes) {
		return nil, fmt.Errorf("have %d compiled functions, but the module defines %d", len(codes), want)
	}
	return &moduleEngine{inst: inst, codes: codes, importedFuncs: importedFuncs}, nil
}

// code returns the compiled body of a function defined by this instance.
func (e *moduleEngine) code(f *wasm.FunctionInstance) *Code {
	return e.codes[f.Idx-e.importedFuncs]
}

// Call implements wasm.ModuleEngine.
func (e *moduleEngine) Call(ctx context.Context, f *wasm.FunctionInstance, params []uint64) (results []uint64, err error) {
	ce := &callEngine{stack: make([]uint64, 0, 64)}
	defer func() {
		if v := recover(); v != nil {
			results, err = nil, ce.trapError(f, v)
		}
	}()

	ce.stack = append(ce.stack, params...)
	ce.callFunction(ctx, e, f)
	results = make([]uint64, len(f.Type.Results))
	copy(results, ce.stack[len(ce.stack)-len(results):])
	return results, nil
}

// hostFunctionError is raised when a host function fails, to unwind the wasm frames above it.
type hostFunctionError struct {
	name string
	err  error
}

func (e *hostFunctionError) Error() string {
	return fmt.Sprintf("host function %s failed: %v", e.name, e.err)
}

func (e *hostFunctionError) Unwrap() error {
	return e.err
}

var trapKinds = map[error]wasmerr.TrapKind{
	wasmruntime.ErrRuntimeCallStackOverflow:          wasmerr.TrapCallStackExhausted,
	wasmruntime.ErrRuntimeInvalidConversionToInteger: wasmerr.TrapInvalidConversionToInteger,
	wasmruntime.ErrRuntimeIntegerOverflow:            wasmerr.TrapIntegerOverflow,
	wasmruntime.ErrRuntimeIntegerDivideByZero:        wasmerr.TrapIntegerDivideByZero,
	wasmruntime.ErrRuntimeUnreachable:                wasmerr.TrapUnreachable,
	wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess:    wasmerr.TrapOutOfBoundsAccess,
	wasmruntime.ErrRuntimeInvalidTableAccess:         wasmerr.TrapInvalidTableAccess,
	wasmruntime.ErrRuntimeIndirectCallTypeMismatch:   wasmerr.TrapIndirectCallTypeMismatch,
	wasmruntime.ErrRuntimeUnalignedAtomic:            wasmerr.TrapUnalignedAtomic,
	wasmruntime.ErrRuntimeExpectedSharedMemory:       wasmerr.TrapExpectedSharedMemory,
}

// trapError converts a value recovered from the execution of f into a *wasmerr.Error of wasmerr.KindTrap, with the
// wasm backtrace at the point of the trap.
func (ce *callEngine) trapError(f *wasm.FunctionInstance, v any) error {
	cause, ok := v.(error)
	if !ok {
		cause = fmt.Errorf("%v", v)
	}
	b := wasmerr.New(wasmerr.PhaseCall, wasmerr.KindTrap).Function(f.Idx).Name(f.DebugName()).
		Cause(cause).Stack(ce.backtrace())

	var hostErr *hostFunctionError
	var werr *wasmerr.Error
	switch {
	case errors.As(cause, &hostErr):
		b.Trap(wasmerr.TrapHostFunction)
	case errors.As(cause, &werr) && werr.Kind == wasmerr.KindTrap:
		// A trap in a function of another engine.
		b.Trap(werr.Trap)
	default:
		if kind, ok := trapKinds[cause]; ok {
			b.Trap(kind)
		}
	}
	return b.Build()
}

// backtrace returns the names of the frames still on the call stack, innermost first.
func (ce *callEngine) backtrace() []string {
	frames := make([]string, 0, len(ce.frames))
	for i := len(ce.frames) - 1; i >= 0; i-- {
		frames = append(frames, fmt.Sprintf("%d: %s", len(ce.frames)-1-i, ce.frames[i].DebugName()))
	}
	return frames
}
