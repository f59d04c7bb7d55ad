package machine

import (
	"context"
	"fmt"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
)

// callEngine holds the state of one call into wasm: the operand stack shared by every frame, and the functions on
// the call stack. It is not shared between calls, so concurrent calls into one instance don't interfere.
type callEngine struct {
	// stack holds the locals of each frame followed by its operands. All the values are represented as uint64.
	stack  []uint64
	frames []*wasm.FunctionInstance
}

func (ce *callEngine) push(v uint64) {
	ce.stack = append(ce.stack, v)
}

func (ce *callEngine) pop() (v uint64) {
	// No need to check stack bound as the function was type checked before lowering.
	v = ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return
}

func (ce *callEngine) peek() uint64 {
	return ce.stack[len(ce.stack)-1]
}

// drop removes the values at depths r.Start to r.End, keeping the values above them.
func (ce *callEngine) drop(r *wasmir.InclusiveRange) {
	if r == nil {
		return
	}
	sp := len(ce.stack)
	if r.Start == 0 {
		ce.stack = ce.stack[:sp-1-r.End]
		return
	}
	copy(ce.stack[sp-1-r.End:], ce.stack[sp-r.Start:])
	ce.stack = ce.stack[:sp-1-r.End+r.Start]
}

func (ce *callEngine) pushFrame(f *wasm.FunctionInstance) {
	if len(ce.frames) >= callStackCeiling {
		panic(wasmruntime.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, f)
}

func (ce *callEngine) popFrame() {
	ce.frames = ce.frames[:len(ce.frames)-1]
}

// callFunction calls f, whose params are on top of the stack, and leaves its results in their place. caller is the
// engine of the calling instance.
func (ce *callEngine) callFunction(ctx context.Context, caller *moduleEngine, f *wasm.FunctionInstance) {
	switch {
	case f.IsHost():
		ce.callHostFunction(ctx, caller, f)
	case f.Instance == caller.inst:
		ce.callNative(ctx, caller, f, caller.code(f))
	default:
		if me, ok := f.Instance.Engine.(*moduleEngine); ok {
			// A function imported from another instance of this engine: keep the same stack.
			ce.callNative(ctx, me, f, me.code(f))
			return
		}
		ce.callForeign(ctx, f)
	}
}

func (ce *callEngine) callHostFunction(ctx context.Context, caller *moduleEngine, f *wasm.FunctionInstance) {
	ce.pushFrame(f)
	n := len(f.Type.Params)
	params := make([]uint64, n)
	copy(params, ce.stack[len(ce.stack)-n:])
	ce.stack = ce.stack[:len(ce.stack)-n]

	results, err := f.GoFunc(ctx, caller.inst.Memory, params)
	if err != nil {
		panic(&hostFunctionError{name: f.DebugName(), err: err})
	} else if len(results) != len(f.Type.Results) {
		panic(&hostFunctionError{name: f.DebugName(),
			err: fmt.Errorf("returned %d results, but its type has %d", len(results), len(f.Type.Results))})
	}
	// 32-bit values are zero-extended on the stack, whatever the host left in the upper bits.
	for i, v := range results {
		if t := f.Type.Results[i]; t == api.ValueTypeI32 || t == api.ValueTypeF32 {
			v = uint64(uint32(v))
		}
		ce.stack = append(ce.stack, v)
	}
	ce.popFrame()
}

// callForeign calls a function whose instance is executed by another wasm.ModuleEngine.
func (ce *callEngine) callForeign(ctx context.Context, f *wasm.FunctionInstance) {
	ce.pushFrame(f)
	n := len(f.Type.Params)
	params := make([]uint64, n)
	copy(params, ce.stack[len(ce.stack)-n:])
	ce.stack = ce.stack[:len(ce.stack)-n]

	results, err := f.Instance.Engine.Call(ctx, f, params)
	if err != nil {
		panic(err)
	}
	ce.stack = append(ce.stack, results...)
	ce.popFrame()
}

// callNative executes code, the body of f defined by the instance of e.
func (ce *callEngine) callNative(ctx context.Context, e *moduleEngine, f *wasm.FunctionInstance, code *Code) {
	ce.pushFrame(f)
	inst := e.inst
	globals := inst.Globals
	mem := inst.Memory

	// The params are already on the stack: they are the first locals.
	base := len(ce.stack) - code.NumParams
	for range code.LocalTypes {
		ce.stack = append(ce.stack, 0)
	}

	body := code.Body
	bodyLen := uint64(len(body))
	for pc := uint64(0); pc < bodyLen; {
		in := &body[pc]
		switch in.Op {
		case OpUnreachable:
			panic(wasmruntime.ErrRuntimeUnreachable)
		case OpBr:
			ce.drop(in.Drop)
			pc = in.U1
			continue
		case OpBrIf:
			if (ce.pop() != 0) != in.B3 {
				ce.drop(in.Drop)
				pc = in.U1
				continue
			}
		case OpBrTable:
			i := ce.pop()
			if last := uint64(len(in.Targets) - 1); i > last {
				i = last
			}
			t := &in.Targets[i]
			ce.drop(t.Drop)
			pc = t.Addr
			continue
		case OpCall:
			ce.callFunction(ctx, e, inst.Functions[in.U1])
		case OpCallIndirect:
			ce.callFunction(ctx, e, ce.indirectTarget(inst, in.U1))
		case OpDrop:
			ce.drop(in.Drop)
		case OpSelect:
			c := ce.pop()
			v2 := ce.pop()
			if c == 0 {
				ce.stack[len(ce.stack)-1] = v2
			}
		case OpLocalGet:
			ce.push(ce.stack[base+int(in.U1)])
		case OpLocalSet:
			ce.stack[base+int(in.U1)] = ce.pop()
		case OpLocalTee:
			ce.stack[base+int(in.U1)] = ce.peek()
		case OpGlobalGet:
			ce.push(globals[in.U1].Val)
		case OpGlobalSet:
			globals[in.U1].Val = ce.pop()
		case OpConst:
			ce.push(in.U1)
		case OpI32Load, OpI64Load, OpLoad8, OpLoad16, OpLoad32:
			ce.push(load(mem, in, ce.pop()))
		case OpI32Store, OpI64Store, OpStore8, OpStore16, OpStore32:
			v := ce.pop()
			store(mem, in, ce.pop(), v)
		case OpMemorySize:
			ce.push(uint64(mem.Pages()))
		case OpMemoryGrow:
			if prev, err := mem.Grow(uint32(ce.pop())); err != nil {
				ce.push(uint64(uint32(0xffffffff)))
			} else {
				ce.push(uint64(prev))
			}
		case OpMemoryInit:
			n, s, d := uint32(ce.pop()), uint32(ce.pop()), uint32(ce.pop())
			memoryInit(mem, inst.DataInstances[in.U1], d, s, n)
		case OpDataDrop:
			inst.DataInstances[in.U1] = nil
		case OpMemoryCopy:
			n, s, d := uint32(ce.pop()), uint32(ce.pop()), uint32(ce.pop())
			memoryCopy(mem, d, s, n)
		case OpMemoryFill:
			n, v, d := uint32(ce.pop()), byte(ce.pop()), uint32(ce.pop())
			memoryFill(mem, d, v, n)
		case OpI32Eqz:
			ce.push(b2u(uint32(ce.pop()) == 0))
		case OpI64Eqz:
			ce.push(b2u(ce.pop() == 0))
		case OpNumeric:
			ce.numeric(in)
		case OpAtomic:
			ce.atomic(mem, in)
		case OpLocalIncr:
			v := uint64(uint32(ce.stack[base+int(in.U1)]) + uint32(in.U2))
			ce.stack[base+int(in.U1)] = v
			if in.B3 {
				ce.push(v)
			}
		case OpLocalConstBinop:
			ce.push(binop(in.Binop, ce.stack[base+int(in.U1)], in.U2))
		case OpConstBinop:
			top := len(ce.stack) - 1
			ce.stack[top] = binop(in.Binop, ce.stack[top], in.U2)
		case OpCompareBrIf:
			y := ce.pop()
			if (binop(in.Binop, ce.pop(), y) != 0) != in.B3 {
				ce.drop(in.Drop)
				pc = in.U1
				continue
			}
		case OpConstCompareBrIf:
			if (binop(in.Binop, ce.pop(), in.U2) != 0) != in.B3 {
				ce.drop(in.Drop)
				pc = in.U1
				continue
			}
		default:
			if !in.Op.IsBinop() {
				panic(fmt.Sprintf("BUG: invalid opcode %s", in.Op))
			}
			y := ce.pop()
			top := len(ce.stack) - 1
			ce.stack[top] = binop(in.Op, ce.stack[top], y)
		}
		pc++
	}

	// Return: move the results down to where the params were.
	results := ce.stack[len(ce.stack)-code.NumResults:]
	copy(ce.stack[base:], results)
	ce.stack = ce.stack[:base+code.NumResults]
	ce.popFrame()
}

// indirectTarget returns the table element at the index on top of the stack, trapping unless it is a function of
// the given type.
func (ce *callEngine) indirectTarget(inst *wasm.ModuleInstance, typeIdx uint64) *wasm.FunctionInstance {
	i := ce.pop()
	table := inst.Table
	if table == nil || i >= uint64(len(table.References)) {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	f := table.References[i]
	if f == nil {
		panic(wasmruntime.ErrRuntimeInvalidTableAccess)
	}
	expected := inst.Module.TypeSection[typeIdx]
	if !f.Type.EqualsSignature(expected.Params, expected.Results) {
		panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
	}
	return f
}
