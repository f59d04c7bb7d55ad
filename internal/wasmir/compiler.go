package wasmir

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

const (
	// DefaultMaxStackHeight is the default limit of operand stack values in one function.
	DefaultMaxStackHeight = 1 << 16
	// DefaultMaxLabels is the default limit of control frames in one function.
	DefaultMaxLabels = 1 << 20

	// cancellationCheckInterval is how many instructions are compiled between checks of the context.
	cancellationCheckInterval = 1 << 12
)

// Limits bound the resources used to compile one function. Zero fields take the defaults.
type Limits struct {
	MaxStackHeight int
	MaxLabels      int
}

// FunctionInput identifies one function to compile.
type FunctionInput struct {
	Module *wasm.Module
	// Index is in the function index space, so it counts imported functions first.
	Index    wasm.Index
	Features api.Features
	Limits   Limits
}

// CompilationResult is the IR of one function.
type CompilationResult struct {
	Operations []Operation
	Signature  *wasm.FunctionType
	// LocalTypes are the locals declared by the function body, which follow the params in the local index space.
	LocalTypes []api.ValueType
	// MaxStackHeight is the largest height reached by the operand stack, excluding params and locals.
	MaxStackHeight int
	// UsesMemory is true if any operation reads, writes or grows the memory.
	UsesMemory bool
}

// NumLocals returns the count of params and declared locals.
func (r *CompilationResult) NumLocals() int {
	return len(r.Signature.Params) + len(r.LocalTypes)
}

type controlFrameKind byte

const (
	controlFrameKindBlockWithContinuationLabel controlFrameKind = iota
	controlFrameKindBlockWithoutContinuationLabel
	controlFrameKindFunction
	controlFrameKindLoop
	controlFrameKindIfWithElse
	controlFrameKindIfWithoutElse
)

type (
	controlFrame struct {
		frameID uint32
		// originalStackLen is the operand stack height when entering the frame.
		originalStackLen int
		results          []UnsignedType
		kind             controlFrameKind
	}
	controlFrames struct{ frames []*controlFrame }
)

func (c *controlFrame) ensureContinuation() {
	// Make sure that if the frame is block and doesn't have continuation,
	// change the kind so we can emit the continuation block
	// later when we reach the end instruction of this frame.
	if c.kind == controlFrameKindBlockWithoutContinuationLabel {
		c.kind = controlFrameKindBlockWithContinuationLabel
	}
}

func (c *controlFrame) asLabel() Label {
	switch c.kind {
	case controlFrameKindLoop:
		return Label{FrameID: c.frameID, Kind: LabelKindHeader}
	case controlFrameKindFunction:
		return ReturnLabel
	default:
		return Label{FrameID: c.frameID, Kind: LabelKindContinuation}
	}
}

// branchArity is the types a branch to this frame carries: nothing for a loop, which restarts, or the results.
func (c *controlFrame) branchArity() []UnsignedType {
	if c.kind == controlFrameKindLoop {
		return nil
	}
	return c.results
}

func (c *controlFrames) functionFrame() *controlFrame {
	return c.frames[0]
}

func (c *controlFrames) get(n int) *controlFrame {
	return c.frames[len(c.frames)-n-1]
}

func (c *controlFrames) top() *controlFrame {
	return c.frames[len(c.frames)-1]
}

func (c *controlFrames) empty() bool {
	return len(c.frames) == 0
}

func (c *controlFrames) pop() (frame *controlFrame) {
	frame = c.top()
	c.frames = c.frames[:len(c.frames)-1]
	return
}

func (c *controlFrames) push(frame *controlFrame) {
	c.frames = append(c.frames, frame)
}

type compiler struct {
	ctx      context.Context
	module   *wasm.Module
	features api.Features
	limits   Limits
	funcIdx  wasm.Index

	sig        *wasm.FunctionType
	localTypes []UnsignedType
	globals    []*wasm.GlobalType
	funcCount  uint32
	hasMemory  bool
	usesMemory bool

	r             *bytes.Reader
	stack         []UnsignedType
	maxStack      int
	currentID     uint32
	controlFrames *controlFrames
	// unreachableState is on after a stack-polymorphic instruction, until the end of the enclosing frame.
	unreachableState struct {
		on    bool
		depth int
	}
	instructions int
	// opName is the name of the instruction being compiled, for errors.
	opName string
	result []Operation
}

// instruction is one decoded instruction with its immediates.
type instruction struct {
	opcode wasm.Opcode
	sub    uint32
	index  uint32
	// targets are the br_table label depths, with the default last.
	targets   []uint32
	imm       memoryImmediate
	blockType []UnsignedType
	raw       uint64
}

type memoryImmediate struct {
	offset, alignment uint32
}

// Compile lowers the function body into IR operations, type checking it and rejecting unsupported or disabled
// instructions. Errors are *wasmerr.Error in wasmerr.PhaseCompile with the function index set.
func Compile(ctx context.Context, in *FunctionInput) (*CompilationResult, error) {
	m := in.Module
	importCount := m.ImportFuncCount()
	if in.Index < importCount || int(in.Index-importCount) >= len(m.CodeSection) {
		return nil, fmt.Errorf("function[%d] is not defined in the module", in.Index)
	}
	code := m.CodeSection[in.Index-importCount]
	sig := m.TypeOfFunction(in.Index)
	if sig == nil {
		return nil, fmt.Errorf("function[%d] has no type", in.Index)
	}

	c := &compiler{
		ctx:           ctx,
		module:        m,
		features:      in.Features,
		limits:        in.Limits,
		funcIdx:       in.Index,
		sig:           sig,
		globals:       m.GlobalTypes(),
		funcCount:     importCount + uint32(len(m.FunctionSection)),
		hasMemory:     m.MemoryType() != nil,
		r:             bytes.NewReader(code.Body),
		controlFrames: &controlFrames{},
	}
	if c.limits.MaxStackHeight <= 0 {
		c.limits.MaxStackHeight = DefaultMaxStackHeight
	}
	if c.limits.MaxLabels <= 0 {
		c.limits.MaxLabels = DefaultMaxLabels
	}
	c.localTypes = append(valueTypesToUnsignedTypes(sig.Params), valueTypesToUnsignedTypes(code.LocalTypes)...)

	// Insert the function control frame.
	c.controlFrames.push(&controlFrame{
		frameID: c.nextID(),
		results: valueTypesToUnsignedTypes(sig.Results),
		kind:    controlFrameKindFunction,
	})

	// Now enter the function body.
	for !c.controlFrames.empty() {
		if err := c.handleInstruction(); err != nil {
			return nil, err
		}
	}
	if c.r.Len() > 0 {
		return nil, c.malformed("%d bytes after the end of the function", c.r.Len())
	}
	return &CompilationResult{
		Operations:     c.result,
		Signature:      sig,
		LocalTypes:     code.LocalTypes,
		MaxStackHeight: c.maxStack,
		UsesMemory:     c.usesMemory,
	}, nil
}

// handleInstruction decodes the next instruction, and unless it is in unreachable code, type checks it and emits the
// corresponding operations.
func (c *compiler) handleInstruction() error {
	c.instructions++
	if c.instructions%cancellationCheckInterval == 0 {
		if err := c.ctx.Err(); err != nil {
			return c.errorBuilder(wasmerr.KindResourceExhausted).Detail("compilation cancelled").Cause(err).Build()
		}
	}

	inst, err := c.decode()
	if err != nil {
		return err
	}

	if c.unreachableState.on {
		return c.handleUnreachable(inst)
	}
	if err = c.lower(inst); err != nil {
		return err
	}
	if c.maxStack > c.limits.MaxStackHeight {
		return c.errorBuilder(wasmerr.KindResourceExhausted).
			Detail("operand stack exceeds %d values", c.limits.MaxStackHeight).Build()
	}
	return nil
}

// handleUnreachable tracks nesting in unreachable code until the enclosing frame ends or its else begins.
func (c *compiler) handleUnreachable(inst *instruction) error {
	switch inst.opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		c.unreachableState.depth++
	case wasm.OpcodeElse:
		if c.unreachableState.depth > 0 {
			return nil
		}
		frame := c.controlFrames.top()
		if frame.kind != controlFrameKindIfWithoutElse {
			return c.malformed("else without matching if")
		}
		// We are no longer unreachable in else frame,
		// so emit the correct label, and reset the unreachable state.
		frame.kind = controlFrameKindIfWithElse
		c.stack = c.stack[:frame.originalStackLen]
		c.unreachableState.on = false
		c.emit(NewOperationLabel(Label{FrameID: frame.frameID, Kind: LabelKindElse}))
	case wasm.OpcodeEnd:
		if c.unreachableState.depth > 0 {
			c.unreachableState.depth--
			return nil
		}
		c.unreachableState.on = false
		frame := c.controlFrames.pop()
		if c.controlFrames.empty() {
			return nil
		}
		c.stack = c.stack[:frame.originalStackLen]
		for _, t := range frame.results {
			c.push(t)
		}
		c.emitFrameEnd(frame)
	}
	return nil
}

// lower type checks a reachable instruction and emits its operations.
func (c *compiler) lower(inst *instruction) error {
	switch inst.opcode {
	case wasm.OpcodeUnreachable:
		c.emit(Operation{Kind: OperationKindUnreachable})
		c.markUnreachable()
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock:
		return c.pushFrame(controlFrameKindBlockWithoutContinuationLabel, inst.blockType)
	case wasm.OpcodeLoop:
		if err := c.pushFrame(controlFrameKindLoop, inst.blockType); err != nil {
			return err
		}
		c.emit(NewOperationLabel(Label{FrameID: c.controlFrames.top().frameID, Kind: LabelKindHeader}))
	case wasm.OpcodeIf:
		if err := c.popType(UnsignedTypeI32); err != nil {
			return err
		}
		if err := c.pushFrame(controlFrameKindIfWithoutElse, inst.blockType); err != nil {
			return err
		}
		elseLabel := Label{FrameID: c.controlFrames.top().frameID, Kind: LabelKindElse}
		// Zero skips the then block.
		c.emit(NewOperationBrIf(BranchTarget{Label: elseLabel}, true))
	case wasm.OpcodeElse:
		frame := c.controlFrames.top()
		if frame.kind != controlFrameKindIfWithoutElse {
			return c.malformed("else without matching if")
		}
		if err := c.checkFrameResults(frame); err != nil {
			return err
		}
		frame.kind = controlFrameKindIfWithElse
		c.stack = c.stack[:frame.originalStackLen]
		c.emit(
			NewOperationBr(BranchTarget{Label: Label{FrameID: frame.frameID, Kind: LabelKindContinuation}}),
			NewOperationLabel(Label{FrameID: frame.frameID, Kind: LabelKindElse}),
		)
	case wasm.OpcodeEnd:
		frame := c.controlFrames.top()
		if err := c.checkFrameResults(frame); err != nil {
			return err
		}
		c.controlFrames.pop()
		if frame.kind == controlFrameKindFunction {
			c.emit(NewOperationBr(BranchTarget{Label: ReturnLabel}))
			return nil
		}
		if frame.kind == controlFrameKindIfWithoutElse && len(frame.results) > 0 {
			return c.malformed("if without else must not have results")
		}
		c.emitFrameEnd(frame)
	case wasm.OpcodeBr:
		target, err := c.branchTarget(inst.index)
		if err != nil {
			return err
		}
		c.emit(NewOperationBr(target))
		c.markUnreachable()
	case wasm.OpcodeBrIf:
		if err := c.popType(UnsignedTypeI32); err != nil {
			return err
		}
		target, err := c.branchTarget(inst.index)
		if err != nil {
			return err
		}
		c.emit(NewOperationBrIf(target, false))
	case wasm.OpcodeBrTable:
		if err := c.popType(UnsignedTypeI32); err != nil {
			return err
		}
		defaultDepth := inst.targets[len(inst.targets)-1]
		if defaultDepth >= uint32(len(c.controlFrames.frames)) {
			return c.malformed("invalid br_table default target %d", defaultDepth)
		}
		arity := c.controlFrames.get(int(defaultDepth)).branchArity()
		targets := make([]BranchTarget, len(inst.targets))
		for i, depth := range inst.targets {
			if depth < uint32(len(c.controlFrames.frames)) {
				if other := c.controlFrames.get(int(depth)).branchArity(); !typesEqual(arity, other) {
					return c.malformed("br_table targets have inconsistent types %v and %v", arity, other)
				}
			}
			target, err := c.branchTarget(depth)
			if err != nil {
				return err
			}
			targets[i] = target
		}
		c.emit(Operation{Kind: OperationKindBrTable, Targets: targets})
		c.markUnreachable()
	case wasm.OpcodeReturn:
		if err := c.checkTopTypes(c.controlFrames.functionFrame().results); err != nil {
			return err
		}
		c.emit(NewOperationBr(BranchTarget{Label: ReturnLabel}))
		c.markUnreachable()
	case wasm.OpcodeCall:
		if inst.index >= c.funcCount {
			return c.malformed("invalid function index %d", inst.index)
		}
		ft := c.module.TypeOfFunction(inst.index)
		if ft == nil {
			return c.malformed("function[%d] has no type", inst.index)
		}
		if err := c.applySignature(callSignature(ft)); err != nil {
			return err
		}
		c.emit(Operation{Kind: OperationKindCall, U1: uint64(inst.index)})
	case wasm.OpcodeCallIndirect:
		if !c.module.HasTable() {
			return c.malformed("call_indirect requires a table")
		}
		if inst.index >= uint32(len(c.module.TypeSection)) {
			return c.malformed("invalid type index %d", inst.index)
		}
		if err := c.popType(UnsignedTypeI32); err != nil {
			return err
		}
		if err := c.applySignature(callSignature(c.module.TypeSection[inst.index])); err != nil {
			return err
		}
		c.emit(Operation{Kind: OperationKindCallIndirect, U1: uint64(inst.index)})
	case wasm.OpcodeDrop:
		if _, err := c.pop(); err != nil {
			return err
		}
		c.emit(NewOperationDrop(&InclusiveRange{Start: 0, End: 0}))
	case wasm.OpcodeSelect:
		if err := c.popType(UnsignedTypeI32); err != nil {
			return err
		}
		t2, err := c.pop()
		if err != nil {
			return err
		}
		if err = c.popType(t2); err != nil {
			return err
		}
		c.push(t2)
		c.emit(Operation{Kind: OperationKindSelect})
	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee:
		return c.lowerLocal(inst)
	case wasm.OpcodeGlobalGet:
		if inst.index >= uint32(len(c.globals)) {
			return c.malformed("invalid global index %d", inst.index)
		}
		c.push(valueTypeToUnsignedType(c.globals[inst.index].ValType))
		c.emit(Operation{Kind: OperationKindGlobalGet, U1: uint64(inst.index)})
	case wasm.OpcodeGlobalSet:
		if inst.index >= uint32(len(c.globals)) {
			return c.malformed("invalid global index %d", inst.index)
		}
		g := c.globals[inst.index]
		if !g.Mutable {
			return c.malformed("global[%d] is immutable", inst.index)
		}
		if err := c.popType(valueTypeToUnsignedType(g.ValType)); err != nil {
			return err
		}
		c.emit(Operation{Kind: OperationKindGlobalSet, U1: uint64(inst.index)})
	case wasm.OpcodeMemorySize:
		if err := c.requireMemory(); err != nil {
			return err
		}
		c.push(UnsignedTypeI32)
		c.emit(Operation{Kind: OperationKindMemorySize})
	case wasm.OpcodeMemoryGrow:
		if err := c.requireMemory(); err != nil {
			return err
		}
		if err := c.applySignature(signature_I32_I32); err != nil {
			return err
		}
		c.emit(Operation{Kind: OperationKindMemoryGrow})
	case wasm.OpcodeI32Const:
		c.push(UnsignedTypeI32)
		c.emit(NewOperationConstI32(uint32(inst.raw)))
	case wasm.OpcodeI64Const:
		c.push(UnsignedTypeI64)
		c.emit(NewOperationConstI64(inst.raw))
	case wasm.OpcodeF32Const:
		c.push(UnsignedTypeF32)
		c.emit(Operation{Kind: OperationKindConstF32, U1: inst.raw})
	case wasm.OpcodeF64Const:
		c.push(UnsignedTypeF64)
		c.emit(Operation{Kind: OperationKindConstF64, U1: inst.raw})
	case wasm.OpcodeMiscPrefix:
		return c.lowerMisc(inst)
	case wasm.OpcodeAtomicPrefix:
		return c.lowerAtomic(inst)
	default:
		if info, ok := memoryAccessOperation(inst.opcode); ok {
			return c.lowerMemoryAccess(info, inst.imm, false)
		}
		s, op, ok := numericOperation(inst.opcode)
		if !ok {
			return c.malformed("invalid instruction")
		}
		if err := c.applySignature(s); err != nil {
			return err
		}
		c.emit(op)
	}
	return nil
}

func (c *compiler) lowerLocal(inst *instruction) error {
	if inst.index >= uint32(len(c.localTypes)) {
		return c.malformed("invalid local index %d", inst.index)
	}
	t := c.localTypes[inst.index]
	var kind OperationKind
	switch inst.opcode {
	case wasm.OpcodeLocalGet:
		kind = OperationKindLocalGet
		c.push(t)
	case wasm.OpcodeLocalSet:
		kind = OperationKindLocalSet
		if err := c.popType(t); err != nil {
			return err
		}
	default:
		kind = OperationKindLocalTee
		if err := c.popType(t); err != nil {
			return err
		}
		c.push(t)
	}
	c.emit(NewOperationLocal(kind, inst.index))
	return nil
}

func (c *compiler) lowerMisc(inst *instruction) error {
	switch op := wasm.OpcodeMisc(inst.sub); op {
	case wasm.OpcodeMiscMemoryInit, wasm.OpcodeMiscDataDrop:
		if c.module.DataCountSection == nil {
			return c.malformed("%s requires the data count section", c.opName)
		} else if inst.index >= *c.module.DataCountSection {
			return c.malformed("invalid data segment index %d", inst.index)
		}
		if op == wasm.OpcodeMiscDataDrop {
			c.emit(Operation{Kind: OperationKindDataDrop, U1: uint64(inst.index)})
			return nil
		}
		if err := c.requireMemory(); err != nil {
			return err
		}
		if err := c.applySignature(signature_I32I32I32_None); err != nil {
			return err
		}
		c.emit(Operation{Kind: OperationKindMemoryInit, U1: uint64(inst.index)})
	case wasm.OpcodeMiscMemoryCopy, wasm.OpcodeMiscMemoryFill:
		if err := c.requireMemory(); err != nil {
			return err
		}
		if err := c.applySignature(signature_I32I32I32_None); err != nil {
			return err
		}
		kind := OperationKindMemoryCopy
		if op == wasm.OpcodeMiscMemoryFill {
			kind = OperationKindMemoryFill
		}
		c.emit(Operation{Kind: kind})
	default:
		s, o := truncSatOperation(op)
		if err := c.applySignature(s); err != nil {
			return err
		}
		c.emit(o)
	}
	return nil
}

func (c *compiler) lowerAtomic(inst *instruction) error {
	if inst.sub == uint32(wasm.OpcodeAtomicFence) {
		c.emit(Operation{Kind: OperationKindAtomicFence})
		return nil
	}
	info, _ := atomicOperation(wasm.OpcodeAtomic(inst.sub))
	return c.lowerMemoryAccess(info, inst.imm, true)
}

func (c *compiler) lowerMemoryAccess(info memoryAccessInfo, imm memoryImmediate, atomic bool) error {
	if err := c.requireMemory(); err != nil {
		return err
	}
	if atomic && imm.alignment != info.widthLog2 {
		return c.malformed("atomic alignment must be %d, but was %d", info.widthLog2, imm.alignment)
	} else if imm.alignment > info.widthLog2 {
		return c.malformed("alignment %d is larger than natural alignment %d", imm.alignment, info.widthLog2)
	}
	if err := c.applySignature(info.s); err != nil {
		return err
	}
	op := info.o
	op.U1, op.U2 = uint64(imm.offset), uint64(imm.alignment)
	if atomic {
		// The alignment of an atomic access is always its width.
		op.U2 = uint64(info.widthLog2)
	}
	c.emit(op)
	return nil
}

func (c *compiler) requireMemory() error {
	if !c.hasMemory {
		return c.malformed("%s requires a memory", c.opName)
	}
	c.usesMemory = true
	return nil
}

func (c *compiler) pushFrame(kind controlFrameKind, results []UnsignedType) error {
	if int(c.currentID) >= c.limits.MaxLabels {
		return c.errorBuilder(wasmerr.KindResourceExhausted).
			Detail("more than %d labels", c.limits.MaxLabels).Build()
	}
	c.controlFrames.push(&controlFrame{
		frameID:          c.nextID(),
		originalStackLen: len(c.stack),
		results:          results,
		kind:             kind,
	})
	return nil
}

// emitFrameEnd emits the labels at the end of a frame other than the function, after its results are on the stack.
func (c *compiler) emitFrameEnd(frame *controlFrame) {
	continuationLabel := Label{FrameID: frame.frameID, Kind: LabelKindContinuation}
	switch frame.kind {
	case controlFrameKindIfWithoutElse:
		// The else branch is empty, so it falls through to the continuation.
		c.emit(
			NewOperationLabel(Label{FrameID: frame.frameID, Kind: LabelKindElse}),
			NewOperationLabel(continuationLabel),
		)
	case controlFrameKindBlockWithContinuationLabel, controlFrameKindIfWithElse:
		c.emit(NewOperationLabel(continuationLabel))
	}
}

// branchTarget type checks a branch to the frame at depth and returns its target, dropping what the frame doesn't
// keep.
func (c *compiler) branchTarget(depth uint32) (BranchTarget, error) {
	if depth >= uint32(len(c.controlFrames.frames)) {
		return BranchTarget{}, c.malformed("invalid branch depth %d", depth)
	}
	frame := c.controlFrames.get(int(depth))
	arity := frame.branchArity()
	if err := c.checkTopTypes(arity); err != nil {
		return BranchTarget{}, err
	}
	frame.ensureContinuation()
	if frame.kind == controlFrameKindFunction {
		// Returning copies the results to the caller, regardless of what is below them.
		return BranchTarget{Label: ReturnLabel}, nil
	}
	return BranchTarget{Label: frame.asLabel(), ToDrop: c.getFrameDropRange(frame, len(arity))}, nil
}

// getFrameDropRange returns the range (starting from top of the stack) that spans across the stack. The range is
// supposed to be dropped from the stack when branching to the given frame, keeping the top keep values.
func (c *compiler) getFrameDropRange(frame *controlFrame, keep int) *InclusiveRange {
	start := keep
	end := len(c.stack) - 1 - frame.originalStackLen
	if start <= end {
		return &InclusiveRange{Start: start, End: end}
	}
	return nil
}

func (c *compiler) markUnreachable() {
	// The instruction is stack-polymorphic, so the remaining instructions of this frame are unreachable, and can be
	// safely removed.
	c.unreachableState.on = true
}

// checkFrameResults verifies the stack holds exactly the frame's results above where it started.
func (c *compiler) checkFrameResults(frame *controlFrame) error {
	if len(c.stack) != frame.originalStackLen+len(frame.results) {
		return c.malformed("expected %d values at the end of the block, but found %d",
			len(frame.results), len(c.stack)-frame.originalStackLen)
	}
	return c.checkTopTypes(frame.results)
}

// checkTopTypes verifies the top of the stack has the given types without popping them.
func (c *compiler) checkTopTypes(types []UnsignedType) error {
	base := c.controlFrames.top().originalStackLen
	if len(c.stack)-base < len(types) {
		return c.malformed("expected %d values on the stack, but found %d", len(types), len(c.stack)-base)
	}
	top := c.stack[len(c.stack)-len(types):]
	for i, t := range types {
		if top[i] != t {
			return c.malformed("type mismatch: expected %s, but was %s", t, top[i])
		}
	}
	return nil
}

// applySignature pops the inputs and pushes the outputs of s.
func (c *compiler) applySignature(s *signature) error {
	for i := len(s.in) - 1; i >= 0; i-- {
		if err := c.popType(s.in[i]); err != nil {
			return err
		}
	}
	for _, t := range s.out {
		c.push(t)
	}
	return nil
}

func callSignature(ft *wasm.FunctionType) *signature {
	return &signature{in: valueTypesToUnsignedTypes(ft.Params), out: valueTypesToUnsignedTypes(ft.Results)}
}

func (c *compiler) pop() (UnsignedType, error) {
	if len(c.stack) <= c.controlFrames.top().originalStackLen {
		return 0, c.malformed("operand stack underflow")
	}
	ret := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return ret, nil
}

func (c *compiler) popType(want UnsignedType) error {
	actual, err := c.pop()
	if err != nil {
		return err
	}
	if actual != want {
		return c.malformed("type mismatch: expected %s, but was %s", want, actual)
	}
	return nil
}

func (c *compiler) push(t UnsignedType) {
	c.stack = append(c.stack, t)
	if len(c.stack) > c.maxStack {
		c.maxStack = len(c.stack)
	}
}

func (c *compiler) nextID() (id uint32) {
	id = c.currentID + 1
	c.currentID++
	return
}

// Emit the operations into the result.
func (c *compiler) emit(ops ...Operation) {
	if !c.unreachableState.on {
		for _, op := range ops {
			if op.Kind == OperationKindDrop && op.Range == nil {
				// An empty drop happens when there's no need to adjust stack before jmp.
				continue
			}
			c.result = append(c.result, op)
		}
	}
}

func typesEqual(a, b []UnsignedType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decode reads the next instruction and its immediates. Instructions outside the supported set are rejected here, so
// they are rejected even in unreachable code.
func (c *compiler) decode() (*instruction, error) {
	op, err := c.r.ReadByte()
	if err != nil {
		c.opName = ""
		return nil, c.malformed("unexpected end of function body")
	}
	inst := &instruction{opcode: op}
	c.opName = wasm.InstructionName(op)
	if c.opName == "" {
		c.opName = fmt.Sprintf("0x%x", op)
	}

	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		inst.blockType, err = c.readBlockType()
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall, wasm.OpcodeLocalGet, wasm.OpcodeLocalSet,
		wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		inst.index, err = c.readU32("index")
	case wasm.OpcodeBrTable:
		err = c.readBrTable(inst)
	case wasm.OpcodeCallIndirect:
		if inst.index, err = c.readU32("type index"); err == nil {
			err = c.readReserved("table index")
		}
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		err = c.readReserved("memory index")
	case wasm.OpcodeI32Const:
		var v int32
		if v, _, err = leb128.DecodeInt32(c.r); err == nil {
			inst.raw = uint64(uint32(v))
		}
	case wasm.OpcodeI64Const:
		var v int64
		if v, _, err = leb128.DecodeInt64(c.r); err == nil {
			inst.raw = uint64(v)
		}
	case wasm.OpcodeF32Const:
		var buf [4]byte
		if _, err = io.ReadFull(c.r, buf[:]); err == nil {
			inst.raw = uint64(binary.LittleEndian.Uint32(buf[:]))
		}
	case wasm.OpcodeF64Const:
		var buf [8]byte
		if _, err = io.ReadFull(c.r, buf[:]); err == nil {
			inst.raw = binary.LittleEndian.Uint64(buf[:])
		}
	case wasm.OpcodeMiscPrefix:
		return inst, c.decodeMisc(inst)
	case wasm.OpcodeAtomicPrefix:
		return inst, c.decodeAtomic(inst)
	case opcodeVecPrefix:
		c.opName = "simd"
		return nil, c.unsupported("simd", "SIMD instructions are not supported")
	case opcodeRefNull, opcodeRefIsNull, opcodeRefFunc, opcodeTypedSelect, opcodeTableGet, opcodeTableSet:
		c.opName = referenceTypesNames[op]
		return nil, c.unsupported("reference_types", "reference types are not supported")
	case wasm.OpcodeI32Extend8S, wasm.OpcodeI32Extend16S, wasm.OpcodeI64Extend8S, wasm.OpcodeI64Extend16S,
		wasm.OpcodeI64Extend32S:
		return inst, c.requireFeature(api.FeatureSignExtensionOps)
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeElse, wasm.OpcodeEnd, wasm.OpcodeReturn,
		wasm.OpcodeDrop, wasm.OpcodeSelect:
	default:
		if _, ok := memoryAccessOperation(op); ok {
			inst.imm, err = c.readMemoryImmediate()
		} else if _, _, ok = numericOperation(op); !ok {
			return nil, c.malformed("invalid opcode")
		}
	}
	if err != nil {
		return nil, c.malformedCause(err)
	}
	return inst, nil
}

// Opcodes of the reference-types and SIMD proposals, decoded only to reject them.
const (
	opcodeTypedSelect wasm.Opcode = 0x1c
	opcodeTableGet    wasm.Opcode = 0x25
	opcodeTableSet    wasm.Opcode = 0x26
	opcodeRefNull     wasm.Opcode = 0xd0
	opcodeRefIsNull   wasm.Opcode = 0xd1
	opcodeRefFunc     wasm.Opcode = 0xd2
	opcodeVecPrefix   wasm.Opcode = 0xfd

	opcodeMiscTableInit wasm.OpcodeMisc = 0x0c
	opcodeMiscTableFill wasm.OpcodeMisc = 0x11
)

var referenceTypesNames = map[wasm.Opcode]string{
	opcodeTypedSelect: "select",
	opcodeTableGet:    "table.get",
	opcodeTableSet:    "table.set",
	opcodeRefNull:     "ref.null",
	opcodeRefIsNull:   "ref.is_null",
	opcodeRefFunc:     "ref.func",
}

// tableInstructionNames are the OpcodeMiscPrefix table instructions, from opcodeMiscTableInit.
var tableInstructionNames = []string{"table.init", "elem.drop", "table.copy", "table.grow", "table.size", "table.fill"}

func (c *compiler) decodeMisc(inst *instruction) (err error) {
	if inst.sub, err = c.readU32("misc opcode"); err != nil {
		return c.malformedCause(err)
	}
	if inst.sub >= uint32(opcodeMiscTableInit) && inst.sub <= uint32(opcodeMiscTableFill) {
		c.opName = tableInstructionNames[inst.sub-uint32(opcodeMiscTableInit)]
		return c.unsupported("reference_types", "table instructions are not supported")
	}
	if inst.sub > 0xff || wasm.MiscInstructionName(wasm.OpcodeMisc(inst.sub)) == "" {
		return c.malformed("invalid misc opcode 0x%x", inst.sub)
	}
	op := wasm.OpcodeMisc(inst.sub)
	c.opName = wasm.MiscInstructionName(op)
	switch op {
	case wasm.OpcodeMiscMemoryInit:
		if err = c.requireFeature(api.FeatureBulkMemoryOperations); err != nil {
			return err
		}
		if inst.index, err = c.readU32("data index"); err == nil {
			err = c.readReserved("memory index")
		}
	case wasm.OpcodeMiscDataDrop:
		if err = c.requireFeature(api.FeatureBulkMemoryOperations); err != nil {
			return err
		}
		inst.index, err = c.readU32("data index")
	case wasm.OpcodeMiscMemoryCopy:
		if err = c.requireFeature(api.FeatureBulkMemoryOperations); err != nil {
			return err
		}
		if err = c.readReserved("memory index"); err == nil {
			err = c.readReserved("memory index")
		}
	case wasm.OpcodeMiscMemoryFill:
		if err = c.requireFeature(api.FeatureBulkMemoryOperations); err != nil {
			return err
		}
		err = c.readReserved("memory index")
	default:
		return c.requireFeature(api.FeatureNonTrappingFloatToIntConversion)
	}
	if err != nil {
		return c.malformedCause(err)
	}
	return nil
}

func (c *compiler) decodeAtomic(inst *instruction) (err error) {
	if inst.sub, err = c.readU32("atomic opcode"); err != nil {
		return c.malformedCause(err)
	}
	if inst.sub > 0xff || wasm.AtomicInstructionName(wasm.OpcodeAtomic(inst.sub)) == "" {
		return c.malformed("invalid atomic opcode 0x%x", inst.sub)
	}
	c.opName = wasm.AtomicInstructionName(wasm.OpcodeAtomic(inst.sub))
	if err = c.requireFeature(api.FeatureThreads); err != nil {
		return err
	}
	if inst.sub == uint32(wasm.OpcodeAtomicFence) {
		err = c.readReserved("fence flags")
	} else {
		inst.imm, err = c.readMemoryImmediate()
	}
	if err != nil {
		return c.malformedCause(err)
	}
	return nil
}

func (c *compiler) readBlockType() ([]UnsignedType, error) {
	raw, _, err := leb128.DecodeInt33AsInt64(c.r)
	if err != nil {
		return nil, fmt.Errorf("read block type: %w", err)
	}
	switch raw {
	case -64: // 0x40 in original byte = nil
		return nil, nil
	case -1: // 0x7f in original byte = i32
		return []UnsignedType{UnsignedTypeI32}, nil
	case -2: // 0x7e in original byte = i64
		return []UnsignedType{UnsignedTypeI64}, nil
	case -3: // 0x7d in original byte = f32
		return []UnsignedType{UnsignedTypeF32}, nil
	case -4: // 0x7c in original byte = f64
		return []UnsignedType{UnsignedTypeF64}, nil
	}
	if raw >= 0 {
		return nil, c.unsupported("multi_value", "block type index %d requires multi-value", raw)
	}
	return nil, fmt.Errorf("invalid block type: %d", raw)
}

func (c *compiler) readBrTable(inst *instruction) error {
	numTargets, err := c.readU32("number of targets in br_table")
	if err != nil {
		return err
	}
	if uint64(numTargets) > uint64(c.r.Len()) {
		return fmt.Errorf("br_table has %d targets, but only %d bytes remain", numTargets, c.r.Len())
	}
	// Read the branch targets, plus the default.
	inst.targets = make([]uint32, numTargets+1)
	for i := range inst.targets {
		if inst.targets[i], err = c.readU32("br_table target"); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) readMemoryImmediate() (memoryImmediate, error) {
	alignment, err := c.readU32("alignment")
	if err != nil {
		return memoryImmediate{}, err
	}
	offset, err := c.readU32("offset")
	if err != nil {
		return memoryImmediate{}, err
	}
	return memoryImmediate{offset: offset, alignment: alignment}, nil
}

func (c *compiler) readU32(what string) (uint32, error) {
	v, _, err := leb128.DecodeUint32(c.r)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", what, err)
	}
	return v, nil
}

// readReserved reads a byte which must be zero, such as the memory index where only one memory is allowed.
func (c *compiler) readReserved(what string) error {
	b, err := c.r.ReadByte()
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	}
	if b != 0 {
		return fmt.Errorf("%s must be zero, but was %d", what, b)
	}
	return nil
}

func (c *compiler) errorBuilder(kind wasmerr.Kind) *wasmerr.Builder {
	b := wasmerr.New(wasmerr.PhaseCompile, kind).Function(c.funcIdx)
	if c.opName != "" {
		b = b.Opcode(c.opName)
	}
	return b
}

func (c *compiler) malformed(format string, args ...any) error {
	return c.errorBuilder(wasmerr.KindMalformedBody).Detail(format, args...).Build()
}

// malformedCause converts a decoding error into a KindMalformedBody error, unless it is already typed.
func (c *compiler) malformedCause(err error) error {
	if _, ok := err.(*wasmerr.Error); ok {
		return err
	}
	return c.errorBuilder(wasmerr.KindMalformedBody).Cause(err).Build()
}

func (c *compiler) unsupported(feature string, format string, args ...any) error {
	return c.errorBuilder(wasmerr.KindUnsupportedFeature).Name(feature).Detail(format, args...).Build()
}

func (c *compiler) requireFeature(feature api.Features) error {
	if err := c.features.RequireEnabled(feature); err != nil {
		return c.errorBuilder(wasmerr.KindDisabledFeature).Name(api.FeatureName(feature)).Cause(err).Build()
	}
	return nil
}
