package machine

import (
	"fmt"

	"github.com/wasmtier/wasmtier/internal/wasmir"
)

// Options control lowering.
type Options struct {
	// Fuse enables superinstructions: local increments, operations on a local and a constant, and compares fused
	// with the branch consuming them.
	Fuse bool
}

// pendingTarget is a branch destination resolved once every label has an address. idx is the index in Targets, or
// -1 for U1.
type pendingTarget struct {
	instr, idx int
	label      wasmir.Label
}

type lowerer struct {
	opts    Options
	body    []Instr
	labels  map[wasmir.Label]uint64
	pending []pendingTarget
	fused   int
}

// Lower converts the IR of one function into a Code with every label resolved to an address.
func Lower(res *wasmir.CompilationResult, opts Options) (*Code, error) {
	l := &lowerer{
		opts:   opts,
		body:   make([]Instr, 0, len(res.Operations)),
		labels: make(map[wasmir.Label]uint64),
	}
	ops := res.Operations
	for i := 0; i < len(ops); {
		if opts.Fuse {
			if n := l.fuse(ops[i:]); n > 0 {
				l.fused++
				i += n
				continue
			}
		}
		l.lower(&ops[i])
		i++
	}

	for _, p := range l.pending {
		addr, ok := l.resolve(p.label)
		if !ok {
			return nil, fmt.Errorf("branch to undefined label %s", p.label)
		}
		if p.idx < 0 {
			l.body[p.instr].U1 = addr
		} else {
			l.body[p.instr].Targets[p.idx].Addr = addr
		}
	}

	return &Code{
		Body:           l.body,
		NumParams:      len(res.Signature.Params),
		NumResults:     len(res.Signature.Results),
		LocalTypes:     res.LocalTypes,
		MaxStackHeight: res.MaxStackHeight,
		Fused:          l.fused,
	}, nil
}

func (l *lowerer) resolve(label wasmir.Label) (uint64, bool) {
	if label.IsReturn() {
		return returnAddress, true
	}
	addr, ok := l.labels[label]
	return addr, ok
}

func (l *lowerer) emit(in Instr) {
	l.body = append(l.body, in)
}

// emitBranch emits in, which branches to target through U1.
func (l *lowerer) emitBranch(in Instr, target wasmir.BranchTarget) {
	in.Drop = target.ToDrop
	l.pending = append(l.pending, pendingTarget{instr: len(l.body), idx: -1, label: target.Label})
	l.emit(in)
}

func (l *lowerer) lower(op *wasmir.Operation) {
	switch op.Kind {
	case wasmir.OperationKindLabel:
		// Labels take no space: they are the address of the next instruction.
		l.labels[op.Label] = uint64(len(l.body))
	case wasmir.OperationKindUnreachable:
		l.emit(Instr{Op: OpUnreachable})
	case wasmir.OperationKindBr:
		l.emitBranch(Instr{Op: OpBr}, op.Targets[0])
	case wasmir.OperationKindBrIf:
		l.emitBranch(Instr{Op: OpBrIf, B3: op.B3}, op.Targets[0])
	case wasmir.OperationKindBrTable:
		in := Instr{Op: OpBrTable, Targets: make([]Target, len(op.Targets))}
		for i, t := range op.Targets {
			in.Targets[i].Drop = t.ToDrop
			l.pending = append(l.pending, pendingTarget{instr: len(l.body), idx: i, label: t.Label})
		}
		l.emit(in)
	case wasmir.OperationKindCall:
		l.emit(Instr{Op: OpCall, U1: op.U1})
	case wasmir.OperationKindCallIndirect:
		l.emit(Instr{Op: OpCallIndirect, U1: op.U1})
	case wasmir.OperationKindDrop:
		l.emit(Instr{Op: OpDrop, Drop: op.Range})
	case wasmir.OperationKindSelect:
		l.emit(Instr{Op: OpSelect})
	case wasmir.OperationKindLocalGet:
		l.emit(Instr{Op: OpLocalGet, U1: op.U1})
	case wasmir.OperationKindLocalSet:
		l.emit(Instr{Op: OpLocalSet, U1: op.U1})
	case wasmir.OperationKindLocalTee:
		l.emit(Instr{Op: OpLocalTee, U1: op.U1})
	case wasmir.OperationKindGlobalGet:
		l.emit(Instr{Op: OpGlobalGet, U1: op.U1})
	case wasmir.OperationKindGlobalSet:
		l.emit(Instr{Op: OpGlobalSet, U1: op.U1})
	case wasmir.OperationKindLoad:
		code := OpI32Load
		if t := wasmir.UnsignedType(op.B1); t == wasmir.UnsignedTypeI64 || t == wasmir.UnsignedTypeF64 {
			code = OpI64Load
		}
		l.emit(Instr{Op: code, U1: op.U1})
	case wasmir.OperationKindLoad8:
		l.emit(Instr{Op: OpLoad8, B1: op.B1, U1: op.U1})
	case wasmir.OperationKindLoad16:
		l.emit(Instr{Op: OpLoad16, B1: op.B1, U1: op.U1})
	case wasmir.OperationKindLoad32:
		l.emit(Instr{Op: OpLoad32, B3: op.B3, U1: op.U1})
	case wasmir.OperationKindStore:
		code := OpI32Store
		if t := wasmir.UnsignedType(op.B1); t == wasmir.UnsignedTypeI64 || t == wasmir.UnsignedTypeF64 {
			code = OpI64Store
		}
		l.emit(Instr{Op: code, U1: op.U1})
	case wasmir.OperationKindStore8:
		l.emit(Instr{Op: OpStore8, U1: op.U1})
	case wasmir.OperationKindStore16:
		l.emit(Instr{Op: OpStore16, U1: op.U1})
	case wasmir.OperationKindStore32:
		l.emit(Instr{Op: OpStore32, U1: op.U1})
	case wasmir.OperationKindMemorySize:
		l.emit(Instr{Op: OpMemorySize})
	case wasmir.OperationKindMemoryGrow:
		l.emit(Instr{Op: OpMemoryGrow})
	case wasmir.OperationKindMemoryInit:
		l.emit(Instr{Op: OpMemoryInit, U1: op.U1})
	case wasmir.OperationKindDataDrop:
		l.emit(Instr{Op: OpDataDrop, U1: op.U1})
	case wasmir.OperationKindMemoryCopy:
		l.emit(Instr{Op: OpMemoryCopy})
	case wasmir.OperationKindMemoryFill:
		l.emit(Instr{Op: OpMemoryFill})
	case wasmir.OperationKindConstI32, wasmir.OperationKindConstI64, wasmir.OperationKindConstF32,
		wasmir.OperationKindConstF64:
		l.emit(Instr{Op: OpConst, U1: op.U1})
	case wasmir.OperationKindEqz:
		if wasmir.UnsignedInt(op.B1) == wasmir.UnsignedInt32 {
			l.emit(Instr{Op: OpI32Eqz})
		} else {
			l.emit(Instr{Op: OpI64Eqz})
		}
	case wasmir.OperationKindAtomicFence:
		// Every atomic access holds the memory lock, which already orders them.
	case wasmir.OperationKindAtomicMemoryWait, wasmir.OperationKindAtomicMemoryNotify, wasmir.OperationKindAtomicLoad,
		wasmir.OperationKindAtomicStore, wasmir.OperationKindAtomicRMW, wasmir.OperationKindAtomicCmpxchg:
		l.emit(Instr{Op: OpAtomic, Kind: op.Kind, B1: op.B1, B2: op.B2, U1: op.U1, U2: op.U2})
	default:
		if code, ok := specializedBinop(op); ok {
			l.emit(Instr{Op: code})
			return
		}
		l.emit(Instr{Op: OpNumeric, Kind: op.Kind, B1: op.B1, B2: op.B2, B3: op.B3})
	}
}

// specializedBinop returns the opcode of an integer operation evaluated by binop.
func specializedBinop(op *wasmir.Operation) (Opcode, bool) {
	switch op.Kind {
	case wasmir.OperationKindAdd, wasmir.OperationKindSub, wasmir.OperationKindMul, wasmir.OperationKindEq,
		wasmir.OperationKindNe:
		var base Opcode
		switch op.Kind {
		case wasmir.OperationKindAdd:
			base = OpI32Add
		case wasmir.OperationKindSub:
			base = OpI32Sub
		case wasmir.OperationKindMul:
			base = OpI32Mul
		case wasmir.OperationKindEq:
			base = OpI32Eq
		default:
			base = OpI32Ne
		}
		switch wasmir.UnsignedType(op.B1) {
		case wasmir.UnsignedTypeI32:
			return base, true
		case wasmir.UnsignedTypeI64:
			return i64Variant(base), true
		}
	case wasmir.OperationKindAnd, wasmir.OperationKindOr, wasmir.OperationKindXor, wasmir.OperationKindShl:
		var base Opcode
		switch op.Kind {
		case wasmir.OperationKindAnd:
			base = OpI32And
		case wasmir.OperationKindOr:
			base = OpI32Or
		case wasmir.OperationKindXor:
			base = OpI32Xor
		default:
			base = OpI32Shl
		}
		if wasmir.UnsignedInt(op.B1) == wasmir.UnsignedInt32 {
			return base, true
		}
		return i64Variant(base), true
	case wasmir.OperationKindShr:
		switch wasmir.SignedInt(op.B1) {
		case wasmir.SignedInt32:
			return OpI32ShrS, true
		case wasmir.SignedUint32:
			return OpI32ShrU, true
		case wasmir.SignedInt64:
			return OpI64ShrS, true
		default:
			return OpI64ShrU, true
		}
	case wasmir.OperationKindLt, wasmir.OperationKindGt, wasmir.OperationKindLe, wasmir.OperationKindGe:
		var signed Opcode
		switch op.Kind {
		case wasmir.OperationKindLt:
			signed = OpI32LtS
		case wasmir.OperationKindGt:
			signed = OpI32GtS
		case wasmir.OperationKindLe:
			signed = OpI32LeS
		default:
			signed = OpI32GeS
		}
		// Each signed comparison is directly followed by its unsigned one.
		switch wasmir.SignedType(op.B1) {
		case wasmir.SignedTypeInt32:
			return signed, true
		case wasmir.SignedTypeUint32:
			return signed + 1, true
		case wasmir.SignedTypeInt64:
			return i64Variant(signed), true
		case wasmir.SignedTypeUint64:
			return i64Variant(signed) + 1, true
		}
	}
	return 0, false
}

// i64Variant returns the i64 opcode of an i32 binop, relying on both groups being declared in the same order.
func i64Variant(op Opcode) Opcode {
	if op.IsCompare() {
		return op + (OpI64Eq - OpI32Eq)
	}
	return op + (OpI64Add - OpI32Add)
}
