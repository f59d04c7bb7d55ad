package machine

import "github.com/wasmtier/wasmtier/internal/wasmir"

// fuse emits one superinstruction for the operations at the head of ops, and returns how many it replaced, or zero
// if no pattern matches.
func (l *lowerer) fuse(ops []wasmir.Operation) int {
	if n := l.fuseLocalIncr(ops); n > 0 {
		return n
	}
	if n := l.fuseConstCompareBrIf(ops); n > 0 {
		return n
	}
	if n := l.fuseCompareBrIf(ops); n > 0 {
		return n
	}
	if n := l.fuseLocalConstBinop(ops); n > 0 {
		return n
	}
	return l.fuseConstBinop(ops)
}

func isConst(op *wasmir.Operation) bool {
	return op.Kind == wasmir.OperationKindConstI32 || op.Kind == wasmir.OperationKindConstI64
}

// fuseLocalIncr matches local.get x; i32.const c; i32.add or i32.sub; local.set x or local.tee x.
func (l *lowerer) fuseLocalIncr(ops []wasmir.Operation) int {
	if len(ops) < 4 || ops[0].Kind != wasmir.OperationKindLocalGet || ops[1].Kind != wasmir.OperationKindConstI32 {
		return 0
	}
	code, ok := specializedBinop(&ops[2])
	if !ok || (code != OpI32Add && code != OpI32Sub) {
		return 0
	}
	set := &ops[3]
	if (set.Kind != wasmir.OperationKindLocalSet && set.Kind != wasmir.OperationKindLocalTee) || set.U1 != ops[0].U1 {
		return 0
	}
	delta := uint32(ops[1].U1)
	if code == OpI32Sub {
		delta = -delta
	}
	l.emit(Instr{Op: OpLocalIncr, U1: ops[0].U1, U2: uint64(delta), B3: set.Kind == wasmir.OperationKindLocalTee})
	return 4
}

// fuseConstCompareBrIf matches a constant, an integer comparison and br_if.
func (l *lowerer) fuseConstCompareBrIf(ops []wasmir.Operation) int {
	if len(ops) < 3 || !isConst(&ops[0]) || ops[2].Kind != wasmir.OperationKindBrIf {
		return 0
	}
	code, ok := specializedBinop(&ops[1])
	if !ok || !code.IsCompare() {
		return 0
	}
	l.emitBranch(Instr{Op: OpConstCompareBrIf, Binop: code, U2: ops[0].U1, B3: ops[2].B3}, ops[2].Targets[0])
	return 3
}

// fuseCompareBrIf matches an integer comparison and br_if.
func (l *lowerer) fuseCompareBrIf(ops []wasmir.Operation) int {
	if len(ops) < 2 || ops[1].Kind != wasmir.OperationKindBrIf {
		return 0
	}
	code, ok := specializedBinop(&ops[0])
	if !ok || !code.IsCompare() {
		return 0
	}
	l.emitBranch(Instr{Op: OpCompareBrIf, Binop: code, B3: ops[1].B3}, ops[1].Targets[0])
	return 2
}

// fuseLocalConstBinop matches local.get x, a constant and an integer binop. A comparison feeding br_if is left to
// fuseConstCompareBrIf.
func (l *lowerer) fuseLocalConstBinop(ops []wasmir.Operation) int {
	if len(ops) < 3 || ops[0].Kind != wasmir.OperationKindLocalGet || !isConst(&ops[1]) {
		return 0
	}
	code, ok := specializedBinop(&ops[2])
	if !ok {
		return 0
	}
	if code.IsCompare() && len(ops) > 3 && ops[3].Kind == wasmir.OperationKindBrIf {
		return 0
	}
	l.emit(Instr{Op: OpLocalConstBinop, Binop: code, U1: ops[0].U1, U2: ops[1].U1})
	return 3
}

// fuseConstBinop matches a constant and an integer binop.
func (l *lowerer) fuseConstBinop(ops []wasmir.Operation) int {
	if len(ops) < 2 || !isConst(&ops[0]) {
		return 0
	}
	code, ok := specializedBinop(&ops[1])
	if !ok {
		return 0
	}
	l.emit(Instr{Op: OpConstBinop, Binop: code, U2: ops[0].U1})
	return 2
}
