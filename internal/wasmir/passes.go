package wasmir

import (
	"math/bits"
)

// Pass rewrites operations into equivalent ones. It returns whether anything changed.
type Pass struct {
	Name string
	Run  func(ops []Operation) ([]Operation, bool)
}

// maxOptimizeRounds bounds the fixed point iteration. Each pass only shrinks or rewrites in place, so this is reached
// only on pathological inputs.
const maxOptimizeRounds = 32

// Passes are the optimizations run by the optimizing tiers, in order.
var Passes = []Pass{
	{Name: "fold_constants", Run: FoldConstants},
	{Name: "local_set_get_to_tee", Run: LocalSetGetToTee},
	{Name: "remove_push_drop", Run: RemovePushDrop},
	{Name: "invert_eqz_br_if", Run: InvertEqzBrIf},
	{Name: "eliminate_dead_code", Run: EliminateDeadCode},
	{Name: "remove_branch_to_next", Run: RemoveBranchToNext},
	{Name: "remove_unreferenced_labels", Run: RemoveUnreferencedLabels},
}

// Optimize runs the passes until none of them changes the operations.
func Optimize(ops []Operation, passes []Pass) []Operation {
	for round := 0; round < maxOptimizeRounds; round++ {
		changed := false
		for _, p := range passes {
			var c bool
			ops, c = p.Run(ops)
			changed = changed || c
		}
		if !changed {
			break
		}
	}
	return ops
}

// FoldConstants replaces integer operations on constant operands with their result. Operations which can trap, such
// as division, are left alone.
func FoldConstants(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := range ops {
		op := ops[i]
		n := len(out)
		if n >= 2 && isIntConst(&out[n-2]) && isIntConst(&out[n-1]) {
			if v, kind, ok := foldBinary(&op, out[n-2].U1, out[n-1].U1); ok {
				out = append(out[:n-2], Operation{Kind: kind, U1: v})
				changed = true
				continue
			}
		}
		if n >= 1 && isIntConst(&out[n-1]) {
			if v, kind, ok := foldUnary(&op, out[n-1].U1); ok {
				out[n-1] = Operation{Kind: kind, U1: v}
				changed = true
				continue
			}
		}
		out = append(out, op)
	}
	return out, changed
}

func isIntConst(op *Operation) bool {
	return op.Kind == OperationKindConstI32 || op.Kind == OperationKindConstI64
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// foldBinary evaluates a non-trapping binary integer operation on x and y, which are raw stack values.
func foldBinary(op *Operation, x, y uint64) (v uint64, kind OperationKind, ok bool) {
	is32, ok := intOperandIs32(op)
	if !ok {
		return 0, 0, false
	}
	kind = OperationKindConstI64
	if is32 {
		kind = OperationKindConstI32
	}
	switch op.Kind {
	case OperationKindAdd:
		v = x + y
	case OperationKindSub:
		v = x - y
	case OperationKindMul:
		v = x * y
	case OperationKindAnd:
		v = x & y
	case OperationKindOr:
		v = x | y
	case OperationKindXor:
		v = x ^ y
	case OperationKindShl:
		if is32 {
			v = uint64(uint32(x) << (y & 31))
		} else {
			v = x << (y & 63)
		}
	case OperationKindShr:
		switch SignedInt(op.B1) {
		case SignedInt32:
			v = uint64(uint32(int32(x) >> (y & 31)))
		case SignedUint32:
			v = uint64(uint32(x) >> (y & 31))
		case SignedInt64:
			v = uint64(int64(x) >> (y & 63))
		default:
			v = x >> (y & 63)
		}
	case OperationKindRotl:
		if is32 {
			v = uint64(bits.RotateLeft32(uint32(x), int(y&31)))
		} else {
			v = bits.RotateLeft64(x, int(y&63))
		}
	case OperationKindRotr:
		if is32 {
			v = uint64(bits.RotateLeft32(uint32(x), -int(y&31)))
		} else {
			v = bits.RotateLeft64(x, -int(y&63))
		}
	case OperationKindEq:
		v, kind = boolToU64(x == y), OperationKindConstI32
	case OperationKindNe:
		v, kind = boolToU64(x != y), OperationKindConstI32
	case OperationKindLt, OperationKindGt, OperationKindLe, OperationKindGe:
		v, kind = boolToU64(compareInts(op.Kind, SignedType(op.B1), x, y)), OperationKindConstI32
	default:
		return 0, 0, false
	}
	if kind == OperationKindConstI32 {
		v = uint64(uint32(v))
	}
	return v, kind, true
}

func compareInts(kind OperationKind, t SignedType, x, y uint64) bool {
	var c int // -1, 0 or 1
	switch t {
	case SignedTypeInt32:
		a, b := int32(x), int32(y)
		c = compareResult(a < b, a > b)
	case SignedTypeUint32:
		a, b := uint32(x), uint32(y)
		c = compareResult(a < b, a > b)
	case SignedTypeInt64:
		a, b := int64(x), int64(y)
		c = compareResult(a < b, a > b)
	default:
		c = compareResult(x < y, x > y)
	}
	switch kind {
	case OperationKindLt:
		return c < 0
	case OperationKindGt:
		return c > 0
	case OperationKindLe:
		return c <= 0
	}
	return c >= 0
}

func compareResult(lt, gt bool) int {
	if lt {
		return -1
	} else if gt {
		return 1
	}
	return 0
}

// intOperandIs32 returns whether the integer operation works on i32 operands. ok is false for non-integer types.
func intOperandIs32(op *Operation) (is32 bool, ok bool) {
	switch op.Kind {
	case OperationKindAdd, OperationKindSub, OperationKindMul, OperationKindEq, OperationKindNe:
		switch UnsignedType(op.B1) {
		case UnsignedTypeI32:
			return true, true
		case UnsignedTypeI64:
			return false, true
		}
	case OperationKindAnd, OperationKindOr, OperationKindXor, OperationKindShl, OperationKindRotl, OperationKindRotr,
		OperationKindEqz, OperationKindClz, OperationKindCtz, OperationKindPopcnt:
		return UnsignedInt(op.B1) == UnsignedInt32, true
	case OperationKindShr:
		s := SignedInt(op.B1)
		return s == SignedInt32 || s == SignedUint32, true
	case OperationKindLt, OperationKindGt, OperationKindLe, OperationKindGe:
		switch SignedType(op.B1) {
		case SignedTypeInt32, SignedTypeUint32:
			return true, true
		case SignedTypeInt64, SignedTypeUint64:
			return false, true
		}
	}
	return false, false
}

// foldUnary evaluates a non-trapping unary integer operation on the constant x.
func foldUnary(op *Operation, x uint64) (v uint64, kind OperationKind, ok bool) {
	switch op.Kind {
	case OperationKindEqz, OperationKindClz, OperationKindCtz, OperationKindPopcnt:
		is32, _ := intOperandIs32(op)
		kind = OperationKindConstI64
		if is32 {
			kind = OperationKindConstI32
		}
		switch {
		case op.Kind == OperationKindEqz:
			v, kind = boolToU64(x == 0), OperationKindConstI32
		case op.Kind == OperationKindClz && is32:
			v = uint64(bits.LeadingZeros32(uint32(x)))
		case op.Kind == OperationKindClz:
			v = uint64(bits.LeadingZeros64(x))
		case op.Kind == OperationKindCtz && is32:
			v = uint64(bits.TrailingZeros32(uint32(x)))
		case op.Kind == OperationKindCtz:
			v = uint64(bits.TrailingZeros64(x))
		case is32:
			v = uint64(bits.OnesCount32(uint32(x)))
		default:
			v = uint64(bits.OnesCount64(x))
		}
	case OperationKindI32WrapFromI64:
		v, kind = uint64(uint32(x)), OperationKindConstI32
	case OperationKindExtend:
		if op.B3 {
			v = uint64(int64(int32(x)))
		} else {
			v = uint64(uint32(x))
		}
		kind = OperationKindConstI64
	case OperationKindSignExtend32From8:
		v, kind = uint64(uint32(int32(int8(x)))), OperationKindConstI32
	case OperationKindSignExtend32From16:
		v, kind = uint64(uint32(int32(int16(x)))), OperationKindConstI32
	case OperationKindSignExtend64From8:
		v, kind = uint64(int64(int8(x))), OperationKindConstI64
	case OperationKindSignExtend64From16:
		v, kind = uint64(int64(int16(x))), OperationKindConstI64
	case OperationKindSignExtend64From32:
		v, kind = uint64(int64(int32(x))), OperationKindConstI64
	default:
		return 0, 0, false
	}
	return v, kind, true
}

// LocalSetGetToTee rewrites local.set x followed by local.get x into local.tee x.
func LocalSetGetToTee(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		if op.Kind == OperationKindLocalSet && i+1 < len(ops) &&
			ops[i+1].Kind == OperationKindLocalGet && ops[i+1].U1 == op.U1 {
			out = append(out, NewOperationLocal(OperationKindLocalTee, uint32(op.U1)))
			i++
			changed = true
			continue
		}
		out = append(out, op)
	}
	return out, changed
}

// RemovePushDrop removes a value pushed without side effects and immediately dropped.
func RemovePushDrop(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := range ops {
		op := ops[i]
		n := len(out)
		if op.Kind == OperationKindDrop && op.Range.Start == 0 && n > 0 && out[n-1].IsPurePush() {
			out = out[:n-1]
			if op.Range.End > 0 {
				// Drop the rest of the range, now one value shallower.
				out = append(out, NewOperationDrop(&InclusiveRange{Start: 0, End: op.Range.End - 1}))
			}
			changed = true
			continue
		}
		out = append(out, op)
	}
	return out, changed
}

// InvertEqzBrIf rewrites i32.eqz followed by br_if into a br_if with the condition inverted.
func InvertEqzBrIf(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := range ops {
		op := ops[i]
		n := len(out)
		if op.Kind == OperationKindBrIf && n > 0 &&
			out[n-1].Kind == OperationKindEqz && UnsignedInt(out[n-1].B1) == UnsignedInt32 {
			op.B3 = !op.B3
			out[n-1] = op
			changed = true
			continue
		}
		out = append(out, op)
	}
	return out, changed
}

// EliminateDeadCode removes operations after an unconditional control transfer, until the next label.
func EliminateDeadCode(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	dead := false
	for i := range ops {
		op := ops[i]
		if op.Kind == OperationKindLabel {
			dead = false
		}
		if dead {
			changed = true
			continue
		}
		out = append(out, op)
		if op.IsUnconditionalBranch() {
			dead = true
		}
	}
	return out, changed
}

// RemoveBranchToNext removes branches whose destination is the label right after them, keeping any values dropped.
func RemoveBranchToNext(ops []Operation) ([]Operation, bool) {
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := range ops {
		op := ops[i]
		switch op.Kind {
		case OperationKindBr:
			if t := op.Targets[0]; isNextLabel(ops, i, t.Label) {
				if t.ToDrop != nil {
					out = append(out, NewOperationDrop(t.ToDrop))
				}
				changed = true
				continue
			}
		case OperationKindBrIf:
			if t := op.Targets[0]; t.ToDrop == nil && isNextLabel(ops, i, t.Label) {
				// Both ways lead to the same place: only the condition is left to drop.
				out = append(out, NewOperationDrop(&InclusiveRange{Start: 0, End: 0}))
				changed = true
				continue
			}
		}
		out = append(out, op)
	}
	return out, changed
}

// isNextLabel returns true if l is among the labels directly following ops[i].
func isNextLabel(ops []Operation, i int, l Label) bool {
	if l.IsReturn() {
		return false
	}
	for j := i + 1; j < len(ops) && ops[j].Kind == OperationKindLabel; j++ {
		if ops[j].Label == l {
			return true
		}
	}
	return false
}

// RemoveUnreferencedLabels removes labels which no branch targets.
func RemoveUnreferencedLabels(ops []Operation) ([]Operation, bool) {
	refs := LabelCallers(ops)
	changed := false
	out := make([]Operation, 0, len(ops))
	for i := range ops {
		if ops[i].Kind == OperationKindLabel && refs[ops[i].Label] == 0 {
			changed = true
			continue
		}
		out = append(out, ops[i])
	}
	return out, changed
}

// LabelCallers counts the branches to each label.
func LabelCallers(ops []Operation) map[Label]uint32 {
	refs := map[Label]uint32{}
	for i := range ops {
		for _, t := range ops[i].Targets {
			refs[t.Label]++
		}
	}
	return refs
}
