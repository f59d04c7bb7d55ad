package wasmir

import (
	"fmt"
	"strings"

	"github.com/wasmtier/wasmtier/internal/wasm"
)

// UnsignedInt is an integer operand whose signedness doesn't change the result.
type UnsignedInt byte

const (
	UnsignedInt32 UnsignedInt = iota
	UnsignedInt64
)

func (s UnsignedInt) String() (ret string) {
	switch s {
	case UnsignedInt32:
		ret = "i32"
	case UnsignedInt64:
		ret = "i64"
	}
	return
}

// SignedInt is an integer operand interpreted as signed or unsigned.
type SignedInt byte

const (
	SignedInt32 SignedInt = iota
	SignedInt64
	SignedUint32
	SignedUint64
)

func (s SignedInt) String() (ret string) {
	switch s {
	case SignedUint32:
		ret = "u32"
	case SignedUint64:
		ret = "u64"
	case SignedInt32:
		ret = "s32"
	case SignedInt64:
		ret = "s64"
	}
	return
}

// Float is a floating point operand.
type Float byte

const (
	Float32 Float = iota
	Float64
)

func (s Float) String() (ret string) {
	switch s {
	case Float32:
		ret = "f32"
	case Float64:
		ret = "f64"
	}
	return
}

// UnsignedType is the type of a value on the operand stack.
type UnsignedType byte

const (
	UnsignedTypeI32 UnsignedType = iota
	UnsignedTypeI64
	UnsignedTypeF32
	UnsignedTypeF64
	UnsignedTypeUnknown
)

func (s UnsignedType) String() (ret string) {
	switch s {
	case UnsignedTypeI32:
		ret = "i32"
	case UnsignedTypeI64:
		ret = "i64"
	case UnsignedTypeF32:
		ret = "f32"
	case UnsignedTypeF64:
		ret = "f64"
	case UnsignedTypeUnknown:
		ret = "unknown"
	}
	return
}

// SignedType is an operand type where integers carry their signedness.
type SignedType byte

const (
	SignedTypeInt32 SignedType = iota
	SignedTypeUint32
	SignedTypeInt64
	SignedTypeUint64
	SignedTypeFloat32
	SignedTypeFloat64
)

func (s SignedType) String() (ret string) {
	switch s {
	case SignedTypeInt32:
		ret = "s32"
	case SignedTypeUint32:
		ret = "u32"
	case SignedTypeInt64:
		ret = "s64"
	case SignedTypeUint64:
		ret = "u64"
	case SignedTypeFloat32:
		ret = "f32"
	case SignedTypeFloat64:
		ret = "f64"
	}
	return
}

// OperationKind is the kind of an Operation.
type OperationKind uint16

const (
	OperationKindUnreachable OperationKind = iota
	OperationKindLabel
	OperationKindBr
	OperationKindBrIf
	OperationKindBrTable
	OperationKindCall
	OperationKindCallIndirect
	OperationKindDrop
	OperationKindSelect
	OperationKindLocalGet
	OperationKindLocalSet
	OperationKindLocalTee
	OperationKindGlobalGet
	OperationKindGlobalSet
	OperationKindLoad
	OperationKindLoad8
	OperationKindLoad16
	OperationKindLoad32
	OperationKindStore
	OperationKindStore8
	OperationKindStore16
	OperationKindStore32
	OperationKindMemorySize
	OperationKindMemoryGrow
	OperationKindConstI32
	OperationKindConstI64
	OperationKindConstF32
	OperationKindConstF64
	OperationKindEq
	OperationKindNe
	OperationKindEqz
	OperationKindLt
	OperationKindGt
	OperationKindLe
	OperationKindGe
	OperationKindAdd
	OperationKindSub
	OperationKindMul
	OperationKindClz
	OperationKindCtz
	OperationKindPopcnt
	OperationKindDiv
	OperationKindRem
	OperationKindAnd
	OperationKindOr
	OperationKindXor
	OperationKindShl
	OperationKindShr
	OperationKindRotl
	OperationKindRotr
	OperationKindAbs
	OperationKindNeg
	OperationKindCeil
	OperationKindFloor
	OperationKindTrunc
	OperationKindNearest
	OperationKindSqrt
	OperationKindMin
	OperationKindMax
	OperationKindCopysign
	OperationKindI32WrapFromI64
	OperationKindITruncFromF
	OperationKindFConvertFromI
	OperationKindF32DemoteFromF64
	OperationKindF64PromoteFromF32
	OperationKindI32ReinterpretFromF32
	OperationKindI64ReinterpretFromF64
	OperationKindF32ReinterpretFromI32
	OperationKindF64ReinterpretFromI64
	OperationKindExtend
	OperationKindSignExtend32From8
	OperationKindSignExtend32From16
	OperationKindSignExtend64From8
	OperationKindSignExtend64From16
	OperationKindSignExtend64From32
	OperationKindMemoryInit
	OperationKindDataDrop
	OperationKindMemoryCopy
	OperationKindMemoryFill
	OperationKindAtomicMemoryWait
	OperationKindAtomicMemoryNotify
	OperationKindAtomicFence
	OperationKindAtomicLoad
	OperationKindAtomicStore
	OperationKindAtomicRMW
	OperationKindAtomicCmpxchg

	// operationKindEnd is always placed at the bottom of this iota definition to be used in the test.
	operationKindEnd
)

var operationKindNames = [operationKindEnd]string{
	OperationKindUnreachable:           "Unreachable",
	OperationKindLabel:                 "Label",
	OperationKindBr:                    "Br",
	OperationKindBrIf:                  "BrIf",
	OperationKindBrTable:               "BrTable",
	OperationKindCall:                  "Call",
	OperationKindCallIndirect:          "CallIndirect",
	OperationKindDrop:                  "Drop",
	OperationKindSelect:                "Select",
	OperationKindLocalGet:              "LocalGet",
	OperationKindLocalSet:              "LocalSet",
	OperationKindLocalTee:              "LocalTee",
	OperationKindGlobalGet:             "GlobalGet",
	OperationKindGlobalSet:             "GlobalSet",
	OperationKindLoad:                  "Load",
	OperationKindLoad8:                 "Load8",
	OperationKindLoad16:                "Load16",
	OperationKindLoad32:                "Load32",
	OperationKindStore:                 "Store",
	OperationKindStore8:                "Store8",
	OperationKindStore16:               "Store16",
	OperationKindStore32:               "Store32",
	OperationKindMemorySize:            "MemorySize",
	OperationKindMemoryGrow:            "MemoryGrow",
	OperationKindConstI32:              "ConstI32",
	OperationKindConstI64:              "ConstI64",
	OperationKindConstF32:              "ConstF32",
	OperationKindConstF64:              "ConstF64",
	OperationKindEq:                    "Eq",
	OperationKindNe:                    "Ne",
	OperationKindEqz:                   "Eqz",
	OperationKindLt:                    "Lt",
	OperationKindGt:                    "Gt",
	OperationKindLe:                    "Le",
	OperationKindGe:                    "Ge",
	OperationKindAdd:                   "Add",
	OperationKindSub:                   "Sub",
	OperationKindMul:                   "Mul",
	OperationKindClz:                   "Clz",
	OperationKindCtz:                   "Ctz",
	OperationKindPopcnt:                "Popcnt",
	OperationKindDiv:                   "Div",
	OperationKindRem:                   "Rem",
	OperationKindAnd:                   "And",
	OperationKindOr:                    "Or",
	OperationKindXor:                   "Xor",
	OperationKindShl:                   "Shl",
	OperationKindShr:                   "Shr",
	OperationKindRotl:                  "Rotl",
	OperationKindRotr:                  "Rotr",
	OperationKindAbs:                   "Abs",
	OperationKindNeg:                   "Neg",
	OperationKindCeil:                  "Ceil",
	OperationKindFloor:                 "Floor",
	OperationKindTrunc:                 "Trunc",
	OperationKindNearest:               "Nearest",
	OperationKindSqrt:                  "Sqrt",
	OperationKindMin:                   "Min",
	OperationKindMax:                   "Max",
	OperationKindCopysign:              "Copysign",
	OperationKindI32WrapFromI64:        "I32WrapFromI64",
	OperationKindITruncFromF:           "ITruncFromF",
	OperationKindFConvertFromI:         "FConvertFromI",
	OperationKindF32DemoteFromF64:      "F32DemoteFromF64",
	OperationKindF64PromoteFromF32:     "F64PromoteFromF32",
	OperationKindI32ReinterpretFromF32: "I32ReinterpretFromF32",
	OperationKindI64ReinterpretFromF64: "I64ReinterpretFromF64",
	OperationKindF32ReinterpretFromI32: "F32ReinterpretFromI32",
	OperationKindF64ReinterpretFromI64: "F64ReinterpretFromI64",
	OperationKindExtend:                "Extend",
	OperationKindSignExtend32From8:     "SignExtend32From8",
	OperationKindSignExtend32From16:    "SignExtend32From16",
	OperationKindSignExtend64From8:     "SignExtend64From8",
	OperationKindSignExtend64From16:    "SignExtend64From16",
	OperationKindSignExtend64From32:    "SignExtend64From32",
	OperationKindMemoryInit:            "MemoryInit",
	OperationKindDataDrop:              "DataDrop",
	OperationKindMemoryCopy:            "MemoryCopy",
	OperationKindMemoryFill:            "MemoryFill",
	OperationKindAtomicMemoryWait:      "AtomicMemoryWait",
	OperationKindAtomicMemoryNotify:    "AtomicMemoryNotify",
	OperationKindAtomicFence:           "AtomicFence",
	OperationKindAtomicLoad:            "AtomicLoad",
	OperationKindAtomicStore:           "AtomicStore",
	OperationKindAtomicRMW:             "AtomicRMW",
	OperationKindAtomicCmpxchg:         "AtomicCmpxchg",
}

func (o OperationKind) String() string {
	if o < operationKindEnd {
		return operationKindNames[o]
	}
	return fmt.Sprintf("OperationKind(%d)", uint16(o))
}

// LabelKind is the position of a label relative to its control frame.
type LabelKind = byte

const (
	// LabelKindHeader is the start of a loop body, or the then branch of an if.
	LabelKindHeader LabelKind = iota
	// LabelKindElse is the else branch of an if, which exists even if the source had no else.
	LabelKindElse
	// LabelKindContinuation is right after the end of a block, loop or if.
	LabelKindContinuation
	// LabelKindReturn is the exit of the function. Branching to it returns the function results.
	LabelKindReturn
)

// Label is a branch destination, unique per function by FrameID and Kind.
type Label struct {
	FrameID uint32
	Kind    LabelKind
}

// ReturnLabel is the branch destination that leaves the function.
var ReturnLabel = Label{Kind: LabelKindReturn}

func (l Label) String() (ret string) {
	switch l.Kind {
	case LabelKindHeader:
		ret = fmt.Sprintf(".L%d", l.FrameID)
	case LabelKindElse:
		ret = fmt.Sprintf(".L%d_else", l.FrameID)
	case LabelKindContinuation:
		ret = fmt.Sprintf(".L%d_cont", l.FrameID)
	case LabelKindReturn:
		ret = ".return"
	}
	return
}

// IsReturn returns true if branching to this label leaves the function.
func (l Label) IsReturn() bool {
	return l.Kind == LabelKindReturn
}

// InclusiveRange is the range of operand stack depths to drop, where depth 0 is the top. Values above Start are kept.
type InclusiveRange struct {
	Start, End int
}

// BranchTarget is a destination with the values to drop before jumping.
type BranchTarget struct {
	Label  Label
	ToDrop *InclusiveRange
}

func (b BranchTarget) String() string {
	if b.ToDrop != nil {
		return fmt.Sprintf("%s(drop %d..%d)", b.Label, b.ToDrop.Start, b.ToDrop.End)
	}
	return b.Label.String()
}

// Operation is one instruction of the IR. Its fields are interpreted per Kind:
//
//   - Label: Label.
//   - Br: Targets[0]. BrIf: Targets[0], taken when the popped condition is non-zero, or zero if B3 is set.
//   - BrTable: Targets, where the last is the default.
//   - Call: U1 is the function index. CallIndirect: U1 is the type index.
//   - Drop: Range.
//   - LocalGet, LocalSet, LocalTee: U1 is the local index, counting params first.
//   - GlobalGet, GlobalSet: U1 is the global index.
//   - Load, Store: B1 is the UnsignedType. Load8, Load16: B1 is the SignedInt. Load32: B3 is signed.
//     Store8, Store16: B1 is the UnsignedInt. Every memory access has U1 as the offset and U2 as the alignment.
//   - Const*: U1 holds the raw bits.
//   - Numeric operations: B1 is the type, as UnsignedType, UnsignedInt, SignedType, SignedInt or Float per kind.
//   - ITruncFromF: B1 is the input Float, B2 the output SignedInt, B3 is non-trapping.
//   - FConvertFromI: B1 is the input SignedInt, B2 the output Float.
//   - Extend: B3 is signed.
//   - MemoryInit, DataDrop: U1 is the data segment index.
//   - AtomicMemoryWait: B1 is the UnsignedInt of the expected value.
//   - AtomicLoad, AtomicStore, AtomicRMW, AtomicCmpxchg: B1 is the UnsignedInt of the operand. The alignment in U2
//     always equals the access width, see Width. For AtomicRMW, B2 is the wasm.AtomicRMWOp.
type Operation struct {
	Kind    OperationKind
	B1, B2  byte
	B3      bool
	U1, U2  uint64
	Label   Label
	Targets []BranchTarget
	Range   *InclusiveRange
}

// RMWOp returns the arithmetic of an AtomicRMW.
func (o *Operation) RMWOp() wasm.AtomicRMWOp {
	return wasm.AtomicRMWOp(o.B2)
}

// Width returns the byte width of a memory access from its alignment exponent.
func (o *Operation) Width() uint32 {
	return 1 << o.U2
}

// String returns the text form of the operation, used in disassembly and tests.
func (o *Operation) String() string {
	switch o.Kind {
	case OperationKindLabel:
		return o.Label.String()
	case OperationKindBr:
		return fmt.Sprintf("Br %s", o.Targets[0])
	case OperationKindBrIf:
		if o.B3 {
			return fmt.Sprintf("BrIfNot %s", o.Targets[0])
		}
		return fmt.Sprintf("BrIf %s", o.Targets[0])
	case OperationKindBrTable:
		targets := make([]string, len(o.Targets))
		for i, t := range o.Targets {
			targets[i] = t.String()
		}
		return fmt.Sprintf("BrTable [%s]", strings.Join(targets, ", "))
	case OperationKindDrop:
		return fmt.Sprintf("Drop %d..%d", o.Range.Start, o.Range.End)
	case OperationKindCall, OperationKindCallIndirect, OperationKindLocalGet, OperationKindLocalSet,
		OperationKindLocalTee, OperationKindGlobalGet, OperationKindGlobalSet, OperationKindMemoryInit,
		OperationKindDataDrop:
		return fmt.Sprintf("%s %d", o.Kind, o.U1)
	case OperationKindConstI32:
		return fmt.Sprintf("ConstI32 %d", int32(o.U1))
	case OperationKindConstI64:
		return fmt.Sprintf("ConstI64 %d", int64(o.U1))
	case OperationKindConstF32, OperationKindConstF64:
		return fmt.Sprintf("%s %#x", o.Kind, o.U1)
	case OperationKindLoad, OperationKindStore:
		return fmt.Sprintf("%s.%s %d", o.Kind, UnsignedType(o.B1), o.U1)
	case OperationKindLoad8, OperationKindLoad16:
		return fmt.Sprintf("%s.%s %d", o.Kind, SignedInt(o.B1), o.U1)
	case OperationKindStore8, OperationKindStore16:
		return fmt.Sprintf("%s.%s %d", o.Kind, UnsignedInt(o.B1), o.U1)
	case OperationKindLoad32, OperationKindStore32:
		return fmt.Sprintf("%s %d", o.Kind, o.U1)
	case OperationKindEq, OperationKindNe, OperationKindAdd, OperationKindSub, OperationKindMul:
		return fmt.Sprintf("%s.%s", o.Kind, UnsignedType(o.B1))
	case OperationKindEqz, OperationKindClz, OperationKindCtz, OperationKindPopcnt, OperationKindAnd,
		OperationKindOr, OperationKindXor, OperationKindShl, OperationKindRotl, OperationKindRotr:
		return fmt.Sprintf("%s.%s", o.Kind, UnsignedInt(o.B1))
	case OperationKindLt, OperationKindGt, OperationKindLe, OperationKindGe, OperationKindDiv:
		return fmt.Sprintf("%s.%s", o.Kind, SignedType(o.B1))
	case OperationKindRem, OperationKindShr:
		return fmt.Sprintf("%s.%s", o.Kind, SignedInt(o.B1))
	case OperationKindAbs, OperationKindNeg, OperationKindCeil, OperationKindFloor, OperationKindTrunc,
		OperationKindNearest, OperationKindSqrt, OperationKindMin, OperationKindMax, OperationKindCopysign:
		return fmt.Sprintf("%s.%s", o.Kind, Float(o.B1))
	case OperationKindITruncFromF:
		return fmt.Sprintf("ITruncFromF.%s.%s(sat=%t)", Float(o.B1), SignedInt(o.B2), o.B3)
	case OperationKindFConvertFromI:
		return fmt.Sprintf("FConvertFromI.%s.%s", SignedInt(o.B1), Float(o.B2))
	case OperationKindExtend:
		return fmt.Sprintf("Extend(signed=%t)", o.B3)
	case OperationKindAtomicLoad, OperationKindAtomicStore, OperationKindAtomicCmpxchg:
		return fmt.Sprintf("%s.%s/%d %d", o.Kind, UnsignedInt(o.B1), o.Width(), o.U1)
	case OperationKindAtomicRMW:
		return fmt.Sprintf("AtomicRMW.%s.%s/%d %d", o.RMWOp(), UnsignedInt(o.B1), o.Width(), o.U1)
	case OperationKindAtomicMemoryWait:
		return fmt.Sprintf("AtomicMemoryWait.%s %d", UnsignedInt(o.B1), o.U1)
	case OperationKindAtomicMemoryNotify:
		return fmt.Sprintf("AtomicMemoryNotify %d", o.U1)
	}
	return o.Kind.String()
}

// Disassemble returns the text form of the operations, one per line.
func Disassemble(ops []Operation) string {
	var b strings.Builder
	for i := range ops {
		op := &ops[i]
		if op.Kind != OperationKindLabel {
			b.WriteByte('\t')
		}
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// IsPurePush returns true if the operation only pushes one value without side effects, so it can be removed along
// with a drop of that value.
func (o *Operation) IsPurePush() bool {
	switch o.Kind {
	case OperationKindConstI32, OperationKindConstI64, OperationKindConstF32, OperationKindConstF64,
		OperationKindLocalGet, OperationKindGlobalGet, OperationKindMemorySize:
		return true
	}
	return false
}

// IsUnconditionalBranch returns true if control never reaches the operation after this one.
func (o *Operation) IsUnconditionalBranch() bool {
	switch o.Kind {
	case OperationKindBr, OperationKindBrTable, OperationKindUnreachable:
		return true
	}
	return false
}

// NewOperationLabel returns an Operation marking the position of the label.
func NewOperationLabel(l Label) Operation {
	return Operation{Kind: OperationKindLabel, Label: l}
}

// NewOperationBr returns an unconditional branch.
func NewOperationBr(target BranchTarget) Operation {
	return Operation{Kind: OperationKindBr, Targets: []BranchTarget{target}}
}

// NewOperationBrIf returns a branch taken when the condition is non-zero, or zero when inverted.
func NewOperationBrIf(target BranchTarget, inverted bool) Operation {
	return Operation{Kind: OperationKindBrIf, Targets: []BranchTarget{target}, B3: inverted}
}

// NewOperationDrop returns an Operation dropping the range.
func NewOperationDrop(r *InclusiveRange) Operation {
	return Operation{Kind: OperationKindDrop, Range: r}
}

// NewOperationConstI32 returns a ConstI32.
func NewOperationConstI32(v uint32) Operation {
	return Operation{Kind: OperationKindConstI32, U1: uint64(v)}
}

// NewOperationConstI64 returns a ConstI64.
func NewOperationConstI64(v uint64) Operation {
	return Operation{Kind: OperationKindConstI64, U1: v}
}

// NewOperationLocal returns a LocalGet, LocalSet or LocalTee of the index.
func NewOperationLocal(kind OperationKind, idx uint32) Operation {
	return Operation{Kind: kind, U1: uint64(idx)}
}
