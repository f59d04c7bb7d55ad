// Package machine lowers wasmir operations into address-resolved instructions and executes them.
//
// Every compiler tier produces a Code with Lower, so they share one executor and differ only in the instruction
// stream they hand to it.
package machine

import (
	"fmt"
	"math"
	"strings"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasmir"
)

// Opcode is the kind of an Instr. Integer arithmetic and comparisons are specialized per type, the remaining
// numeric instructions share OpNumeric and are told apart by Instr.Kind.
type Opcode uint16

const (
	OpUnreachable Opcode = iota
	// OpBr jumps to U1 after dropping Drop.
	OpBr
	// OpBrIf pops a condition and branches like OpBr when it is non-zero, or zero if B3 is set.
	OpBrIf
	// OpBrTable pops an index into Targets, where the last is the default.
	OpBrTable
	OpCall
	OpCallIndirect
	OpDrop
	OpSelect
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet
	// OpConst pushes U1.
	OpConst

	OpI32Load
	OpI64Load
	OpLoad8
	OpLoad16
	OpLoad32
	OpI32Store
	OpI64Store
	OpStore8
	OpStore16
	OpStore32
	OpMemorySize
	OpMemoryGrow
	OpMemoryInit
	OpDataDrop
	OpMemoryCopy
	OpMemoryFill

	// opBinopStart marks the integer operations evaluated by binop.
	opBinopStart
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	// opCompareStart marks the comparisons among the binops.
	opCompareStart
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	opBinopEnd

	OpI32Eqz
	OpI64Eqz
	// OpNumeric executes the wasmir operation Kind with B1, B2 and B3.
	OpNumeric
	// OpAtomic executes the wasmir atomic operation Kind.
	OpAtomic

	// OpLocalIncr adds U2 to the i32 local U1. B3 set means the result is also pushed, as local.tee would.
	OpLocalIncr
	// OpLocalConstBinop pushes Binop(local U1, U2).
	OpLocalConstBinop
	// OpConstBinop replaces the top of the stack x with Binop(x, U2).
	OpConstBinop
	// OpCompareBrIf pops two operands and branches like OpBrIf when Binop of them holds.
	OpCompareBrIf
	// OpConstCompareBrIf pops one operand and branches like OpBrIf when Binop of it and U2 holds.
	OpConstCompareBrIf

	opcodeEnd
)

var opcodeNames = [opcodeEnd]string{
	OpUnreachable:      "Unreachable",
	OpBr:               "Br",
	OpBrIf:             "BrIf",
	OpBrTable:          "BrTable",
	OpCall:             "Call",
	OpCallIndirect:     "CallIndirect",
	OpDrop:             "Drop",
	OpSelect:           "Select",
	OpLocalGet:         "LocalGet",
	OpLocalSet:         "LocalSet",
	OpLocalTee:         "LocalTee",
	OpGlobalGet:        "GlobalGet",
	OpGlobalSet:        "GlobalSet",
	OpConst:            "Const",
	OpI32Load:          "I32Load",
	OpI64Load:          "I64Load",
	OpLoad8:            "Load8",
	OpLoad16:           "Load16",
	OpLoad32:           "Load32",
	OpI32Store:         "I32Store",
	OpI64Store:         "I64Store",
	OpStore8:           "Store8",
	OpStore16:          "Store16",
	OpStore32:          "Store32",
	OpMemorySize:       "MemorySize",
	OpMemoryGrow:       "MemoryGrow",
	OpMemoryInit:       "MemoryInit",
	OpDataDrop:         "DataDrop",
	OpMemoryCopy:       "MemoryCopy",
	OpMemoryFill:       "MemoryFill",
	opBinopStart:       "",
	OpI32Add:           "I32Add",
	OpI32Sub:           "I32Sub",
	OpI32Mul:           "I32Mul",
	OpI32And:           "I32And",
	OpI32Or:            "I32Or",
	OpI32Xor:           "I32Xor",
	OpI32Shl:           "I32Shl",
	OpI32ShrS:          "I32ShrS",
	OpI32ShrU:          "I32ShrU",
	OpI64Add:           "I64Add",
	OpI64Sub:           "I64Sub",
	OpI64Mul:           "I64Mul",
	OpI64And:           "I64And",
	OpI64Or:            "I64Or",
	OpI64Xor:           "I64Xor",
	OpI64Shl:           "I64Shl",
	OpI64ShrS:          "I64ShrS",
	OpI64ShrU:          "I64ShrU",
	opCompareStart:     "",
	OpI32Eq:            "I32Eq",
	OpI32Ne:            "I32Ne",
	OpI32LtS:           "I32LtS",
	OpI32LtU:           "I32LtU",
	OpI32GtS:           "I32GtS",
	OpI32GtU:           "I32GtU",
	OpI32LeS:           "I32LeS",
	OpI32LeU:           "I32LeU",
	OpI32GeS:           "I32GeS",
	OpI32GeU:           "I32GeU",
	OpI64Eq:            "I64Eq",
	OpI64Ne:            "I64Ne",
	OpI64LtS:           "I64LtS",
	OpI64LtU:           "I64LtU",
	OpI64GtS:           "I64GtS",
	OpI64GtU:           "I64GtU",
	OpI64LeS:           "I64LeS",
	OpI64LeU:           "I64LeU",
	OpI64GeS:           "I64GeS",
	OpI64GeU:           "I64GeU",
	opBinopEnd:         "",
	OpI32Eqz:           "I32Eqz",
	OpI64Eqz:           "I64Eqz",
	OpNumeric:          "Numeric",
	OpAtomic:           "Atomic",
	OpLocalIncr:        "LocalIncr",
	OpLocalConstBinop:  "LocalConstBinop",
	OpConstBinop:       "ConstBinop",
	OpCompareBrIf:      "CompareBrIf",
	OpConstCompareBrIf: "ConstCompareBrIf",
}

func (o Opcode) String() string {
	if o < opcodeEnd && opcodeNames[o] != "" {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", uint16(o))
}

// IsBinop returns true if o is evaluated by binop.
func (o Opcode) IsBinop() bool {
	return o > opBinopStart && o < opBinopEnd && o != opCompareStart
}

// IsCompare returns true if o is a binop producing an i32 boolean.
func (o Opcode) IsCompare() bool {
	return o > opCompareStart && o < opBinopEnd
}

// returnAddress is the branch destination which leaves the function.
const returnAddress = math.MaxUint64

// Target is a resolved branch destination of OpBrTable.
type Target struct {
	Addr uint64
	Drop *wasmir.InclusiveRange
}

func (t Target) String() string {
	var dst string
	if t.Addr == returnAddress {
		dst = "return"
	} else {
		dst = fmt.Sprintf("@%d", t.Addr)
	}
	if t.Drop != nil {
		return fmt.Sprintf("%s(drop %d..%d)", dst, t.Drop.Start, t.Drop.End)
	}
	return dst
}

// Instr is one machine instruction. Like wasmir.Operation, it is a union whose fields are interpreted per Op.
type Instr struct {
	Op Opcode
	// Binop is the integer operation of the fused opcodes.
	Binop  Opcode
	Kind   wasmir.OperationKind
	B1, B2 byte
	B3     bool
	U1, U2 uint64
	// Drop is applied by OpDrop, and by the branches before jumping.
	Drop    *wasmir.InclusiveRange
	Targets []Target
}

func (in *Instr) String() string {
	switch in.Op {
	case OpBr:
		return fmt.Sprintf("Br %s", Target{Addr: in.U1, Drop: in.Drop})
	case OpBrIf:
		return fmt.Sprintf("BrIf(inverted=%t) %s", in.B3, Target{Addr: in.U1, Drop: in.Drop})
	case OpBrTable:
		targets := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			targets[i] = t.String()
		}
		return fmt.Sprintf("BrTable [%s]", strings.Join(targets, ", "))
	case OpDrop:
		return fmt.Sprintf("Drop %d..%d", in.Drop.Start, in.Drop.End)
	case OpCall, OpCallIndirect, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet, OpConst,
		OpMemoryInit, OpDataDrop:
		return fmt.Sprintf("%s %d", in.Op, in.U1)
	case OpNumeric, OpAtomic:
		op := wasmir.Operation{Kind: in.Kind, B1: in.B1, B2: in.B2, B3: in.B3, U1: in.U1, U2: in.U2}
		return op.String()
	case OpLocalIncr:
		return fmt.Sprintf("LocalIncr %d %d tee=%t", in.U1, int32(in.U2), in.B3)
	case OpLocalConstBinop:
		return fmt.Sprintf("LocalConstBinop %s %d %d", in.Binop, in.U1, in.U2)
	case OpConstBinop:
		return fmt.Sprintf("ConstBinop %s %d", in.Binop, in.U2)
	case OpCompareBrIf:
		return fmt.Sprintf("CompareBrIf %s(inverted=%t) %s", in.Binop, in.B3, Target{Addr: in.U1, Drop: in.Drop})
	case OpConstCompareBrIf:
		return fmt.Sprintf("ConstCompareBrIf %s %d(inverted=%t) %s", in.Binop, in.U2, in.B3,
			Target{Addr: in.U1, Drop: in.Drop})
	}
	if in.Op >= OpI32Load && in.Op <= OpStore32 {
		return fmt.Sprintf("%s offset=%d", in.Op, in.U1)
	}
	return in.Op.String()
}

// Code is the executable form of one function.
type Code struct {
	Body []Instr
	// NumParams and NumResults are the stack values a call consumes and produces.
	NumParams, NumResults int
	// LocalTypes are the declared locals, which are zeroed at each call.
	LocalTypes []api.ValueType
	// MaxStackHeight is the operand stack bound reported by the front end.
	MaxStackHeight int
	// Fused counts the superinstructions in Body.
	Fused int
}

// Disassemble formats the body one instruction per line, prefixed by its address.
func (c *Code) Disassemble() string {
	var b strings.Builder
	for i := range c.Body {
		fmt.Fprintf(&b, "%d\t%s\n", i, c.Body[i].String())
	}
	return b.String()
}
