package wasm

import "fmt"

// OpcodeAtomic represents opcodes of the threads proposal, prefixed by OpcodeAtomicPrefix.
// See https://github.com/WebAssembly/threads/blob/main/proposals/threads/Overview.md
type OpcodeAtomic = byte

const (
	OpcodeAtomicMemoryNotify OpcodeAtomic = 0x00
	OpcodeAtomicMemoryWait32 OpcodeAtomic = 0x01
	OpcodeAtomicMemoryWait64 OpcodeAtomic = 0x02
	OpcodeAtomicFence        OpcodeAtomic = 0x03

	OpcodeAtomicI32Load    OpcodeAtomic = 0x10
	OpcodeAtomicI64Load    OpcodeAtomic = 0x11
	OpcodeAtomicI32Load8U  OpcodeAtomic = 0x12
	OpcodeAtomicI32Load16U OpcodeAtomic = 0x13
	OpcodeAtomicI64Load8U  OpcodeAtomic = 0x14
	OpcodeAtomicI64Load16U OpcodeAtomic = 0x15
	OpcodeAtomicI64Load32U OpcodeAtomic = 0x16
	OpcodeAtomicI32Store   OpcodeAtomic = 0x17
	OpcodeAtomicI64Store   OpcodeAtomic = 0x18
	OpcodeAtomicI32Store8  OpcodeAtomic = 0x19
	OpcodeAtomicI32Store16 OpcodeAtomic = 0x1a
	OpcodeAtomicI64Store8  OpcodeAtomic = 0x1b
	OpcodeAtomicI64Store16 OpcodeAtomic = 0x1c
	OpcodeAtomicI64Store32 OpcodeAtomic = 0x1d

	// The read-modify-write families are each seven opcodes wide, in the order of atomicWidths.

	OpcodeAtomicRMWAdd     OpcodeAtomic = 0x1e
	OpcodeAtomicRMWSub     OpcodeAtomic = 0x25
	OpcodeAtomicRMWAnd     OpcodeAtomic = 0x2c
	OpcodeAtomicRMWOr      OpcodeAtomic = 0x33
	OpcodeAtomicRMWXor     OpcodeAtomic = 0x3a
	OpcodeAtomicRMWXchg    OpcodeAtomic = 0x41
	OpcodeAtomicRMWCmpxchg OpcodeAtomic = 0x48
	opcodeAtomicEnd        OpcodeAtomic = 0x4f
)

// AtomicAccess describes the value type and memory width of an atomic load, store or read-modify-write.
type AtomicAccess struct {
	// Is64 is true when the operand is i64.
	Is64 bool
	// Width is the access size in bytes: 1, 2, 4 or 8.
	Width uint32
}

// atomicWidths is the order of value type and width within each read-modify-write family and the load/store groups.
var atomicWidths = [7]AtomicAccess{
	{Is64: false, Width: 4},
	{Is64: true, Width: 8},
	{Is64: false, Width: 1},
	{Is64: false, Width: 2},
	{Is64: true, Width: 1},
	{Is64: true, Width: 2},
	{Is64: true, Width: 4},
}

// AtomicRMWOp is the arithmetic of an atomic read-modify-write instruction.
type AtomicRMWOp byte

const (
	AtomicRMWOpAdd AtomicRMWOp = iota
	AtomicRMWOpSub
	AtomicRMWOpAnd
	AtomicRMWOpOr
	AtomicRMWOpXor
	AtomicRMWOpXchg
	AtomicRMWOpCmpxchg
)

var atomicRMWOpNames = [...]string{"add", "sub", "and", "or", "xor", "xchg", "cmpxchg"}

// String implements fmt.Stringer
func (op AtomicRMWOp) String() string {
	if int(op) < len(atomicRMWOpNames) {
		return atomicRMWOpNames[op]
	}
	return fmt.Sprintf("rmw(%d)", op)
}

// AtomicLoadAccess returns the access of an atomic load opcode.
func AtomicLoadAccess(oc OpcodeAtomic) (AtomicAccess, bool) {
	if oc < OpcodeAtomicI32Load || oc > OpcodeAtomicI64Load32U {
		return AtomicAccess{}, false
	}
	return atomicWidths[oc-OpcodeAtomicI32Load], true
}

// AtomicStoreAccess returns the access of an atomic store opcode.
func AtomicStoreAccess(oc OpcodeAtomic) (AtomicAccess, bool) {
	if oc < OpcodeAtomicI32Store || oc > OpcodeAtomicI64Store32 {
		return AtomicAccess{}, false
	}
	return atomicWidths[oc-OpcodeAtomicI32Store], true
}

// AtomicRMWAccess returns the arithmetic and access of an atomic read-modify-write opcode, including cmpxchg.
func AtomicRMWAccess(oc OpcodeAtomic) (AtomicRMWOp, AtomicAccess, bool) {
	if oc < OpcodeAtomicRMWAdd || oc >= opcodeAtomicEnd {
		return 0, AtomicAccess{}, false
	}
	rel := oc - OpcodeAtomicRMWAdd
	return AtomicRMWOp(rel / 7), atomicWidths[rel%7], true
}

func (a AtomicAccess) typeName() string {
	if a.Is64 {
		return "i64"
	}
	return "i32"
}

// suffix returns the width suffix used in instruction names, ex. "8" for i32.atomic.rmw8.add_u.
func (a AtomicAccess) suffix() string {
	if (a.Is64 && a.Width == 8) || (!a.Is64 && a.Width == 4) {
		return ""
	}
	return fmt.Sprintf("%d", a.Width*8)
}

// AtomicInstructionName returns the text format name of the atomic opcode, or "" if it is not one.
func AtomicInstructionName(oc OpcodeAtomic) string {
	switch oc {
	case OpcodeAtomicMemoryNotify:
		return "memory.atomic.notify"
	case OpcodeAtomicMemoryWait32:
		return "memory.atomic.wait32"
	case OpcodeAtomicMemoryWait64:
		return "memory.atomic.wait64"
	case OpcodeAtomicFence:
		return "atomic.fence"
	}
	if a, ok := AtomicLoadAccess(oc); ok {
		if s := a.suffix(); s != "" {
			return a.typeName() + ".atomic.load" + s + "_u"
		}
		return a.typeName() + ".atomic.load"
	}
	if a, ok := AtomicStoreAccess(oc); ok {
		return a.typeName() + ".atomic.store" + a.suffix()
	}
	if op, a, ok := AtomicRMWAccess(oc); ok {
		if s := a.suffix(); s != "" {
			return a.typeName() + ".atomic.rmw" + s + "." + op.String() + "_u"
		}
		return a.typeName() + ".atomic.rmw." + op.String()
	}
	return ""
}
