package machine

import (
	"encoding/binary"
	"math"

	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
)

// effectiveAddress returns the address of an access of size bytes at the i32 addr plus offset, trapping when any
// byte of it is out of bounds. The buffer is read on every access since memory.grow may replace it.
func effectiveAddress(mem *wasm.MemoryInstance, addr, offset, size uint64) uint64 {
	ea := uint64(uint32(addr)) + offset
	if ea+size > uint64(len(mem.Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	return ea
}

func load(mem *wasm.MemoryInstance, in *Instr, addr uint64) uint64 {
	switch in.Op {
	case OpI32Load:
		ea := effectiveAddress(mem, addr, in.U1, 4)
		return uint64(binary.LittleEndian.Uint32(mem.Buffer[ea:]))
	case OpI64Load:
		ea := effectiveAddress(mem, addr, in.U1, 8)
		return binary.LittleEndian.Uint64(mem.Buffer[ea:])
	case OpLoad8:
		ea := effectiveAddress(mem, addr, in.U1, 1)
		return extendLoaded(uint64(mem.Buffer[ea]), 8, wasmir.SignedInt(in.B1))
	case OpLoad16:
		ea := effectiveAddress(mem, addr, in.U1, 2)
		return extendLoaded(uint64(binary.LittleEndian.Uint16(mem.Buffer[ea:])), 16, wasmir.SignedInt(in.B1))
	default: // OpLoad32
		ea := effectiveAddress(mem, addr, in.U1, 4)
		v := binary.LittleEndian.Uint32(mem.Buffer[ea:])
		if in.B3 {
			return uint64(int64(int32(v)))
		}
		return uint64(v)
	}
}

// extendLoaded extends a narrow value of the given bit width to the result type t.
func extendLoaded(v uint64, width int, t wasmir.SignedInt) uint64 {
	shift := 64 - width
	switch t {
	case wasmir.SignedInt32:
		return uint64(uint32(int64(v<<shift) >> shift))
	case wasmir.SignedInt64:
		return uint64(int64(v<<shift) >> shift)
	default:
		return v
	}
}

func store(mem *wasm.MemoryInstance, in *Instr, addr, v uint64) {
	switch in.Op {
	case OpI32Store, OpStore32:
		ea := effectiveAddress(mem, addr, in.U1, 4)
		binary.LittleEndian.PutUint32(mem.Buffer[ea:], uint32(v))
	case OpI64Store:
		ea := effectiveAddress(mem, addr, in.U1, 8)
		binary.LittleEndian.PutUint64(mem.Buffer[ea:], v)
	case OpStore8:
		ea := effectiveAddress(mem, addr, in.U1, 1)
		mem.Buffer[ea] = byte(v)
	case OpStore16:
		ea := effectiveAddress(mem, addr, in.U1, 2)
		binary.LittleEndian.PutUint16(mem.Buffer[ea:], uint16(v))
	}
}

// memoryInit copies n bytes of data from s to memory at d. A dropped segment is nil, so only n == 0 succeeds.
func memoryInit(mem *wasm.MemoryInstance, data []byte, d, s, n uint32) {
	if uint64(s)+uint64(n) > uint64(len(data)) || uint64(d)+uint64(n) > uint64(len(mem.Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	copy(mem.Buffer[d:], data[s:s+n])
}

func memoryCopy(mem *wasm.MemoryInstance, d, s, n uint32) {
	size := uint64(len(mem.Buffer))
	if uint64(s)+uint64(n) > size || uint64(d)+uint64(n) > size {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	// copy handles overlapping ranges like memmove.
	copy(mem.Buffer[d:d+n], mem.Buffer[s:s+n])
}

func memoryFill(mem *wasm.MemoryInstance, d uint32, v byte, n uint32) {
	if uint64(d)+uint64(n) > uint64(len(mem.Buffer)) {
		panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
	}
	buf := mem.Buffer[d : d+n]
	for i := range buf {
		buf[i] = v
	}
}

// atomicAddress checks bounds, then alignment, of an atomic access of in's width.
func atomicAddress(mem *wasm.MemoryInstance, in *Instr, addr uint64) (ea uint64, width uint64) {
	width = 1 << in.U2
	ea = effectiveAddress(mem, addr, in.U1, width)
	if ea%width != 0 {
		panic(wasmruntime.ErrRuntimeUnalignedAtomic)
	}
	return
}

// atomic executes the threads proposal instructions. Every access holds the memory lock, so they are sequentially
// consistent with each other.
func (ce *callEngine) atomic(mem *wasm.MemoryInstance, in *Instr) {
	switch in.Kind {
	case wasmir.OperationKindAtomicMemoryWait:
		timeout := int64(ce.pop())
		var exp uint64
		if wasmir.UnsignedInt(in.B1) == wasmir.UnsignedInt32 {
			exp = uint64(uint32(ce.pop()))
		} else {
			exp = ce.pop()
		}
		ea, _ := atomicAddress(mem, in, ce.pop())
		if !mem.Shared() {
			panic(wasmruntime.ErrRuntimeExpectedSharedMemory)
		}
		if wasmir.UnsignedInt(in.B1) == wasmir.UnsignedInt32 {
			ce.push(mem.Wait32(uint32(ea), uint32(exp), timeout))
		} else {
			ce.push(mem.Wait64(uint32(ea), exp, timeout))
		}
	case wasmir.OperationKindAtomicMemoryNotify:
		count := uint32(ce.pop())
		ea, _ := atomicAddress(mem, in, ce.pop())
		if !mem.Shared() {
			// No thread can wait on unshared memory.
			ce.push(0)
			return
		}
		ce.push(uint64(mem.Notify(uint32(ea), count)))
	case wasmir.OperationKindAtomicLoad:
		ea, width := atomicAddress(mem, in, ce.pop())
		mem.Lock()
		v := readWidth(mem.Buffer[ea:], width)
		mem.Unlock()
		ce.push(v)
	case wasmir.OperationKindAtomicStore:
		v := ce.pop()
		ea, width := atomicAddress(mem, in, ce.pop())
		mem.Lock()
		writeWidth(mem.Buffer[ea:], width, v)
		mem.Unlock()
	case wasmir.OperationKindAtomicRMW:
		v := ce.pop()
		ea, width := atomicAddress(mem, in, ce.pop())
		mem.Lock()
		old := readWidth(mem.Buffer[ea:], width)
		writeWidth(mem.Buffer[ea:], width, rmw(wasm.AtomicRMWOp(in.B2), old, v))
		mem.Unlock()
		ce.push(old)
	case wasmir.OperationKindAtomicCmpxchg:
		replacement := ce.pop()
		expected := ce.pop()
		ea, width := atomicAddress(mem, in, ce.pop())
		mask := widthMask(width)
		mem.Lock()
		old := readWidth(mem.Buffer[ea:], width)
		if old == expected&mask {
			writeWidth(mem.Buffer[ea:], width, replacement)
		}
		mem.Unlock()
		ce.push(old)
	}
}

func rmw(op wasm.AtomicRMWOp, old, v uint64) uint64 {
	switch op {
	case wasm.AtomicRMWOpAdd:
		return old + v
	case wasm.AtomicRMWOpSub:
		return old - v
	case wasm.AtomicRMWOpAnd:
		return old & v
	case wasm.AtomicRMWOpOr:
		return old | v
	case wasm.AtomicRMWOpXor:
		return old ^ v
	default: // AtomicRMWOpXchg
		return v
	}
}

func widthMask(width uint64) uint64 {
	if width == 8 {
		return math.MaxUint64
	}
	return 1<<(width*8) - 1
}

// readWidth reads a little-endian value of width bytes, zero-extended.
func readWidth(b []byte, width uint64) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// writeWidth writes the low width bytes of v.
func writeWidth(b []byte, width, v uint64) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}
