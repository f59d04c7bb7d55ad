package wasm

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/wasmerr"
)

const (
	// MemoryPageSize is the unit of memory length in WebAssembly,
	// and is defined as 2^16 = 65536.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0
	MemoryPageSize = api.MemoryPageSize
	// MemoryLimitPages is maximum number of pages defined (2^16).
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
	MemoryLimitPages = api.MemoryLimitPages
	// MemoryPageSizeInBits satisfies the relation: "1 << MemoryPageSizeInBits == MemoryPageSize".
	MemoryPageSizeInBits = 16
)

// compile-time check to ensure MemoryInstance implements api.Memory
var _ api.Memory = &MemoryInstance{}

// MemoryInstance represents a memory instance, and implements api.Memory.
//
// Plain loads and stores are not synchronized, even when Shared: coordinating them is the job of the atomic
// instructions or of the host. Atomics, wait/notify and Grow of a shared memory hold mux.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-instances%E2%91%A0.
type MemoryInstance struct {
	Buffer []byte

	min, max   uint32
	maxEncoded bool
	shared     bool

	mux     sync.Mutex
	waiters sync.Map // uint32 offset -> *memoryWaiters
}

// NewMemoryInstance creates a memory of the minimum size. A shared memory reserves its maximum up front, so growing it
// never relocates Buffer.
func NewMemoryInstance(memSec *Memory) *MemoryInstance {
	minBytes := MemoryPagesToBytesNum(memSec.Min)
	var buffer []byte
	if memSec.IsShared {
		buffer = make([]byte, minBytes, MemoryPagesToBytesNum(memSec.Max))
	} else {
		buffer = make([]byte, minBytes)
	}
	return &MemoryInstance{
		Buffer:     buffer,
		min:        memSec.Min,
		max:        memSec.Max,
		maxEncoded: memSec.IsMaxEncoded,
		shared:     memSec.IsShared,
	}
}

// Definition returns the limits of this memory as a module would declare them.
func (m *MemoryInstance) Definition() *Memory {
	return &Memory{Min: m.min, Max: m.max, IsMaxEncoded: m.maxEncoded, IsShared: m.shared}
}

// ExternType implements api.Extern
func (m *MemoryInstance) ExternType() api.ExternType {
	return api.ExternTypeMemory
}

// Size implements the same method as documented on api.Memory.
func (m *MemoryInstance) Size() uint64 {
	return uint64(len(m.Buffer))
}

// Pages implements the same method as documented on api.Memory.
func (m *MemoryInstance) Pages() uint32 {
	return memoryBytesNumToPages(uint64(len(m.Buffer)))
}

// Min implements the same method as documented on api.Memory.
func (m *MemoryInstance) Min() uint32 {
	return m.min
}

// Max implements the same method as documented on api.Memory.
func (m *MemoryInstance) Max() (uint32, bool) {
	return m.max, m.maxEncoded
}

// Shared implements the same method as documented on api.Memory.
func (m *MemoryInstance) Shared() bool {
	return m.shared
}

// hasSize returns true if Len is sufficient for byteCount at the given offset.
//
// Note: This is always fine, because memory can grow, but never shrink.
func (m *MemoryInstance) hasSize(offset uint64, byteCount uint64) bool {
	return offset+byteCount <= uint64(len(m.Buffer)) // uint64 prevents overflow on add
}

func (m *MemoryInstance) outOfBounds(offset, byteCount uint64) error {
	return wasmerr.OutOfBounds(offset, byteCount, m.Size())
}

// Read implements the same method as documented on api.Memory.
func (m *MemoryInstance) Read(offset, byteCount uint32) ([]byte, error) {
	if !m.hasSize(uint64(offset), uint64(byteCount)) {
		return nil, m.outOfBounds(uint64(offset), uint64(byteCount))
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], nil
}

// Write implements the same method as documented on api.Memory.
func (m *MemoryInstance) Write(offset uint32, val []byte) error {
	if !m.hasSize(uint64(offset), uint64(len(val))) {
		return m.outOfBounds(uint64(offset), uint64(len(val)))
	}
	copy(m.Buffer[offset:], val)
	return nil
}

// ReadUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint32Le(offset uint32) (uint32, error) {
	if !m.hasSize(uint64(offset), 4) {
		return 0, m.outOfBounds(uint64(offset), 4)
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), nil
}

// WriteUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint32Le(offset, v uint32) error {
	if !m.hasSize(uint64(offset), 4) {
		return m.outOfBounds(uint64(offset), 4)
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return nil
}

// ReadUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint64Le(offset uint32) (uint64, error) {
	if !m.hasSize(uint64(offset), 8) {
		return 0, m.outOfBounds(uint64(offset), 8)
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), nil
}

// WriteUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint64Le(offset uint32, v uint64) error {
	if !m.hasSize(uint64(offset), 8) {
		return m.outOfBounds(uint64(offset), 8)
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return nil
}

// Grow implements the same method as documented on api.Memory.
//
// The size is either increased by exactly delta pages or left unchanged.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
func (m *MemoryInstance) Grow(delta uint32) (uint32, error) {
	if m.shared {
		m.mux.Lock()
		defer m.mux.Unlock()
	}
	current := m.Pages()
	if delta == 0 {
		return current, nil
	}
	newPages := uint64(current) + uint64(delta)
	if newPages > uint64(m.max) {
		return 0, wasmerr.GrowLimitExceeded(current, delta, m.max)
	}
	newLen := MemoryPagesToBytesNum(uint32(newPages))
	if m.shared {
		// Capacity was reserved at construction: extend in place.
		m.Buffer = m.Buffer[:newLen]
	} else {
		m.Buffer = append(m.Buffer, make([]byte, newLen-uint64(len(m.Buffer)))...)
	}
	return current, nil
}

// Lock acquires the lock used by atomic instructions.
func (m *MemoryInstance) Lock() { m.mux.Lock() }

// Unlock releases the lock used by atomic instructions.
func (m *MemoryInstance) Unlock() { m.mux.Unlock() }

type memoryWaiters struct {
	mux sync.Mutex
	l   *list.List
}

func (m *MemoryInstance) waitersAt(offset uint32) *memoryWaiters {
	if w, ok := m.waiters.Load(offset); ok {
		return w.(*memoryWaiters)
	}
	w, _ := m.waiters.LoadOrStore(offset, &memoryWaiters{l: list.New()})
	return w.(*memoryWaiters)
}

// Wait32 implements memory.atomic.wait32: it suspends the caller until notified at offset, or until timeout
// nanoseconds pass when timeout is non-negative. It returns 0 when woken, 1 when the value at offset is not exp, and
// 2 on timeout. The caller validates offset and alignment.
func (m *MemoryInstance) Wait32(offset uint32, exp uint32, timeout int64) uint64 {
	w := m.waitersAt(offset)
	w.mux.Lock()
	m.mux.Lock()
	cur := binary.LittleEndian.Uint32(m.Buffer[offset:])
	m.mux.Unlock()
	if cur != exp {
		w.mux.Unlock()
		return 1
	}
	return w.wait(timeout)
}

// Wait64 is the same as Wait32, except the value at offset is a 64-bit integer.
func (m *MemoryInstance) Wait64(offset uint32, exp uint64, timeout int64) uint64 {
	w := m.waitersAt(offset)
	w.mux.Lock()
	m.mux.Lock()
	cur := binary.LittleEndian.Uint64(m.Buffer[offset:])
	m.mux.Unlock()
	if cur != exp {
		w.mux.Unlock()
		return 1
	}
	return w.wait(timeout)
}

// wait must be called with w.mux held, and releases it.
func (w *memoryWaiters) wait(timeout int64) uint64 {
	ready := make(chan struct{})
	elem := w.l.PushBack(ready)
	w.mux.Unlock()

	if timeout < 0 {
		<-ready
		return 0
	}
	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()
	select {
	case <-ready:
		return 0
	case <-timer.C:
		w.mux.Lock()
		defer w.mux.Unlock()
		select {
		case <-ready: // notified while the timer fired
			return 0
		default:
			w.l.Remove(elem)
			return 2
		}
	}
}

// Notify implements memory.atomic.notify: it wakes up to count waiters at offset and returns how many were woken.
func (m *MemoryInstance) Notify(offset uint32, count uint32) uint32 {
	v, ok := m.waiters.Load(offset)
	if !ok {
		return 0
	}
	w := v.(*memoryWaiters)
	w.mux.Lock()
	defer w.mux.Unlock()

	var woken uint32
	for woken < count {
		front := w.l.Front()
		if front == nil {
			break
		}
		close(w.l.Remove(front).(chan struct{}))
		woken++
	}
	return woken
}

// MemoryPagesToBytesNum converts the given pages into the number of bytes contained in these pages.
func MemoryPagesToBytesNum(pages uint32) (bytesNum uint64) {
	return uint64(pages) << MemoryPageSizeInBits
}

// memoryBytesNumToPages converts the given number of bytes into the number of pages.
func memoryBytesNumToPages(bytesNum uint64) (pages uint32) {
	return uint32(bytesNum >> MemoryPageSizeInBits)
}

// ValidateMemoryLimits returns an error if the limits cannot describe a memory, given the engine's page ceiling.
func ValidateMemoryLimits(min, max, limit uint32, shared bool, maxEncoded bool) error {
	switch {
	case min > limit:
		return fmt.Errorf("min %d pages over limit of %d pages", min, limit)
	case max > limit:
		return fmt.Errorf("max %d pages over limit of %d pages", max, limit)
	case min > max:
		return fmt.Errorf("min %d pages > max %d pages", min, max)
	case shared && !maxEncoded:
		return fmt.Errorf("shared memory requires a max")
	}
	return nil
}
