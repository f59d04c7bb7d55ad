package testmodules

import (
	"math"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Invocation is a call of an export with raw parameters.
type Invocation struct {
	Export string
	Params []uint64
}

// Case is one call of an export of a fresh instance, after the Setup calls. Exactly one of Results or Trap is
// meaningful.
type Case struct {
	Name  string
	Setup []Invocation
	Invocation
	Results []uint64
	// Trap is the wasmerr.ErrTrap sentinel the call fails with, or nil.
	Trap error
}

func neg32(v int32) uint64 { return uint64(uint32(v)) }

func le32(s string) uint64 {
	return uint64(s[0]) | uint64(s[1])<<8 | uint64(s[2])<<16 | uint64(s[3])<<24
}

func lg(i byte) []byte { return []byte{wasm.OpcodeLocalGet, i} }

// Corpus returns a module covering arithmetic, control flow, calls, call_indirect, globals, conversions and bulk
// memory, with the default features. Its memory is defined, non-shared, with limits (1, 2).
func Corpus() *wasm.Module {
	types := []*wasm.FunctionType{
		{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}},      // 0
		{Params: []api.ValueType{i64, i64}, Results: []api.ValueType{i64}},      // 1
		{Params: []api.ValueType{i64}, Results: []api.ValueType{i64}},           // 2
		{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}},           // 3
		{Params: []api.ValueType{f64, f64}, Results: []api.ValueType{f64}},      // 4
		{Params: []api.ValueType{f64}, Results: []api.ValueType{i32}},           // 5
		{Results: []api.ValueType{i32}},                                         // 6
		{Params: []api.ValueType{i32, i32, i32}},                                // 7
		{},                                                                      // 8
		{Params: []api.ValueType{i32, i32, i32}, Results: []api.ValueType{i32}}, // 9
		{Params: []api.ValueType{i32, i32}},                                     // 10
	}
	funcs := []struct {
		name   string
		typ    wasm.Index
		locals []api.ValueType
		body   []byte
	}{
		{"add_i32", 0, nil, cat(lg(0), lg(1), []byte{wasm.OpcodeI32Add})},
		{"div_s_i32", 0, nil, cat(lg(0), lg(1), []byte{wasm.OpcodeI32DivS})},
		{"rem_u_i64", 1, nil, cat(lg(0), lg(1), []byte{wasm.OpcodeI64RemU})},
		{"fac_i64", 2, nil, cat(
			lg(0), []byte{wasm.OpcodeI64Eqz, wasm.OpcodeIf, i64},
			I64Const(1),
			[]byte{wasm.OpcodeElse}, lg(0), lg(0), I64Const(1), []byte{wasm.OpcodeI64Sub, wasm.OpcodeCall, 3, wasm.OpcodeI64Mul},
			[]byte{wasm.OpcodeEnd},
		)},
		{"fib", 3, []api.ValueType{i32, i32}, cat(
			I32Const(0), []byte{wasm.OpcodeLocalSet, 1}, I32Const(1), []byte{wasm.OpcodeLocalSet, 2},
			[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeLoop, 0x40},
			lg(0), []byte{wasm.OpcodeI32Eqz, wasm.OpcodeBrIf, 1},
			lg(1), lg(2), []byte{wasm.OpcodeI32Add}, lg(2), []byte{wasm.OpcodeLocalSet, 1, wasm.OpcodeLocalSet, 2},
			lg(0), I32Const(1), []byte{wasm.OpcodeI32Sub, wasm.OpcodeLocalSet, 0},
			[]byte{wasm.OpcodeBr, 0, wasm.OpcodeEnd, wasm.OpcodeEnd},
			lg(1),
		)},
		{"sqrt_add", 4, nil, cat(lg(0), []byte{wasm.OpcodeF64Sqrt}, lg(1), []byte{wasm.OpcodeF64Add})},
		{"trunc_s", 5, nil, cat(lg(0), []byte{wasm.OpcodeI32TruncF64S})},
		{"trunc_sat_s", 5, nil, cat(lg(0), []byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF64S})},
		{"counter", 6, nil, []byte{
			wasm.OpcodeGlobalGet, 0, wasm.OpcodeI32Const, 1, wasm.OpcodeI32Add, wasm.OpcodeGlobalSet, 0,
			wasm.OpcodeGlobalGet, 0,
		}},
		{"dispatch", 3, nil, cat(lg(0), []byte{wasm.OpcodeCallIndirect, 6, 0})},
		{"answer", 6, nil, I32Const(42)},
		{"fill", 7, nil, cat(lg(0), lg(1), lg(2), []byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryFill, 0})},
		{"copy", 7, nil, cat(lg(0), lg(1), lg(2), []byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryCopy, 0, 0})},
		{"load", 3, nil, cat(lg(0), []byte{wasm.OpcodeI32Load, 2, 0})},
		{"unreachable", 8, nil, []byte{wasm.OpcodeUnreachable}},
		{"extend8", 3, nil, cat(lg(0), []byte{wasm.OpcodeI32Extend8S})},
		{"select", 9, nil, cat(lg(0), lg(1), lg(2), []byte{wasm.OpcodeSelect})},
		{"br_table", 3, nil, cat(
			[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeBlock, 0x40, wasm.OpcodeBlock, 0x40},
			lg(0), []byte{wasm.OpcodeBrTable, 2, 0, 1, 2},
			[]byte{wasm.OpcodeEnd}, I32Const(10), []byte{wasm.OpcodeReturn},
			[]byte{wasm.OpcodeEnd}, I32Const(11), []byte{wasm.OpcodeReturn},
			[]byte{wasm.OpcodeEnd}, I32Const(12),
		)},
		{"grow", 3, nil, cat(lg(0), []byte{wasm.OpcodeMemoryGrow, 0})},
		{"size", 6, nil, []byte{wasm.OpcodeMemorySize, 0}},
		{"init", 7, nil, cat(lg(0), lg(1), lg(2), []byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscMemoryInit, 1, 0})},
		{"drop", 8, nil, []byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscDataDrop, 1}},
		{"recurse", 8, nil, []byte{wasm.OpcodeCall, 22}},
		{"store", 10, nil, cat(lg(0), lg(1), []byte{wasm.OpcodeI32Store, 2, 0})},
	}

	dataCount := uint32(2)
	tableMax := uint32(4)
	m := &wasm.Module{
		TypeSection:   types,
		TableSection:  []*wasm.Table{{Min: 4, Max: &tableMax}},
		MemorySection: []*wasm.Memory{{Min: 1, Max: 2, IsMaxEncoded: true}},
		GlobalSection: []*wasm.Global{{
			Type: &wasm.GlobalType{ValType: i32, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
		}},
		// answer, counter and sqrt_add, so slot 2 has the wrong type and slot 3 is null.
		ElementSection: []*wasm.ElementSegment{{
			OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)},
			Init:       []wasm.Index{10, 8, 5},
		}},
		DataCountSection: &dataCount,
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(16)}, Init: []byte("abcd")},
			{Passive: true, Init: []byte("hello")},
		},
		NameSection: &wasm.NameSection{ModuleName: "corpus"},
	}
	for i, f := range funcs {
		m.FunctionSection = append(m.FunctionSection, f.typ)
		m.CodeSection = append(m.CodeSection, &wasm.Code{LocalTypes: f.locals, Body: append(f.body, wasm.OpcodeEnd)})
		m.ExportSection = append(m.ExportSection, &wasm.Export{Type: api.ExternTypeFunc, Name: f.name, Index: wasm.Index(i)})
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &wasm.NameAssoc{Index: wasm.Index(i), Name: f.name})
	}
	m.ExportSection = append(m.ExportSection, &wasm.Export{Type: api.ExternTypeMemory, Name: "memory", Index: 0})
	return m
}

// CorpusBinary is Corpus, encoded.
func CorpusBinary() []byte {
	return binary.EncodeModule(Corpus())
}

func call(export string, params ...uint64) Invocation {
	return Invocation{Export: export, Params: params}
}

// CorpusCases are the expected behaviors of Corpus.
var CorpusCases = []Case{
	{Name: "add", Invocation: call("add_i32", 1, 2), Results: []uint64{3}},
	{Name: "add wraps", Invocation: call("add_i32", math.MaxInt32, 1), Results: []uint64{0x80000000}},
	{Name: "div_s", Invocation: call("div_s_i32", neg32(-10), 3), Results: []uint64{neg32(-3)}},
	{Name: "div_s by zero", Invocation: call("div_s_i32", 1, 0), Trap: wasmerr.ErrTrapIntegerDivideByZero},
	{Name: "div_s overflow", Invocation: call("div_s_i32", 0x80000000, neg32(-1)), Trap: wasmerr.ErrTrapIntegerOverflow},
	{Name: "rem_u", Invocation: call("rem_u_i64", 10, 3), Results: []uint64{1}},
	{Name: "rem_u by zero", Invocation: call("rem_u_i64", 10, 0), Trap: wasmerr.ErrTrapIntegerDivideByZero},
	{Name: "factorial", Invocation: call("fac_i64", 20), Results: []uint64{2432902008176640000}},
	{Name: "fibonacci", Invocation: call("fib", 10), Results: []uint64{55}},
	{Name: "sqrt add", Invocation: call("sqrt_add", api.EncodeF64(16), api.EncodeF64(0.5)), Results: []uint64{api.EncodeF64(4.5)}},
	{Name: "trunc", Invocation: call("trunc_s", api.EncodeF64(3.9)), Results: []uint64{3}},
	{Name: "trunc negative", Invocation: call("trunc_s", api.EncodeF64(-3.9)), Results: []uint64{neg32(-3)}},
	{Name: "trunc NaN", Invocation: call("trunc_s", api.EncodeF64(math.NaN())), Trap: wasmerr.ErrTrapInvalidConversionToInteger},
	{Name: "trunc overflow", Invocation: call("trunc_s", api.EncodeF64(3e9)), Trap: wasmerr.ErrTrapIntegerOverflow},
	{Name: "trunc_sat overflow", Invocation: call("trunc_sat_s", api.EncodeF64(3e9)), Results: []uint64{math.MaxInt32}},
	{Name: "trunc_sat underflow", Invocation: call("trunc_sat_s", api.EncodeF64(-3e9)), Results: []uint64{0x80000000}},
	{Name: "trunc_sat NaN", Invocation: call("trunc_sat_s", api.EncodeF64(math.NaN())), Results: []uint64{0}},
	{Name: "global", Invocation: call("counter"), Results: []uint64{1}},
	{Name: "global twice", Setup: []Invocation{call("counter")}, Invocation: call("counter"), Results: []uint64{2}},
	{Name: "call_indirect", Invocation: call("dispatch", 0), Results: []uint64{42}},
	{Name: "call_indirect global", Invocation: call("dispatch", 1), Results: []uint64{1}},
	{Name: "call_indirect type mismatch", Invocation: call("dispatch", 2), Trap: wasmerr.ErrTrapIndirectCallTypeMismatch},
	{Name: "call_indirect null", Invocation: call("dispatch", 3), Trap: wasmerr.ErrTrapInvalidTableAccess},
	{Name: "call_indirect out of table", Invocation: call("dispatch", 4), Trap: wasmerr.ErrTrapInvalidTableAccess},
	{Name: "data segment", Invocation: call("load", 16), Results: []uint64{le32("abcd")}},
	{Name: "load out of bounds", Invocation: call("load", 65533), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "load at negative address", Invocation: call("load", neg32(-4)), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "store out of bounds", Invocation: call("store", 65534, 7), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "fill", Setup: []Invocation{call("fill", 100, 0xab, 4)}, Invocation: call("load", 100), Results: []uint64{0xabababab}},
	{Name: "fill out of bounds", Invocation: call("fill", 65535, 1, 2), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "copy", Setup: []Invocation{call("copy", 0, 16, 4)}, Invocation: call("load", 0), Results: []uint64{le32("abcd")}},
	{Name: "copy overlapping", Setup: []Invocation{call("copy", 17, 16, 4)}, Invocation: call("load", 16), Results: []uint64{le32("aabc")}},
	{Name: "copy out of bounds", Invocation: call("copy", 0, 65535, 2), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "memory.init", Setup: []Invocation{call("init", 0, 0, 5)}, Invocation: call("load", 0), Results: []uint64{le32("hell")}},
	{Name: "memory.init past segment", Invocation: call("init", 0, 3, 5), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "memory.init dropped", Setup: []Invocation{call("drop")}, Invocation: call("init", 0, 0, 1), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "unreachable", Invocation: call("unreachable"), Trap: wasmerr.ErrTrapUnreachable},
	{Name: "extend8", Invocation: call("extend8", 0x80), Results: []uint64{0xffffff80}},
	{Name: "select first", Invocation: call("select", 1, 2, 5), Results: []uint64{1}},
	{Name: "select second", Invocation: call("select", 1, 2, 0), Results: []uint64{2}},
	{Name: "br_table 0", Invocation: call("br_table", 0), Results: []uint64{10}},
	{Name: "br_table 1", Invocation: call("br_table", 1), Results: []uint64{11}},
	{Name: "br_table default", Invocation: call("br_table", 7), Results: []uint64{12}},
	{Name: "grow", Invocation: call("grow", 1), Results: []uint64{1}},
	{Name: "grow past max", Invocation: call("grow", 2), Results: []uint64{neg32(-1)}},
	{Name: "size after grow", Setup: []Invocation{call("grow", 1)}, Invocation: call("size"), Results: []uint64{2}},
	{Name: "stack exhausted", Invocation: call("recurse"), Trap: wasmerr.ErrTrapCallStackExhausted},
}

// Atomics returns a module exercising the atomic instructions on a defined shared memory (1, 1). It needs
// api.FeatureThreads.
func Atomics() *wasm.Module {
	types := []*wasm.FunctionType{
		{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}},      // 0
		{Params: []api.ValueType{i32, i32, i32}, Results: []api.ValueType{i32}}, // 1
		{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}},           // 2
		{Params: []api.ValueType{i32, i32, i64}, Results: []api.ValueType{i32}}, // 3
	}
	atomic := func(op wasm.OpcodeAtomic, align byte) []byte {
		return []byte{wasm.OpcodeAtomicPrefix, op, align, 0}
	}
	funcs := []struct {
		name string
		typ  wasm.Index
		body []byte
	}{
		{"rmw_add", 0, cat(lg(0), lg(1), atomic(wasm.OpcodeAtomicRMWAdd, 2))},
		{"cmpxchg", 1, cat(lg(0), lg(1), lg(2), atomic(wasm.OpcodeAtomicRMWCmpxchg, 2))},
		{"load", 2, cat(lg(0), atomic(wasm.OpcodeAtomicI32Load, 2))},
		{"notify", 0, cat(lg(0), lg(1), atomic(wasm.OpcodeAtomicMemoryNotify, 2))},
		{"wait32", 3, cat(lg(0), lg(1), lg(2), atomic(wasm.OpcodeAtomicMemoryWait32, 2))},
		// i32.atomic.rmw8.add_u
		{"rmw8_add", 0, cat(lg(0), lg(1), atomic(wasm.OpcodeAtomicRMWAdd+2, 0))},
	}
	m := &wasm.Module{
		TypeSection:   types,
		MemorySection: []*wasm.Memory{{Min: 1, Max: 1, IsMaxEncoded: true, IsShared: true}},
		NameSection:   &wasm.NameSection{ModuleName: "atomics"},
	}
	for i, f := range funcs {
		m.FunctionSection = append(m.FunctionSection, f.typ)
		m.CodeSection = append(m.CodeSection, &wasm.Code{Body: append(f.body, wasm.OpcodeEnd)})
		m.ExportSection = append(m.ExportSection, &wasm.Export{Type: api.ExternTypeFunc, Name: f.name, Index: wasm.Index(i)})
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames, &wasm.NameAssoc{Index: wasm.Index(i), Name: f.name})
	}
	m.ExportSection = append(m.ExportSection, &wasm.Export{Type: api.ExternTypeMemory, Name: "memory", Index: 0})
	return m
}

// AtomicsBinary is Atomics, encoded.
func AtomicsBinary() []byte {
	return binary.EncodeModule(Atomics())
}

// AtomicsCases are the expected behaviors of Atomics.
var AtomicsCases = []Case{
	{Name: "rmw add", Invocation: call("rmw_add", 0, 5), Results: []uint64{0}},
	{Name: "rmw add twice", Setup: []Invocation{call("rmw_add", 0, 5)}, Invocation: call("rmw_add", 0, 1), Results: []uint64{5}},
	{Name: "rmw unaligned", Invocation: call("rmw_add", 2, 1), Trap: wasmerr.ErrTrapUnalignedAtomic},
	{Name: "rmw out of bounds", Invocation: call("rmw_add", 65536, 1), Trap: wasmerr.ErrTrapOutOfBoundsAccess},
	{Name: "cmpxchg swaps", Setup: []Invocation{call("cmpxchg", 0, 0, 9)}, Invocation: call("load", 0), Results: []uint64{9}},
	{Name: "cmpxchg keeps", Setup: []Invocation{call("cmpxchg", 0, 1, 9)}, Invocation: call("load", 0), Results: []uint64{0}},
	{Name: "rmw8 add", Setup: []Invocation{call("rmw8_add", 3, 0x1ff)}, Invocation: call("load", 0), Results: []uint64{0xff000000}},
	{Name: "wait not equal", Invocation: call("wait32", 0, 1, 0), Results: []uint64{1}},
	{Name: "wait timeout", Invocation: call("wait32", 0, 0, 0), Results: []uint64{2}},
	{Name: "notify without waiters", Invocation: call("notify", 0, 1), Results: []uint64{0}},
}
