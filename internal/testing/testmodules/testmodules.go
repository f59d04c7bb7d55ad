// Package testmodules builds the binary modules shared by the tests of the engine, the public package, the CLI and
// the differential tests against other runtimes. Modules are assembled as wasm.Module values and encoded, so no
// text format converter is needed to run the tests.
package testmodules

import (
	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasm/binary"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

// FillIterations is the count of outer iterations of the fill_0 export in the benchmark harness.
const FillIterations = 1_000_000

// FillInnerIterations is the count of stores of one outer iteration of the fill loop.
const FillInnerIterations = 16384

// FillBytes is the count of bytes written by one fill loop: one little-endian i32 word per inner iteration.
const FillBytes = 4 * FillInnerIterations

// MemoryConfig is the memory of a fill module.
type MemoryConfig struct {
	// Import is true to import env.memory instead of defining and exporting "memory".
	Import bool
	Min    uint32
	// Max is the declared maximum, or unbounded when zero.
	Max    uint32
	Shared bool
}

// HarnessMemory is the memory the harness supplies by default: (1, 1024, shared).
var HarnessMemory = MemoryConfig{Import: true, Min: 1, Max: 1024, Shared: true}

// Features returns the features needed to compile a fill module with this memory.
func (c MemoryConfig) Features() api.Features {
	if c.Shared {
		return api.FeaturesDefault | api.FeatureThreads
	}
	return api.FeaturesDefault
}

func (c MemoryConfig) memory() *wasm.Memory {
	m := &wasm.Memory{Min: c.Min, Max: c.Max, IsMaxEncoded: c.Max != 0, IsShared: c.Shared}
	if !m.IsMaxEncoded {
		m.Max = wasm.MemoryLimitPages
	}
	return m
}

// Fill returns the benchmark module. It has a data segment "abcd" at offset 16 and two exports:
//
//   - fill_0: no parameters. Repeats the fill loop `iterations` times.
//   - fill_loop(n i32): repeats the fill loop n times, at least once.
//
// One fill loop stores j at address 4*j, for j in [0, 16384), which fills the first page with consecutive words.
func Fill(iterations int32, mem MemoryConfig) *wasm.Module {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{},
			{Params: []api.ValueType{i32}},
		},
		FunctionSection: []wasm.Index{0, 1},
		CodeSection: []*wasm.Code{
			{LocalTypes: []api.ValueType{i32, i32}, Body: fillBody(0, 1, I32Const(iterations), wasm.OpcodeI32Eq)},
			{LocalTypes: []api.ValueType{i32, i32}, Body: fillBody(1, 2, []byte{wasm.OpcodeLocalGet, 0}, wasm.OpcodeI32GeU)},
		},
		DataSection: []*wasm.DataSegment{
			{OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(16)}, Init: []byte("abcd")},
		},
		NameSection: &wasm.NameSection{ModuleName: "fill", FunctionNames: wasm.NameMap{
			{Index: 0, Name: "fill_0"}, {Index: 1, Name: "fill_loop"},
		}},
	}
	if mem.Import {
		m.ImportSection = []*wasm.Import{{Type: api.ExternTypeMemory, Module: "env", Name: "memory", DescMem: mem.memory()}}
	} else {
		m.MemorySection = []*wasm.Memory{mem.memory()}
		m.ExportSection = append(m.ExportSection, &wasm.Export{Type: api.ExternTypeMemory, Name: "memory", Index: 0})
	}
	m.ExportSection = append(m.ExportSection,
		&wasm.Export{Type: api.ExternTypeFunc, Name: "fill_0", Index: 0},
		&wasm.Export{Type: api.ExternTypeFunc, Name: "fill_loop", Index: 1},
	)
	return m
}

// FillBinary is Fill, encoded.
func FillBinary(iterations int32, mem MemoryConfig) []byte {
	return binary.EncodeModule(Fill(iterations, mem))
}

// ExpectedFill returns the first n bytes of memory after any count of fill loops: word j holds j, little-endian, and
// the data segment is overwritten. Bytes past FillBytes are zero.
func ExpectedFill(n int) []byte {
	b := make([]byte, n)
	for j := 0; j < FillInnerIterations && 4*j < n; j++ {
		for k := 0; k < 4 && 4*j+k < n; k++ {
			b[4*j+k] = byte(uint32(j) >> (8 * k))
		}
	}
	return b
}

// fillBody is the fill loop with locals i and j, and an outer exit test comparing i with the limit.
func fillBody(i, j byte, limit []byte, cmp wasm.Opcode) []byte {
	return cat(
		I32Const(0), []byte{wasm.OpcodeLocalSet, i},
		[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeLoop, 0x40},
		I32Const(0), []byte{wasm.OpcodeLocalSet, j},
		[]byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeLoop, 0x40},
		// store j at address 4*j
		[]byte{wasm.OpcodeLocalGet, j}, I32Const(4), []byte{wasm.OpcodeI32Mul},
		[]byte{wasm.OpcodeLocalGet, j, wasm.OpcodeI32Store, 2, 0},
		[]byte{wasm.OpcodeLocalGet, j}, I32Const(1), []byte{wasm.OpcodeI32Add, wasm.OpcodeLocalSet, j},
		[]byte{wasm.OpcodeLocalGet, j}, I32Const(FillInnerIterations), []byte{wasm.OpcodeI32Eq, wasm.OpcodeBrIf, 1},
		[]byte{wasm.OpcodeBr, 0, wasm.OpcodeEnd, wasm.OpcodeEnd},
		[]byte{wasm.OpcodeLocalGet, i}, I32Const(1), []byte{wasm.OpcodeI32Add, wasm.OpcodeLocalSet, i},
		[]byte{wasm.OpcodeLocalGet, i}, limit, []byte{cmp, wasm.OpcodeBrIf, 1},
		[]byte{wasm.OpcodeBr, 0, wasm.OpcodeEnd, wasm.OpcodeEnd},
		[]byte{wasm.OpcodeEnd},
	)
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const}, leb128.EncodeInt32(v)...)
}

// I64Const encodes i64.const v.
func I64Const(v int64) []byte {
	return append([]byte{wasm.OpcodeI64Const}, leb128.EncodeInt64(v)...)
}

func cat(parts ...[]byte) (b []byte) {
	for _, p := range parts {
		b = append(b, p...)
	}
	return
}
