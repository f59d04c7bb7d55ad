// Package wasm holds the module model shared by the decoder, the compiler tiers and the runtime: module sections,
// validation, linear memory and instantiation.
package wasm

import (
	"fmt"
	"strings"

	"github.com/wasmtier/wasmtier/api"
)

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A8
//
// A Module is immutable once decoded: the compiler tiers and every instance share it read-only.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	//
	// Note: In the Binary Format, this is SectionIDType.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#types%E2%91%A0%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals required for instantiation.
	//
	// Note: there are no unique constraints relating to the two-level namespace of Import.Module and Import.Name.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#import-section%E2%91%A0
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 2 is defined
	// in this module at FunctionSection[0].
	//
	// Note: FunctionSection is index correlated with the CodeSection.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-section%E2%91%A0
	FunctionSection []Index

	// TableSection contains each table defined in this module. There can be at most one.
	TableSection []*Table

	// MemorySection contains each memory defined in this module. There can be at most one, and only if no memory is
	// imported.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-section%E2%91%A0
	MemorySection []*Memory

	// GlobalSection contains each global defined in this module.
	//
	// Global indexes are offset by any imported globals because the global index space begins with imports, followed by
	// ones defined in this module.
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, in the order they were declared.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#exports%E2%91%A0
	ExportSection []*Export

	// StartSection is the index of a function to call before instantiation returns.
	//
	// Note: The index here is not the position in the FunctionSection, rather in the function index namespace, which
	// begins with imported functions.
	StartSection *Index

	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#code-section%E2%91%A0
	CodeSection []*Code

	DataSection []*DataSegment

	// DataCountSection is the declared count of data segments, set when api.FeatureBulkMemoryOperations is in use.
	DataCountSection *uint32

	// NameSection is set when the SectionIDCustom "name" was successfully decoded from the binary format.
	NameSection *NameSection

	// ID is the identity of the module in an engine cache. It is assigned by the engine, not the decoder.
	ID ModuleID
}

// ModuleID is the identity of a module: a hash of its binary plus the binary length.
type ModuleID struct {
	Hash uint64
	Size uint64
}

// String implements fmt.Stringer
func (id ModuleID) String() string {
	return fmt.Sprintf("%016x-%d", id.Hash, id.Size)
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is because
// index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-index
type Index = uint32

// FunctionType is a possibly empty function signature.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []api.ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	//
	// Note: In WebAssembly 1.0 (20191205), there can be at most one result.
	Results []api.ValueType
}

// EqualsSignature returns true if the function type has the same parameters and results.
func (t *FunctionType) EqualsSignature(params []api.ValueType, results []api.ValueType) bool {
	return string(t.Params) == string(params) && string(t.Results) == string(results)
}

// String returns the text format signature, ex. "(i32, i32) -> i64".
func (t *FunctionType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(") -> (")
	for i, r := range t.Results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

// Import is the binary representation of an import indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
type Import struct {
	Type api.ExternType
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Type equals api.ExternTypeFunc
	DescFunc Index
	// DescTable is the inlined Table when Type equals api.ExternTypeTable
	DescTable *Table
	// DescMem is the inlined Memory when Type equals api.ExternTypeMemory
	DescMem *Memory
	// DescGlobal is the inlined GlobalType when Type equals api.ExternTypeGlobal
	DescGlobal *GlobalType
}

// Memory describes the limits of pages (64KB) in a memory.
type Memory struct {
	Min uint32
	// Max is the maximum pages. When IsMaxEncoded is false, this is the engine's page ceiling.
	Max uint32
	// IsMaxEncoded true if the Max is encoded in the original binary.
	IsMaxEncoded bool
	// IsShared true if the memory is shared for access from multiple agents.
	IsShared bool
}

// Table describes the limits of a funcref table.
type Table struct {
	Min uint32
	Max *uint32
}

// RefTypeFuncref is the only table element type supported.
const RefTypeFuncref = 0x70

// GlobalType is the type of a global.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// Global is a global defined in this module.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single constant instruction, such as i32.const or global.get, excluding the trailing end.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Export is the binary representation of an export indicated by Type
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-export
type Export struct {
	Type api.ExternType
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Type
	// Ex. If api.ExternTypeFunc, this is a position in the function index namespace.
	Index Index
}

// ElementSegment initializes a range of table 0 with function indices.
type ElementSegment struct {
	OffsetExpr *ConstantExpression
	Init       []Index
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []api.ValueType
	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte
}

// DataSegment copies Init into memory 0 at the offset, or is kept aside for memory.init when passive.
type DataSegment struct {
	OffsetExpression *ConstantExpression
	Init             []byte
	// Passive is only possible with api.FeatureBulkMemoryOperations.
	Passive bool
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// Note: This can be nil if no names were decoded for any reason including configuration.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#name-section%E2%91%A0
type NameSection struct {
	// ModuleName is the symbolic identifier for a module. Ex. math
	ModuleName string

	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	//
	// The key is in the function namespace, where module defined functions are preceded by imported ones.
	FunctionNames NameMap
}

// NameMap associates an index with any associated names.
//
// Note: When encoding in the Binary format, this must be ordered by NameAssoc.Index
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// ImportFuncCount returns the count of imported functions, which precede defined ones in the function index space.
func (m *Module) ImportFuncCount() uint32 {
	return m.importCount(api.ExternTypeFunc)
}

// ImportGlobalCount returns the count of imported globals.
func (m *Module) ImportGlobalCount() uint32 {
	return m.importCount(api.ExternTypeGlobal)
}

func (m *Module) importCount(et api.ExternType) (n uint32) {
	for _, im := range m.ImportSection {
		if im.Type == et {
			n++
		}
	}
	return
}

// TypeOfFunction returns the FunctionType for the given function namespace index or nil.
// Note: The function index namespace is preceded by imported functions.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	funcImportCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Type == api.ExternTypeFunc {
			if funcIdx == funcImportCount {
				if im.DescFunc >= typeSectionLength {
					return nil
				}
				return m.TypeSection[im.DescFunc]
			}
			funcImportCount++
		}
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// GlobalTypes returns the types of all globals, imported ones first.
func (m *Module) GlobalTypes() (globals []*GlobalType) {
	for _, im := range m.ImportSection {
		if im.Type == api.ExternTypeGlobal {
			globals = append(globals, im.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	return
}

// MemoryType returns the imported or defined memory, or nil if the module has none.
func (m *Module) MemoryType() *Memory {
	for _, im := range m.ImportSection {
		if im.Type == api.ExternTypeMemory {
			return im.DescMem
		}
	}
	if len(m.MemorySection) > 0 {
		return m.MemorySection[0]
	}
	return nil
}

// HasTable returns true if the module defines or imports a table.
func (m *Module) HasTable() bool {
	return len(m.TableSection) > 0 || m.importCount(api.ExternTypeTable) > 0
}

// Export returns the export of the given name, or nil.
func (m *Module) Export(name string) *Export {
	for _, e := range m.ExportSection {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FunctionName returns the name of the function from the name section, or an export name, or "".
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection != nil {
		for _, n := range m.NameSection.FunctionNames {
			if n.Index == funcIdx {
				return n.Name
			}
		}
	}
	for _, e := range m.ExportSection {
		if e.Type == api.ExternTypeFunc && e.Index == funcIdx {
			return e.Name
		}
	}
	return ""
}

// SectionElementCount returns the count of elements in a given section ID
//
// For example...
// * SectionIDType returns the count of FunctionType
// * SectionIDCustom returns one if the NameSection is present
// * SectionIDExport returns the count of exports
func (m *Module) SectionElementCount(sectionID SectionID) uint32 { // element as in vector elements!
	switch sectionID {
	case SectionIDCustom:
		if m.NameSection != nil {
			return 1
		}
		return 0
	case SectionIDType:
		return uint32(len(m.TypeSection))
	case SectionIDImport:
		return uint32(len(m.ImportSection))
	case SectionIDFunction:
		return uint32(len(m.FunctionSection))
	case SectionIDTable:
		return uint32(len(m.TableSection))
	case SectionIDMemory:
		return uint32(len(m.MemorySection))
	case SectionIDGlobal:
		return uint32(len(m.GlobalSection))
	case SectionIDExport:
		return uint32(len(m.ExportSection))
	case SectionIDStart:
		if m.StartSection != nil {
			return 1
		}
		return 0
	case SectionIDElement:
		return uint32(len(m.ElementSection))
	case SectionIDCode:
		return uint32(len(m.CodeSection))
	case SectionIDData:
		return uint32(len(m.DataSection))
	case SectionIDDataCount:
		if m.DataCountSection != nil {
			return 1
		}
		return 0
	default:
		panic(fmt.Errorf("BUG: unknown section: %d", sectionID))
	}
}

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (20191205) Binary Format.
//
// Note: these are defined in the wasm package, instead of the binary package, as a key per section is needed regardless
// of format, and deferring to the binary type avoids confusion.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	// SectionIDDataCount is only valid with api.FeatureBulkMemoryOperations. It precedes SectionIDCode.
	SectionIDDataCount
)

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	switch sectionID {
	case SectionIDCustom:
		return "custom"
	case SectionIDType:
		return "type"
	case SectionIDImport:
		return "import"
	case SectionIDFunction:
		return "function"
	case SectionIDTable:
		return "table"
	case SectionIDMemory:
		return "memory"
	case SectionIDGlobal:
		return "global"
	case SectionIDExport:
		return "export"
	case SectionIDStart:
		return "start"
	case SectionIDElement:
		return "element"
	case SectionIDCode:
		return "code"
	case SectionIDData:
		return "data"
	case SectionIDDataCount:
		return "data_count"
	}
	return "unknown"
}
