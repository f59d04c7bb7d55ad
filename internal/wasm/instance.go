package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// ExternType implements api.Extern
func (f *FunctionInstance) ExternType() api.ExternType {
	return api.ExternTypeFunc
}

// Imports maps an import namespace and name to what satisfies it: a *FunctionInstance, *MemoryInstance or
// *GlobalInstance.
type Imports map[string]map[string]api.Extern

// ModuleInstance is a Module bound to its imports, with its own globals, table and data instances.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#module-instances%E2%91%A0
type ModuleInstance struct {
	Module *Module
	// Functions is the function index space: imported functions, then defined ones.
	Functions []*FunctionInstance
	// Globals is the global index space: imported globals, then defined ones.
	Globals []*GlobalInstance
	// Memory is nil if the module neither imports nor defines one.
	Memory *MemoryInstance
	// Table is nil if the module doesn't define one.
	Table *TableInstance
	// DataInstances are the payloads of data segments available to memory.init. Active segments, and passive ones
	// after data.drop, are nil.
	DataInstances [][]byte
	Engine        ModuleEngine
}

// Export returns the export of the given name and type, or an error of wasmerr.KindExportNotFound or
// wasmerr.KindExportKindMismatch.
func (m *ModuleInstance) Export(name string, et api.ExternType) (*Export, error) {
	exp := m.Module.Export(name)
	if exp == nil {
		return nil, wasmerr.New(wasmerr.PhaseCall, wasmerr.KindExportNotFound).Name(name).Build()
	}
	if exp.Type != et {
		return nil, wasmerr.New(wasmerr.PhaseCall, wasmerr.KindExportKindMismatch).Name(name).
			Detail("export is a %s, not a %s", api.ExternTypeName(exp.Type), api.ExternTypeName(et)).Build()
	}
	return exp, nil
}

// Instantiate binds the module to its imports and runs the start function, if any.
//
// Segments are checked against the table and memory before any is applied, so a failure leaves no writes behind in
// an imported memory or table.
func Instantiate(ctx context.Context, module *Module, code CompiledCode, imports Imports) (*ModuleInstance, error) {
	m := &ModuleInstance{Module: module}
	if err := m.resolveImports(imports); err != nil {
		return nil, err
	}

	importedGlobals := len(m.Globals)
	for _, g := range module.GlobalSection {
		v, err := g.Init.Eval(m.Globals[:importedGlobals])
		if err != nil {
			return nil, instantiationError(wasmerr.KindInvalidModule, err)
		}
		m.Globals = append(m.Globals, &GlobalInstance{GlobalType: g.Type, Val: v})
	}

	importedFuncs := Index(len(m.Functions))
	for i, typeIdx := range module.FunctionSection {
		idx := importedFuncs + Index(i)
		m.Functions = append(m.Functions, &FunctionInstance{
			Type:     module.TypeSection[typeIdx],
			Instance: m,
			Idx:      idx,
			Name:     module.FunctionName(idx),
		})
	}

	if len(module.MemorySection) > 0 {
		m.Memory = NewMemoryInstance(module.MemorySection[0])
	}
	if len(module.TableSection) > 0 {
		t := module.TableSection[0]
		m.Table = &TableInstance{References: make([]*FunctionInstance, t.Min), Min: t.Min, Max: t.Max}
	}

	elemOffsets, err := m.validateElements()
	if err != nil {
		return nil, err
	}
	var precomputed []DataOffset
	if o, ok := code.(DataOffsetter); ok {
		precomputed = o.DataOffsets()
	}
	dataOffsets, err := m.validateData(precomputed)
	if err != nil {
		return nil, err
	}

	// Now all the validation passes, we are safe to mutate memory/table instances (possibly imported ones).
	m.applyElements(elemOffsets)
	m.applyData(dataOffsets)

	if m.Engine, err = code.NewModuleEngine(m); err != nil {
		return nil, instantiationError(wasmerr.KindInvalidModule, err)
	}

	if module.StartSection != nil {
		start := m.Functions[*module.StartSection]
		if _, err = m.Engine.Call(ctx, start, nil); err != nil {
			b := wasmerr.New(wasmerr.PhaseInstantiate, wasmerr.KindTrap).Cause(err).
				Function(start.Idx).Detail("start function failed")
			var werr *wasmerr.Error
			if errors.As(err, &werr) {
				b.Trap(werr.Trap)
			}
			return nil, b.Build()
		}
	}
	return m, nil
}

func instantiationError(kind wasmerr.Kind, cause error) error {
	return wasmerr.New(wasmerr.PhaseInstantiate, kind).Cause(cause).Build()
}

func importError(kind wasmerr.Kind, im *Import, detail string, args ...any) error {
	return wasmerr.New(wasmerr.PhaseInstantiate, kind).Import(im.Module, im.Name).Detail(detail, args...).Build()
}

func (m *ModuleInstance) resolveImports(imports Imports) error {
	module := m.Module
	for _, im := range module.ImportSection {
		ext, ok := imports[im.Module][im.Name]
		if !ok || ext == nil {
			return importError(wasmerr.KindMissingImport, im, "%s import not provided", api.ExternTypeName(im.Type))
		}
		if ext.ExternType() != im.Type {
			return importError(wasmerr.KindImportTypeMismatch, im, "expected %s, but was %s",
				api.ExternTypeName(im.Type), api.ExternTypeName(ext.ExternType()))
		}

		switch im.Type {
		case api.ExternTypeFunc:
			f, ok := ext.(*FunctionInstance)
			if !ok {
				return importError(wasmerr.KindImportTypeMismatch, im, "unsupported function implementation %T", ext)
			}
			expected := module.TypeSection[im.DescFunc]
			if !f.Type.EqualsSignature(expected.Params, expected.Results) {
				return importError(wasmerr.KindImportTypeMismatch, im, "signature mismatch: %s != %s", expected, f.Type)
			}
			m.Functions = append(m.Functions, f)
		case api.ExternTypeMemory:
			mem, ok := ext.(*MemoryInstance)
			if !ok {
				return importError(wasmerr.KindImportTypeMismatch, im, "unsupported memory implementation %T", ext)
			}
			if err := checkMemoryImport(im.DescMem, mem); err != nil {
				return importError(wasmerr.KindImportTypeMismatch, im, "%v", err)
			}
			m.Memory = mem
		case api.ExternTypeGlobal:
			g, ok := ext.(*GlobalInstance)
			if !ok {
				return importError(wasmerr.KindImportTypeMismatch, im, "unsupported global implementation %T", ext)
			}
			if im.DescGlobal.Mutable != g.GlobalType.Mutable {
				return importError(wasmerr.KindImportTypeMismatch, im, "mutability mismatch")
			} else if im.DescGlobal.ValType != g.GlobalType.ValType {
				return importError(wasmerr.KindImportTypeMismatch, im, "value type mismatch: %s != %s",
					api.ValueTypeName(im.DescGlobal.ValType), api.ValueTypeName(g.GlobalType.ValType))
			}
			m.Globals = append(m.Globals, g)
		default:
			return importError(wasmerr.KindUnsupportedFeature, im, "%s imports are not supported",
				api.ExternTypeName(im.Type))
		}
	}
	return nil
}

// checkMemoryImport returns an error unless the memory satisfies the declared limits. The current size of the memory
// stands for its minimum.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#limits%E2%91%A6
func checkMemoryImport(declared *Memory, mem *MemoryInstance) error {
	if pages := mem.Pages(); pages < declared.Min {
		return fmt.Errorf("minimum size mismatch: %d < %d pages", pages, declared.Min)
	}
	if declared.IsMaxEncoded {
		hostMax, encoded := mem.Max()
		if !encoded {
			return fmt.Errorf("maximum size mismatch: unbounded, but module requires max %d pages", declared.Max)
		} else if hostMax > declared.Max {
			return fmt.Errorf("maximum size mismatch: %d > %d pages", hostMax, declared.Max)
		}
	}
	if declared.IsShared != mem.Shared() {
		return fmt.Errorf("shared mismatch: module requires shared=%t", declared.IsShared)
	}
	return nil
}

func (m *ModuleInstance) validateElements() ([]uint32, error) {
	elems := m.Module.ElementSection
	offsets := make([]uint32, len(elems))
	for i, elem := range elems {
		v, err := elem.OffsetExpr.Eval(m.Globals)
		if err != nil {
			return nil, instantiationError(wasmerr.KindInvalidModule, err)
		}
		offset := uint32(v)
		if m.Table == nil || uint64(offset)+uint64(len(elem.Init)) > uint64(len(m.Table.References)) {
			return nil, wasmerr.New(wasmerr.PhaseInstantiate, wasmerr.KindElementSegmentOutOfBounds).
				Detail("element[%d] at offset %d with %d entries is out of table bounds", i, offset, len(elem.Init)).Build()
		}
		offsets[i] = offset
	}
	return offsets, nil
}

// validateData returns the offsets of the active data segments. precomputed, when its length matches the data
// section, supplies the constant ones.
func (m *ModuleInstance) validateData(precomputed []DataOffset) ([]uint32, error) {
	data := m.Module.DataSection
	if len(precomputed) != len(data) {
		precomputed = nil
	}
	offsets := make([]uint32, len(data))
	for i, d := range data {
		if d.Passive {
			continue
		}
		var offset uint32
		if precomputed != nil && precomputed[i].Constant {
			offset = precomputed[i].Offset
		} else {
			v, err := d.OffsetExpression.Eval(m.Globals)
			if err != nil {
				return nil, instantiationError(wasmerr.KindInvalidModule, err)
			}
			offset = uint32(v)
		}
		if m.Memory == nil || uint64(offset)+uint64(len(d.Init)) > m.Memory.Size() {
			var size uint64
			if m.Memory != nil {
				size = m.Memory.Size()
			}
			return nil, wasmerr.New(wasmerr.PhaseInstantiate, wasmerr.KindDataSegmentOutOfBounds).
				Detail("data[%d] at offset %d with %d bytes exceeds memory size %d", i, offset, len(d.Init), size).Build()
		}
		offsets[i] = offset
	}
	return offsets, nil
}

func (m *ModuleInstance) applyElements(offsets []uint32) {
	for i, elem := range m.Module.ElementSection {
		refs := m.Table.References[offsets[i]:]
		for j, funcIdx := range elem.Init {
			refs[j] = m.Functions[funcIdx]
		}
	}
}

func (m *ModuleInstance) applyData(offsets []uint32) {
	m.DataInstances = make([][]byte, len(m.Module.DataSection))
	for i, d := range m.Module.DataSection {
		if d.Passive {
			m.DataInstances[i] = d.Init
			continue
		}
		copy(m.Memory.Buffer[offsets[i]:], d.Init)
	}
}
