package wasm

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Validate checks the module structure outside function bodies, which are checked when compiled.
//
// A feature problem is returned alone, as a KindDisabledFeature or KindUnsupportedFeature error. Otherwise, every
// structural problem found is reported together in one KindInvalidModule error.
func (m *Module) Validate(features api.Features) error {
	if err := m.validateFeatures(features); err != nil {
		return err
	}

	var errs error
	funcCount := m.ImportFuncCount() + uint32(len(m.FunctionSection))
	globals := m.GlobalTypes()

	if len(m.FunctionSection) != len(m.CodeSection) {
		errs = multierr.Append(errs, fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection)))
	}
	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= uint32(len(m.TypeSection)) {
			errs = multierr.Append(errs, fmt.Errorf("function[%d] has invalid type index %d", i, typeIdx))
		}
	}

	memoryCount := len(m.MemorySection)
	for i, im := range m.ImportSection {
		switch im.Type {
		case api.ExternTypeFunc:
			if im.DescFunc >= uint32(len(m.TypeSection)) {
				errs = multierr.Append(errs, fmt.Errorf("import[%d] %s.%s has invalid type index %d",
					i, im.Module, im.Name, im.DescFunc))
			}
		case api.ExternTypeMemory:
			memoryCount++
		}
	}
	if memoryCount > 1 {
		errs = multierr.Append(errs, fmt.Errorf("at most one memory allowed in module, but found %d", memoryCount))
	}
	if len(m.TableSection) > 1 {
		errs = multierr.Append(errs, fmt.Errorf("at most one table allowed in module, but found %d", len(m.TableSection)))
	}

	importedGlobals := globals[:m.ImportGlobalCount()]
	for i, g := range m.GlobalSection {
		t, err := g.Init.ResultType(importedGlobals)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("global[%d] initializer: %w", i, err))
		} else if t != g.Type.ValType {
			errs = multierr.Append(errs, fmt.Errorf("global[%d] initializer has type %s, but global is %s",
				i, api.ValueTypeName(t), api.ValueTypeName(g.Type.ValType)))
		}
	}

	errs = multierr.Append(errs, m.validateExports(funcCount, uint32(len(globals)), memoryCount > 0))

	if m.StartSection != nil {
		idx := *m.StartSection
		if idx >= funcCount {
			errs = multierr.Append(errs, fmt.Errorf("invalid start function index %d", idx))
		} else if ft := m.TypeOfFunction(idx); ft != nil && (len(ft.Params) > 0 || len(ft.Results) > 0) {
			errs = multierr.Append(errs, fmt.Errorf("start function must have an empty signature, but was %s", ft))
		}
	}

	for i, elem := range m.ElementSection {
		if len(m.TableSection) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("element[%d] requires a table", i))
			break
		}
		errs = multierr.Append(errs, checkOffsetExpr(fmt.Sprintf("element[%d]", i), elem.OffsetExpr, importedGlobals))
		for j, funcIdx := range elem.Init {
			if funcIdx >= funcCount {
				errs = multierr.Append(errs, fmt.Errorf("element[%d].init[%d] funcidx %d out of range", i, j, funcIdx))
			}
		}
	}

	errs = multierr.Append(errs, m.validateData(importedGlobals))

	if errs != nil {
		return wasmerr.Validation(wasmerr.PhaseValidate, errs)
	}
	return nil
}

// validateFeatures rejects use of disabled features and of ones wasmtier doesn't support.
func (m *Module) validateFeatures(features api.Features) error {
	for i, t := range m.TypeSection {
		if len(t.Results) > 1 {
			return wasmerr.New(wasmerr.PhaseValidate, wasmerr.KindUnsupportedFeature).Name("multi_value").
				Detail("type[%d] %s has more than one result", i, t).Build()
		}
	}
	for _, im := range m.ImportSection {
		switch im.Type {
		case api.ExternTypeTable:
			return wasmerr.New(wasmerr.PhaseValidate, wasmerr.KindUnsupportedFeature).Import(im.Module, im.Name).
				Detail("table imports are not supported").Build()
		case api.ExternTypeGlobal:
			if im.DescGlobal.Mutable {
				if err := requireFeature(features, api.FeatureMutableGlobal, "import %s.%s", im.Module, im.Name); err != nil {
					return err
				}
			}
		}
	}
	for _, exp := range m.ExportSection {
		if exp.Type != api.ExternTypeGlobal {
			continue
		}
		globals := m.GlobalTypes()
		if exp.Index < uint32(len(globals)) && globals[exp.Index].Mutable {
			if err := requireFeature(features, api.FeatureMutableGlobal, "export %q", exp.Name); err != nil {
				return err
			}
		}
	}
	if mem := m.MemoryType(); mem != nil && mem.IsShared {
		if err := requireFeature(features, api.FeatureThreads, "shared memory"); err != nil {
			return err
		}
	}
	if m.DataCountSection != nil {
		if err := requireFeature(features, api.FeatureBulkMemoryOperations, "data count section"); err != nil {
			return err
		}
	}
	for i, d := range m.DataSection {
		if d.Passive {
			if err := requireFeature(features, api.FeatureBulkMemoryOperations, "passive data[%d]", i); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireFeature(features api.Features, feature api.Features, format string, args ...any) error {
	if err := features.RequireEnabled(feature); err != nil {
		return wasmerr.New(wasmerr.PhaseValidate, wasmerr.KindDisabledFeature).Name(api.FeatureName(feature)).
			Detail(format, args...).Cause(err).Build()
	}
	return nil
}

func (m *Module) validateExports(funcCount, globalCount uint32, hasMemory bool) (errs error) {
	names := make(map[string]struct{}, len(m.ExportSection))
	for _, exp := range m.ExportSection {
		if _, ok := names[exp.Name]; ok {
			errs = multierr.Append(errs, fmt.Errorf("export[%s] duplicates another export", exp.Name))
		}
		names[exp.Name] = struct{}{}

		var ok bool
		switch exp.Type {
		case api.ExternTypeFunc:
			ok = exp.Index < funcCount
		case api.ExternTypeGlobal:
			ok = exp.Index < globalCount
		case api.ExternTypeMemory:
			ok = exp.Index == 0 && hasMemory
		case api.ExternTypeTable:
			ok = exp.Index == 0 && len(m.TableSection) > 0
		}
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("export[%s] %s index %d out of range",
				exp.Name, api.ExternTypeName(exp.Type), exp.Index))
		}
	}
	return
}

// validateData checks data segments. An active segment at a constant offset must fit in the declared minimum of the
// memory. Offsets read from a global are checked when instantiated.
func (m *Module) validateData(importedGlobals []*GlobalType) (errs error) {
	if m.DataCountSection != nil && *m.DataCountSection != uint32(len(m.DataSection)) {
		errs = multierr.Append(errs, fmt.Errorf("data count section (%d) doesn't match the length of data section (%d)",
			*m.DataCountSection, len(m.DataSection)))
	}
	mem := m.MemoryType()
	for i, d := range m.DataSection {
		if d.Passive {
			continue
		}
		name := fmt.Sprintf("data[%d]", i)
		if mem == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s requires a memory", name))
			break
		}
		if err := checkOffsetExpr(name, d.OffsetExpression, importedGlobals); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if offset, ok := d.OffsetExpression.ConstI32(); ok {
			if ceil := uint64(offset) + uint64(len(d.Init)); ceil > MemoryPagesToBytesNum(mem.Min) {
				errs = multierr.Append(errs, &dataOutOfBoundsError{index: i, offset: offset, size: len(d.Init), min: mem.Min})
			}
		}
	}
	return
}

// dataOutOfBoundsError is raised when a data segment can't fit in the minimum memory.
type dataOutOfBoundsError struct {
	index  int
	offset uint32
	size   int
	min    uint32
}

func (e *dataOutOfBoundsError) Error() string {
	return fmt.Sprintf("data[%d] at offset %d with %d bytes exceeds minimum memory of %d pages",
		e.index, e.offset, e.size, e.min)
}

// Is lets errors.Is(err, wasmerr.ErrDataSegmentOutOfBounds) match a validation error with this cause.
func (e *dataOutOfBoundsError) Is(target error) bool {
	return errors.Is(wasmerr.ErrDataSegmentOutOfBounds, target)
}

// checkOffsetExpr ensures a segment offset is an i32 constant or a read of an imported i32 global.
func checkOffsetExpr(name string, expr *ConstantExpression, importedGlobals []*GlobalType) error {
	t, err := expr.ResultType(importedGlobals)
	if err != nil {
		return fmt.Errorf("%s offset: %w", name, err)
	}
	if t != api.ValueTypeI32 {
		return fmt.Errorf("%s offset must be i32, but was %s", name, api.ValueTypeName(t))
	}
	return nil
}
