package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// DecodeModule implements the WebAssembly 1.0 (20191205) Binary Format. memoryLimitPages is the ceiling applied to
// memory limits, and the max of a memory that doesn't declare one.
//
// Errors are of wasmerr.PhaseDecode. The result is not validated: see wasm.Module Validate.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func DecodeModule(binary []byte, features api.Features, memoryLimitPages uint32) (*wasm.Module, error) {
	m, err := decodeModule(binary, features, memoryLimitPages)
	if err != nil {
		var werr *wasmerr.Error
		if errors.As(err, &werr) {
			return nil, err
		}
		return nil, wasmerr.Validation(wasmerr.PhaseDecode, err)
	}
	return m, nil
}

func decodeModule(binary []byte, features api.Features, memoryLimitPages uint32) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	var lastSectionID wasm.SectionID
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, fmt.Errorf("section %s size %d exceeds remaining %d bytes",
				wasm.SectionIDName(sectionID), sectionSize, r.Len())
		}

		if sectionID != wasm.SectionIDCustom {
			if sectionOrder(sectionID) <= sectionOrder(lastSectionID) && lastSectionID != wasm.SectionIDCustom {
				return nil, fmt.Errorf("section %s out of order after %s",
					wasm.SectionIDName(sectionID), wasm.SectionIDName(lastSectionID))
			}
			lastSectionID = sectionID
		}

		sectionContentStart := r.Len()
		switch sectionID {
		case wasm.SectionIDCustom:
			// First, validate the section and determine if the section for this name has already been set
			var name string
			name, err = decodeUTF8(r, "custom section name")
			if err != nil {
				break
			}
			dataSize := int(sectionSize) - (sectionContentStart - r.Len())
			if dataSize < 0 {
				err = fmt.Errorf("malformed custom section %s", name)
				break
			}
			data := make([]byte, dataSize)
			if _, err = io.ReadFull(r, data); err != nil {
				break
			}
			if name == "name" {
				if m.NameSection != nil {
					err = fmt.Errorf("redundant custom section %s", name)
					break
				}
				// Malformed names are not fatal: they only help debugging.
				m.NameSection, _ = decodeNameSection(data)
			}
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(r)
		case wasm.SectionIDImport:
			m.ImportSection, err = decodeImportSection(r, memoryLimitPages)
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
		case wasm.SectionIDTable:
			m.TableSection, err = decodeTableSection(r)
		case wasm.SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(r, memoryLimitPages)
		case wasm.SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(r)
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(r)
		case wasm.SectionIDElement:
			m.ElementSection, err = decodeElementSection(r)
		case wasm.SectionIDCode:
			m.CodeSection, err = decodeCodeSection(r)
		case wasm.SectionIDData:
			m.DataSection, err = decodeDataSection(r, features)
		case wasm.SectionIDDataCount:
			if err = features.RequireEnabled(api.FeatureBulkMemoryOperations); err != nil {
				return nil, wasmerr.New(wasmerr.PhaseDecode, wasmerr.KindDisabledFeature).
					Name(api.FeatureName(api.FeatureBulkMemoryOperations)).Detail("data count section").Cause(err).Build()
			}
			m.DataCountSection, err = decodeDataCountSection(r)
		default:
			err = ErrInvalidSectionID
		}

		if read := sectionContentStart - r.Len(); err == nil && int(sectionSize) != read {
			err = fmt.Errorf("invalid section length: expected to be %d but got %d", sectionSize, read)
		}

		if err != nil {
			var werr *wasmerr.Error
			if errors.As(err, &werr) {
				return nil, err
			}
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	return m, nil
}

// sectionOrder returns the position of a non-custom section in a module. The data count section comes between the
// element and code sections, despite its higher ID.
func sectionOrder(id wasm.SectionID) int {
	switch id {
	case wasm.SectionIDDataCount:
		return int(wasm.SectionIDElement)*2 + 1
	case wasm.SectionIDCustom:
		return -1
	}
	return int(id) * 2
}
