package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

func decodeImport(r *bytes.Reader, memoryLimitPages uint32) (i *wasm.Import, err error) {
	i = &wasm.Import{}
	if i.Module, err = decodeUTF8(r, "import module"); err != nil {
		return nil, err
	}

	if i.Name, err = decodeUTF8(r, "import name"); err != nil {
		return nil, err
	}

	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("error decoding import kind: %w", err)
	}

	i.Type = b
	switch i.Type {
	case api.ExternTypeFunc:
		if i.DescFunc, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("error decoding import func typeindex: %w", err)
		}
	case api.ExternTypeTable:
		if i.DescTable, err = decodeTable(r); err != nil {
			return nil, fmt.Errorf("error decoding import table desc: %w", err)
		}
	case api.ExternTypeMemory:
		if i.DescMem, err = decodeMemory(r, memoryLimitPages); err != nil {
			return nil, fmt.Errorf("error decoding import mem desc: %w", err)
		}
	case api.ExternTypeGlobal:
		if i.DescGlobal, err = decodeGlobalType(r); err != nil {
			return nil, fmt.Errorf("error decoding import global desc: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: invalid byte for importdesc: %#x", ErrInvalidByte, b)
	}
	return
}

// encodeImport returns the wasm.Import encoded in WebAssembly 1.0 (20191205) Binary Format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-import
func encodeImport(i *wasm.Import) []byte {
	data := encodeSizePrefixed([]byte(i.Module))
	data = append(data, encodeSizePrefixed([]byte(i.Name))...)
	data = append(data, i.Type)
	switch i.Type {
	case api.ExternTypeFunc:
		data = append(data, leb128.EncodeUint32(i.DescFunc)...)
	case api.ExternTypeTable:
		data = append(data, encodeTable(i.DescTable)...)
	case api.ExternTypeMemory:
		data = append(data, encodeMemory(i.DescMem)...)
	case api.ExternTypeGlobal:
		data = append(data, encodeGlobalType(i.DescGlobal)...)
	default:
		panic(fmt.Errorf("invalid externtype: %s", api.ExternTypeName(i.Type)))
	}
	return data
}
