package binary

import (
	"bytes"
	"fmt"

	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// decodeElementSegment decodes an active segment of table 0, the only encoding of WebAssembly 1.0 (20191205). Other
// encodings belong to the reference types proposal, which wasmtier doesn't support.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#element-section%E2%91%A0
func decodeElementSegment(r *bytes.Reader) (*wasm.ElementSegment, error) {
	ti, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get table index: %w", err)
	}
	if ti != 0 {
		return nil, wasmerr.New(wasmerr.PhaseDecode, wasmerr.KindUnsupportedFeature).Name("reference_types").
			Detail("element segment with prefix %#x", ti).Build()
	}

	expr, err := decodeConstantExpression(r)
	if err != nil {
		return nil, fmt.Errorf("read expr for offset: %w", err)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get size of vector: %w", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("element count %d exceeds remaining bytes", vs)
	}

	init := make([]wasm.Index, vs)
	for i := range init {
		fIdx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read function index: %w", err)
		}
		init[i] = fIdx
	}

	return &wasm.ElementSegment{OffsetExpr: expr, Init: init}, nil
}

func encodeElementSegment(e *wasm.ElementSegment) []byte {
	data := append([]byte{0}, encodeConstantExpression(e.OffsetExpr)...)
	data = append(data, leb128.EncodeUint32(uint32(len(e.Init)))...)
	for _, idx := range e.Init {
		data = append(data, leb128.EncodeUint32(idx)...)
	}
	return data
}
