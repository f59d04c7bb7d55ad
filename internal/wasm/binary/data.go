package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Data segment prefixes, per the bulk memory operations proposal.
// See https://github.com/WebAssembly/spec/blob/main/proposals/bulk-memory-operations/Overview.md#data-segments
const (
	dataSegmentPrefixActive                = 0x0
	dataSegmentPrefixPassive               = 0x1
	dataSegmentPrefixActiveWithMemoryIndex = 0x2
)

func decodeDataSegment(r *bytes.Reader, features api.Features) (*wasm.DataSegment, error) {
	prefix, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read data segment prefix: %w", err)
	}

	if prefix != dataSegmentPrefixActive {
		if err = features.RequireEnabled(api.FeatureBulkMemoryOperations); err != nil {
			return nil, wasmerr.New(wasmerr.PhaseDecode, wasmerr.KindDisabledFeature).
				Name(api.FeatureName(api.FeatureBulkMemoryOperations)).
				Detail("data segment with prefix %#x", prefix).Cause(err).Build()
		}
	}

	ret := &wasm.DataSegment{}
	switch prefix {
	case dataSegmentPrefixActive, dataSegmentPrefixActiveWithMemoryIndex:
		if prefix == dataSegmentPrefixActiveWithMemoryIndex {
			d, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("read memory index: %v", err)
			} else if d != 0 {
				return nil, fmt.Errorf("memory index must be zero but was %d", d)
			}
		}
		if ret.OffsetExpression, err = decodeConstantExpression(r); err != nil {
			return nil, fmt.Errorf("read offset expression: %v", err)
		}
	case dataSegmentPrefixPassive:
		ret.Passive = true
	default:
		return nil, fmt.Errorf("invalid data segment prefix: %#x", prefix)
	}

	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of vector: %v", err)
	}
	if uint64(vs) > uint64(r.Len()) {
		return nil, fmt.Errorf("data size %d exceeds remaining %d bytes", vs, r.Len())
	}

	ret.Init = make([]byte, vs)
	if _, err := io.ReadFull(r, ret.Init); err != nil {
		return nil, fmt.Errorf("read bytes for init: %v", err)
	}
	return ret, nil
}

func encodeDataSegment(d *wasm.DataSegment) (ret []byte) {
	if d.Passive {
		ret = append(ret, dataSegmentPrefixPassive)
	} else {
		ret = append(ret, dataSegmentPrefixActive)
		ret = append(ret, encodeConstantExpression(d.OffsetExpression)...)
	}
	ret = append(ret, encodeSizePrefixed(d.Init)...)
	return
}
