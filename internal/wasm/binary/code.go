package binary

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	ss, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get the size of code: %w", err)
	}
	if uint64(ss) > uint64(r.Len()) {
		return nil, fmt.Errorf("code size %d exceeds remaining %d bytes", ss, r.Len())
	}
	remaining := int64(ss)

	// parse locals
	ls, bytesRead, err := leb128.DecodeUint32(r)
	remaining -= int64(bytesRead)
	if err != nil {
		return nil, fmt.Errorf("get the size locals: %v", err)
	} else if remaining < 0 {
		return nil, io.EOF
	}

	var nums []uint64
	var types []api.ValueType
	var sum uint64
	var n uint32
	for i := uint32(0); i < ls; i++ {
		n, bytesRead, err = leb128.DecodeUint32(r)
		remaining -= int64(bytesRead) + 1 // +1 for the subsequent ReadByte
		if err != nil {
			return nil, fmt.Errorf("read n of locals: %v", err)
		} else if remaining < 0 {
			return nil, io.EOF
		}

		sum += uint64(n)
		nums = append(nums, uint64(n))

		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("read type of local: %v", err)
		}
		if err = checkValueType(b); err != nil {
			return nil, fmt.Errorf("invalid local type: %#x", b)
		}
		types = append(types, b)
	}

	if sum > math.MaxUint16 {
		return nil, fmt.Errorf("too many locals: %d", sum)
	}

	var localTypes []api.ValueType
	for i, num := range nums {
		t := types[i]
		for j := uint64(0); j < num; j++ {
			localTypes = append(localTypes, t)
		}
	}

	if remaining <= 0 {
		return nil, fmt.Errorf("empty function body")
	}
	body := make([]byte, remaining)
	if _, err = io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if endIndex := len(body) - 1; endIndex < 0 || body[endIndex] != wasm.OpcodeEnd {
		return nil, fmt.Errorf("expr not end with OpcodeEnd")
	}

	return &wasm.Code{Body: body, LocalTypes: localTypes}, nil
}

// encodeCode returns the wasm.Code encoded in WebAssembly 1.0 (20191205) Binary Format. Runs of the same local type
// are grouped.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-code
func encodeCode(c *wasm.Code) []byte {
	var groups [][2]uint32 // count, type
	for _, t := range c.LocalTypes {
		if n := len(groups); n > 0 && groups[n-1][1] == uint32(t) {
			groups[n-1][0]++
		} else {
			groups = append(groups, [2]uint32{1, uint32(t)})
		}
	}
	data := leb128.EncodeUint32(uint32(len(groups)))
	for _, g := range groups {
		data = append(data, leb128.EncodeUint32(g[0])...)
		data = append(data, byte(g[1]))
	}
	data = append(data, c.Body...)
	return encodeSizePrefixed(data)
}
