package binary

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/leb128"
)

var noValType = []byte{0}

// encodedValTypes is a cache of size prefixed binary encoding of known val types.
var encodedValTypes = map[api.ValueType][]byte{
	api.ValueTypeI32: {1, api.ValueTypeI32},
	api.ValueTypeI64: {1, api.ValueTypeI64},
	api.ValueTypeF32: {1, api.ValueTypeF32},
	api.ValueTypeF64: {1, api.ValueTypeF64},
}

// encodeValTypes fast paths binary encoding of common value type lengths
func encodeValTypes(vt []api.ValueType) []byte {
	switch len(vt) {
	case 0: // nullary
		return noValType
	case 1: // single param or result
		if encoded, ok := encodedValTypes[vt[0]]; ok {
			return encoded
		}
	}
	count := leb128.EncodeUint32(uint32(len(vt)))
	return append(count, vt...)
}

func decodeValueTypes(r *bytes.Reader, num uint32) ([]api.ValueType, error) {
	if num == 0 {
		return nil, nil
	}
	if uint64(num) > uint64(r.Len()) {
		return nil, fmt.Errorf("value type count %d exceeds remaining bytes", num)
	}
	ret := make([]api.ValueType, num)
	if _, err := io.ReadFull(r, ret); err != nil {
		return nil, err
	}

	for _, v := range ret {
		if err := checkValueType(v); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func checkValueType(v api.ValueType) error {
	switch v {
	case api.ValueTypeI32, api.ValueTypeF32, api.ValueTypeI64, api.ValueTypeF64:
		return nil
	}
	return fmt.Errorf("invalid value type: %#x", v)
}

// decodeUTF8 decodes a size prefixed string from the reader, returning it if valid UTF-8.
func decodeUTF8(r *bytes.Reader, contextFormat string, contextArgs ...interface{}) (string, error) {
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s size: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}
	if uint64(size) > uint64(r.Len()) {
		return "", fmt.Errorf("%s size %d exceeds remaining bytes", fmt.Sprintf(contextFormat, contextArgs...), size)
	}

	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", fmt.Sprintf(contextFormat, contextArgs...), err)
	}

	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%s is not valid UTF-8", fmt.Sprintf(contextFormat, contextArgs...))
	}

	return string(buf), nil
}

// encodeSizePrefixed encodes the data with a leading size.
func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}
