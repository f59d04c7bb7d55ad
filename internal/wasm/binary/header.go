// Package binary decodes and encodes the WebAssembly 1.0 (20191205) Binary Format, plus the post-MVP encodings of
// the features wasmtier supports: passive data, the data count section and shared memory limits.
package binary

import "errors"

// Magic is the 4 byte preamble (literally "\0asm") of the binary format
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-magic
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// version is format version and doesn't change between known specification versions
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-version
var version = []byte{0x01, 0x00, 0x00, 0x00}

var (
	ErrInvalidByte        = errors.New("invalid byte")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid version header")
	ErrInvalidSectionID   = errors.New("invalid section id")
)
