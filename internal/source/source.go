// Package source loads module files, detecting whether they are binary, text or zstd-compressed.
package source

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/wasmtier/wasmtier/internal/wat"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Format is the detected encoding of a source.
type Format string

const (
	FormatBinary Format = "binary"
	FormatText   Format = "text"
	FormatZstd   Format = "zstd"
)

var (
	// binaryMagic is the preamble of the binary format.
	binaryMagic = []byte{0x00, 0x61, 0x73, 0x6d}
	// zstdMagic is the frame magic number, 0xFD2FB528 in little-endian.
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DefaultMaxDecompressedSize bounds decompression to the largest memory a module can address.
const DefaultMaxDecompressedSize = 1 << 32

// Loader reads module sources into the binary format.
type Loader struct {
	// Converter converts text sources. When nil, a text source fails to load.
	Converter wat.Converter

	// MaxDecompressedSize bounds the output of zstd decompression. Zero is DefaultMaxDecompressedSize.
	MaxDecompressedSize uint64

	// Logger logs detection at debug level. When nil, nothing is logged.
	Logger *zap.Logger
}

// Load reads the file at path and returns its binary encoding.
func (l *Loader) Load(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Name(path).Cause(err).Build()
	}
	bin, err := l.Decode(filepath.Base(path), b)
	if err != nil {
		return nil, err
	}
	return bin, nil
}

// Decode returns the binary encoding of src. name is used for the ".zst" extension and for errors.
func (l *Loader) Decode(name string, src []byte) ([]byte, error) {
	format := Detect(name, src)
	l.logger().Debug("detected source format", zap.String("source", name), zap.String("format", string(format)),
		zap.Int("size", len(src)))

	switch format {
	case FormatBinary:
		return src, nil
	case FormatZstd:
		out, err := l.decompress(src)
		if err != nil {
			return nil, wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Name(name).
				Detail("zstd").Cause(err).Build()
		}
		// Detect the decompressed content by its bytes alone.
		return l.Decode(trimExt(name), out)
	default:
		if l.Converter == nil {
			return nil, wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Name(name).
				Detail("not a binary module, and no text converter is configured").Build()
		}
		bin, err := l.Converter.Convert(string(src))
		if err != nil {
			return nil, err
		}
		return bin, nil
	}
}

func (l *Loader) decompress(src []byte) ([]byte, error) {
	max := l.MaxDecompressedSize
	if max == 0 {
		max = DefaultMaxDecompressedSize
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()
	return decoder.DecodeAll(src, nil)
}

func (l *Loader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// Detect returns the format of src. The zstd magic or a ".zst" extension means compressed, then the binary preamble
// means binary. Anything else is presumed text.
func Detect(name string, src []byte) Format {
	switch {
	case bytes.HasPrefix(src, zstdMagic), filepath.Ext(name) == ".zst":
		return FormatZstd
	case bytes.HasPrefix(src, binaryMagic):
		return FormatBinary
	default:
		return FormatText
	}
}

func trimExt(name string) string {
	if filepath.Ext(name) == ".zst" {
		return name[:len(name)-len(".zst")]
	}
	return name
}
