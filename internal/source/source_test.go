package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wasmtier/wasmtier/internal/testing/testmodules"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// fakeConverter returns fixed bytes for any text, or its error.
type fakeConverter struct {
	bin []byte
	err error
}

func (fakeConverter) Name() string { return "fake" }

func (c fakeConverter) Convert(string) ([]byte, error) { return c.bin, c.err }

func compress(t *testing.T, b []byte) []byte {
	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer encoder.Close()
	return encoder.EncodeAll(b, nil)
}

func TestDetect(t *testing.T) {
	bin := testmodules.CorpusBinary()
	tests := []struct {
		name     string
		file     string
		src      []byte
		expected Format
	}{
		{name: "binary", file: "a.wasm", src: bin, expected: FormatBinary},
		{name: "binary without extension", file: "a", src: bin, expected: FormatBinary},
		{name: "zstd magic", file: "a.wasm", src: compress(t, bin), expected: FormatZstd},
		{name: "zst extension", file: "a.wasm.zst", src: []byte("garbage"), expected: FormatZstd},
		{name: "text", file: "a.wat", src: []byte("(module)"), expected: FormatText},
		{name: "empty", file: "a.wasm", src: nil, expected: FormatText},
		{name: "partial preamble", file: "a.wasm", src: []byte{0, 'a', 's'}, expected: FormatText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Detect(tt.file, tt.src))
		})
	}
}

func TestLoader_Decode(t *testing.T) {
	bin := testmodules.CorpusBinary()
	converted := testmodules.FillBinary(1, testmodules.HarnessMemory)

	tests := []struct {
		name        string
		loader      *Loader
		file        string
		src         []byte
		expected    []byte
		expectedErr string
	}{
		{
			name:     "binary",
			loader:   &Loader{},
			file:     "corpus.wasm",
			src:      bin,
			expected: bin,
		},
		{
			name:     "compressed binary",
			loader:   &Loader{},
			file:     "corpus.wasm.zst",
			src:      compress(t, bin),
			expected: bin,
		},
		{
			name:     "compressed text",
			loader:   &Loader{Converter: fakeConverter{bin: converted}},
			file:     "fill.wat",
			src:      compress(t, []byte("(module)")),
			expected: converted,
		},
		{
			name:     "text",
			loader:   &Loader{Converter: fakeConverter{bin: converted}},
			file:     "fill.wat",
			src:      []byte("(module)"),
			expected: converted,
		},
		{
			name:        "text without converter",
			loader:      &Loader{},
			file:        "fill.wat",
			src:         []byte("(module)"),
			expectedErr: `source_unreadable "fill.wat": not a binary module, and no text converter is configured`,
		},
		{
			name:        "corrupt zstd",
			loader:      &Loader{},
			file:        "corpus.wasm.zst",
			src:         []byte("not zstd"),
			expectedErr: `source_unreadable "corpus.wasm.zst": zstd`,
		},
		{
			name:        "decompressed too large",
			loader:      &Loader{MaxDecompressedSize: 16},
			file:        "corpus.wasm",
			src:         compress(t, bin),
			expectedErr: `source_unreadable "corpus.wasm": zstd`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.loader.Logger = zaptest.NewLogger(t)
			actual, err := tt.loader.Decode(tt.file, tt.src)
			if tt.expectedErr != "" {
				require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
				require.Contains(t, err.Error(), tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, actual)
		})
	}
}

func TestLoader_Decode_converterError(t *testing.T) {
	convertErr := wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Cause(errors.New("expected ')'")).Build()
	l := &Loader{Converter: fakeConverter{err: convertErr}}
	_, err := l.Decode("bad.wat", []byte("(module"))
	require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
	require.Contains(t, err.Error(), "expected ')'")
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	bin := testmodules.CorpusBinary()

	path := filepath.Join(dir, "corpus.wasm.zst")
	require.NoError(t, os.WriteFile(path, compress(t, bin), 0o600))

	l := &Loader{}
	actual, err := l.Load(path)
	require.NoError(t, err)
	require.Equal(t, bin, actual)

	_, err = l.Load(filepath.Join(dir, "missing.wasm"))
	require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
	require.ErrorIs(t, err, os.ErrNotExist)
}
