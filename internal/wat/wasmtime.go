//go:build amd64 && cgo

package wat

import "github.com/bytecodealliance/wasmtime-go"

func init() {
	register(wasmtimeConverter{})
}

type wasmtimeConverter struct{}

// Name implements Converter.Name
func (wasmtimeConverter) Name() string {
	return Wasmtime
}

// Convert implements Converter.Convert
func (wasmtimeConverter) Convert(text string) ([]byte, error) {
	bin, err := wasmtime.Wat2Wasm(text)
	if err != nil {
		return nil, convertError(Wasmtime, err)
	}
	return bin, nil
}
