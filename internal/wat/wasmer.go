//go:build amd64 && cgo && !windows

package wat

import "github.com/wasmerio/wasmer-go/wasmer"

func init() {
	register(wasmerConverter{})
}

type wasmerConverter struct{}

// Name implements Converter.Name
func (wasmerConverter) Name() string {
	return Wasmer
}

// Convert implements Converter.Convert
func (wasmerConverter) Convert(text string) ([]byte, error) {
	bin, err := wasmer.Wat2Wasm(text)
	if err != nil {
		return nil, convertError(Wasmer, err)
	}
	return bin, nil
}
