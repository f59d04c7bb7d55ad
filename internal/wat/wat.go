// Package wat converts the WebAssembly text format to the binary format.
//
// The converters bind to native runtimes through cgo, so which ones are available depends on the build. Lookup
// distinguishes an unknown name from a known converter left out of the build.
package wat

import (
	"sort"
	"strings"
	"sync"

	"github.com/wasmtier/wasmtier/wasmerr"
)

const (
	// Wasmtime is the name of the converter backed by wasmtime-go. It is the default.
	Wasmtime = "wasmtime"
	// Wasmer is the name of the converter backed by wasmer-go.
	Wasmer = "wasmer"
)

// Converter converts a module in the text format to the binary format.
type Converter interface {
	// Name is the name this converter is looked up by.
	Name() string

	// Convert returns the binary encoding of the text module, or an error describing the first syntax problem.
	Convert(text string) ([]byte, error)
}

// known are the converter names, whether or not the build includes them.
var known = []string{Wasmer, Wasmtime}

var (
	mux        sync.RWMutex
	converters = map[string]Converter{}
)

// register adds a converter. It is called from init of the cgo files.
func register(c Converter) {
	mux.Lock()
	defer mux.Unlock()
	converters[c.Name()] = c
}

// Lookup returns the converter of the given name, or an error matching wasmerr.ErrSourceUnreadable if the name is
// unknown or the converter isn't in this build.
func Lookup(name string) (Converter, error) {
	if name == "" {
		name = Wasmtime
	}
	mux.RLock()
	c, ok := converters[name]
	mux.RUnlock()
	if ok {
		return c, nil
	}

	b := wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Name(name)
	for _, k := range known {
		if k == name {
			return nil, b.Detail("text converter %q requires a cgo build", name).Build()
		}
	}
	return nil, b.Detail("unknown text converter %q (known: %s)", name, strings.Join(known, ", ")).Build()
}

// Available returns the names of the converters in this build, sorted.
func Available() []string {
	mux.RLock()
	defer mux.RUnlock()
	ret := make([]string, 0, len(converters))
	for name := range converters {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// convertError attributes a conversion failure to the converter.
func convertError(name string, err error) error {
	return wasmerr.New(wasmerr.PhaseLoad, wasmerr.KindSourceUnreadable).Name(name).
		Detail("invalid text module").Cause(err).Build()
}
