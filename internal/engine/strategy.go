// Package engine compiles modules with a pluggable Strategy and caches the results by module identity.
//
// Strategies register themselves by name from an init function, so importing a tier package is enough to make it
// available to LookupStrategy:
//
//	import _ "github.com/wasmtier/wasmtier/internal/engine/maximal"
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/wasmerr"
)

// Strategy compiles one function into code for the machine executor. Implementations must be safe for concurrent
// use, as functions of one module are compiled in parallel.
type Strategy interface {
	// Name is the unique name of the strategy, ex. "optimizing".
	Name() string

	// CompileFunction compiles the defined function in.Index. The module is never mutated. Errors are
	// *wasmerr.Error in wasmerr.PhaseCompile with the function index set.
	CompileFunction(ctx context.Context, in *wasmir.FunctionInput) (*machine.Code, error)
}

var (
	strategiesMu sync.RWMutex
	strategies   = map[string]Strategy{}
)

// RegisterStrategy makes a strategy available by its name. It panics on a duplicate name, so it is meant to be
// called from init functions only.
func RegisterStrategy(s Strategy) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	name := s.Name()
	if _, exists := strategies[name]; exists {
		panic(fmt.Sprintf("strategy %s already registered", name))
	}
	strategies[name] = s
}

// LookupStrategy returns the strategy registered under name, or a wasmerr.KindUnknownStrategy error.
func LookupStrategy(name string) (Strategy, error) {
	strategiesMu.RLock()
	s, ok := strategies[name]
	strategiesMu.RUnlock()
	if !ok {
		return nil, wasmerr.New(wasmerr.PhaseConfig, wasmerr.KindUnknownStrategy).Name(name).
			Detail("available: %s", strings.Join(Strategies(), ", ")).Build()
	}
	return s, nil
}

// Strategies returns the names of the registered strategies, sorted.
func Strategies() []string {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
