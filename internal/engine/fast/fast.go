// Package fast registers the "fast" strategy, which lowers the IR of each function as is. It compiles quickest, and
// runs slowest.
package fast

import (
	"context"

	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasmir"
)

// Name is the name of the strategy in the registry.
const Name = "fast"

func init() {
	engine.RegisterStrategy(strategy{})
}

type strategy struct{}

// Name implements engine.Strategy.
func (strategy) Name() string { return Name }

// CompileFunction implements engine.Strategy.
func (strategy) CompileFunction(ctx context.Context, in *wasmir.FunctionInput) (*machine.Code, error) {
	res, err := wasmir.Compile(ctx, in)
	if err != nil {
		return nil, err
	}
	return machine.Lower(res, machine.Options{})
}
