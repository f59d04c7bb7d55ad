// Package optimizing registers the "optimizing" strategy, which runs the IR passes to a fixed point before lowering.
package optimizing

import (
	"context"

	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasmir"
)

// Name is the name of the strategy in the registry.
const Name = "optimizing"

func init() {
	engine.RegisterStrategy(strategy{})
}

type strategy struct{}

func (strategy) Name() string { return Name }

func (strategy) CompileFunction(ctx context.Context, in *wasmir.FunctionInput) (*machine.Code, error) {
	res, err := wasmir.Compile(ctx, in)
	if err != nil {
		return nil, err
	}
	res.Operations = wasmir.Optimize(res.Operations, wasmir.Passes)
	return machine.Lower(res, machine.Options{})
}
