// Package maximal registers the "maximal" strategy: the passes of the optimizing strategy, then superinstruction
// fusion while lowering.
package maximal

import (
	"context"

	"github.com/wasmtier/wasmtier/internal/engine"
	"github.com/wasmtier/wasmtier/internal/engine/machine"
	"github.com/wasmtier/wasmtier/internal/wasmir"
)

// Name is the name of the strategy in the registry.
const Name = "maximal"

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
	return machine.Lower(res, machine.Options{Fuse: true})
}
