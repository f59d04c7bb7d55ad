//go:build amd64 && cgo && !windows

package vs

import (
	"context"
	"fmt"
	"math"

	"github.com/wasmerio/wasmer-go/wasmer"
)

func init() {
	runtimes["wasmer"] = func() Runtime { return &wasmerRuntime{} }
}

type wasmerRuntime struct {
	engine *wasmer.Engine
}

// Name implements Runtime.Name
func (r *wasmerRuntime) Name() string {
	return "wasmer"
}

// Instantiate implements Runtime.Instantiate
func (r *wasmerRuntime) Instantiate(_ context.Context, bin []byte) (Module, error) {
	if r.engine == nil {
		r.engine = wasmer.NewEngine()
	}
	// A store per module: instance counts are limited per store.
	store := wasmer.NewStore(r.engine)
	module, err := wasmer.NewModule(store, bin)
	if err != nil {
		return nil, err
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, err
	}
	return &wasmerModule{instance: instance}, nil
}

// Close implements Runtime.Close
func (r *wasmerRuntime) Close(context.Context) error {
	return nil
}

type wasmerModule struct {
	instance *wasmer.Instance
}

// Call implements Module.Call
func (m *wasmerModule) Call(_ context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, err := m.instance.Exports.GetRawFunction(name)
	if err != nil {
		return nil, err
	}
	paramTypes := fn.Type().Params()
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmer.I32:
			args[i] = int32(p)
		case wasmer.I64:
			args[i] = int64(p)
		case wasmer.F32:
			args[i] = math.Float32frombits(uint32(p))
		case wasmer.F64:
			args[i] = math.Float64frombits(p)
		}
	}
	result, err := fn.Call(args...)
	if err != nil {
		return nil, err
	}
	switch fn.ResultArity() {
	case 0:
		return nil, nil
	case 1:
		raw, err := wasmerRaw(result)
		if err != nil {
			return nil, err
		}
		return []uint64{raw}, nil
	}
	values := result.([]interface{})
	ret := make([]uint64, len(values))
	for i, v := range values {
		if ret[i], err = wasmerRaw(v); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func wasmerRaw(v interface{}) (uint64, error) {
	switch v := v.(type) {
	case int32:
		return uint64(uint32(v)), nil
	case int64:
		return uint64(v), nil
	case float32:
		return uint64(math.Float32bits(v)), nil
	case float64:
		return math.Float64bits(v), nil
	}
	return 0, fmt.Errorf("unsupported result %T", v)
}
