//go:build amd64 && cgo

package vs

import (
	"context"
	"fmt"
	"math"

	"github.com/bytecodealliance/wasmtime-go"
)

func init() {
	runtimes["wasmtime"] = func() Runtime { return &wasmtimeRuntime{} }
}

type wasmtimeRuntime struct {
	engine *wasmtime.Engine
}

// Name implements Runtime.Name
func (r *wasmtimeRuntime) Name() string {
	return "wasmtime"
}

// Instantiate implements Runtime.Instantiate
func (r *wasmtimeRuntime) Instantiate(_ context.Context, bin []byte) (Module, error) {
	if r.engine == nil {
		r.engine = wasmtime.NewEngine()
	}
	store := wasmtime.NewStore(r.engine)
	module, err := wasmtime.NewModule(r.engine, bin)
	if err != nil {
		return nil, err
	}
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, err
	}
	return &wasmtimeModule{store: store, instance: instance}, nil
}

// Close implements Runtime.Close
func (r *wasmtimeRuntime) Close(context.Context) error {
	return nil
}

type wasmtimeModule struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
}

// Call implements Module.Call
func (m *wasmtimeModule) Call(_ context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := m.instance.GetFunc(m.store, name)
	if fn == nil {
		return nil, fmt.Errorf("%s is not an exported function", name)
	}
	ft := fn.Type(m.store)
	paramTypes := ft.Params()
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch paramTypes[i].Kind() {
		case wasmtime.KindI32:
			args[i] = int32(p)
		case wasmtime.KindI64:
			args[i] = int64(p)
		case wasmtime.KindF32:
			args[i] = math.Float32frombits(uint32(p))
		case wasmtime.KindF64:
			args[i] = math.Float64frombits(p)
		}
	}
	result, err := fn.Call(m.store, args...)
	if err != nil {
		return nil, err
	}
	switch len(ft.Results()) {
	case 0:
		return nil, nil
	case 1:
		raw, err := wasmtimeRaw(result)
		if err != nil {
			return nil, err
		}
		return []uint64{raw}, nil
	}
	values := result.([]wasmtime.Val)
	ret := make([]uint64, len(values))
	for i, v := range values {
		if ret[i], err = wasmtimeRaw(v.Get()); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

func wasmtimeRaw(v interface{}) (uint64, error) {
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
