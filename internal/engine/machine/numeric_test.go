package machine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/wasm"
	"github.com/wasmtier/wasmtier/internal/wasmir"
	"github.com/wasmtier/wasmtier/internal/wasmruntime"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name        string
		in          float64
		out         wasmir.SignedInt
		nonTrapping bool
		expected    uint64
	}{
		{name: "i32 in range", in: -7.9, out: wasmir.SignedInt32, expected: uint64(uint32(0xfffffff9))},
		{name: "i32 min", in: math.MinInt32, out: wasmir.SignedInt32, expected: 0x80000000},
		{name: "i32 saturates low", in: -1e300, out: wasmir.SignedInt32, nonTrapping: true, expected: 0x80000000},
		{name: "i32 saturates high", in: 1e300, out: wasmir.SignedInt32, nonTrapping: true, expected: math.MaxInt32},
		{name: "u32 saturates low", in: -1, out: wasmir.SignedUint32, nonTrapping: true, expected: 0},
		{name: "u32 saturates high", in: 1e10, out: wasmir.SignedUint32, nonTrapping: true, expected: math.MaxUint32},
		{name: "i64 saturates low", in: -1e300, out: wasmir.SignedInt64, nonTrapping: true, expected: 1 << 63},
		{name: "i64 saturates high", in: 1e300, out: wasmir.SignedInt64, nonTrapping: true, expected: math.MaxInt64},
		{name: "u64 saturates high", in: 1e300, out: wasmir.SignedUint64, nonTrapping: true, expected: math.MaxUint64},
		{name: "NaN saturates to zero", in: math.NaN(), out: wasmir.SignedInt32, nonTrapping: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, truncate(tc.in, tc.out, tc.nonTrapping))
		})
	}
}

func TestTruncate_traps(t *testing.T) {
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerOverflow, func() {
		truncate(-1e300, wasmir.SignedInt32, false)
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeInvalidConversionToInteger, func() {
		truncate(math.NaN(), wasmir.SignedInt64, false)
	})
}

func TestModuleEngine_Call_truncSat(t *testing.T) {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []api.ValueType{api.ValueTypeF64}, Results: []api.ValueType{i32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{{Body: []byte{
			wasm.OpcodeLocalGet, 0, wasm.OpcodeMiscPrefix, wasm.OpcodeMiscI32TruncSatF64S, wasm.OpcodeEnd,
		}}},
	}

	for _, tier := range tiers {
		tier := tier
		t.Run(tier.name, func(t *testing.T) {
			inst := instantiate(t, m, tier.optimize, tier.opts, nil)
			for _, tc := range []struct {
				in       float64
				expected int32
			}{
				{in: -1e300, expected: math.MinInt32},
				{in: 1e300, expected: math.MaxInt32},
				{in: -3.5, expected: -3},
			} {
				results, err := call(inst, 0, math.Float64bits(tc.in))
				require.NoError(t, err)
				require.Equal(t, []uint64{uint64(uint32(tc.expected))}, results, tc.in)
			}
		})
	}
}
