package wasmtier

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/wasmerr"
)

func TestEngineConfig(t *testing.T) {
	logger := zap.NewExample()
	reg := prometheus.NewRegistry()

	tests := []struct {
		name     string
		with     func(*EngineConfig) *EngineConfig
		expected *EngineConfig
	}{
		{
			name:     "WithStrategy",
			with:     func(c *EngineConfig) *EngineConfig { return c.WithStrategy("maximal") },
			expected: &EngineConfig{strategy: "maximal", features: api.FeaturesDefault, memoryLimitPages: 65536},
		},
		{
			name:     "WithFeatures",
			with:     func(c *EngineConfig) *EngineConfig { return c.WithFeatures(api.FeatureThreads) },
			expected: &EngineConfig{strategy: "optimizing", features: api.FeatureThreads, memoryLimitPages: 65536},
		},
		{
			name:     "WithFeature",
			with:     func(c *EngineConfig) *EngineConfig { return c.WithFeature(api.FeatureThreads, true) },
			expected: &EngineConfig{strategy: "optimizing", features: api.FeaturesAll, memoryLimitPages: 65536},
		},
		{
			name: "WithFeature disabled",
			with: func(c *EngineConfig) *EngineConfig { return c.WithFeature(api.FeatureBulkMemoryOperations, false) },
			expected: &EngineConfig{
				strategy:         "optimizing",
				features:         api.FeaturesDefault &^ api.FeatureBulkMemoryOperations,
				memoryLimitPages: 65536,
			},
		},
		{
			name: "WithLogger",
			with: func(c *EngineConfig) *EngineConfig { return c.WithLogger(logger) },
			expected: &EngineConfig{
				strategy: "optimizing", features: api.FeaturesDefault, memoryLimitPages: 65536, logger: logger,
			},
		},
		{
			name: "WithRegisterer",
			with: func(c *EngineConfig) *EngineConfig { return c.WithRegisterer(reg) },
			expected: &EngineConfig{
				strategy: "optimizing", features: api.FeaturesDefault, memoryLimitPages: 65536, registerer: reg,
			},
		},
		{
			name: "WithCompileParallelism",
			with: func(c *EngineConfig) *EngineConfig { return c.WithCompileParallelism(2) },
			expected: &EngineConfig{
				strategy: "optimizing", features: api.FeaturesDefault, memoryLimitPages: 65536, parallelism: 2,
			},
		},
		{
			name:     "WithMemoryLimitPages",
			with:     func(c *EngineConfig) *EngineConfig { return c.WithMemoryLimitPages(1024) },
			expected: &EngineConfig{strategy: "optimizing", features: api.FeaturesDefault, memoryLimitPages: 1024},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := NewEngineConfig()
			actual := tt.with(input)
			require.Equal(t, tt.expected, actual)
			// The original is unchanged.
			require.Equal(t, NewEngineConfig(), input)
		})
	}
}

func TestNewMemory(t *testing.T) {
	one, big := uint32(1), uint32(65537)
	tests := []struct {
		name   string
		min    uint32
		max    *uint32
		shared bool
		err    bool
	}{
		{name: "unbounded", min: 1},
		{name: "bounded", min: 1, max: &one},
		{name: "shared", min: 1, max: &one, shared: true},
		{name: "min over max", min: 2, max: &one, err: true},
		{name: "min over limit", min: 65537, err: true},
		{name: "max over limit", min: 1, max: &big, err: true},
		{name: "shared unbounded", min: 1, shared: true, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, err := NewMemory(tt.min, tt.max, tt.shared)
			if tt.err {
				require.ErrorIs(t, err, wasmerr.ErrInvalidLimits)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.min, mem.Pages())
			require.Equal(t, tt.shared, mem.Shared())
			max, ok := mem.Max()
			require.Equal(t, tt.max != nil, ok)
			if ok {
				require.Equal(t, *tt.max, max)
			} else {
				require.Equal(t, api.MemoryLimitPages, max)
			}
		})
	}
}

// TestMemory_Grow ensures growth is all-or-nothing.
func TestMemory_Grow(t *testing.T) {
	two := uint32(2)
	for _, shared := range []bool{false, true} {
		mem, err := NewMemory(1, &two, shared)
		require.NoError(t, err)
		require.NoError(t, mem.WriteUint32Le(0, 0xdeadbeef))

		prev, err := mem.Grow(1)
		require.NoError(t, err)
		require.Equal(t, uint32(1), prev)
		require.Equal(t, uint64(2*65536), mem.Size())

		_, err = mem.Grow(1)
		require.ErrorIs(t, err, wasmerr.ErrGrowLimitExceeded)
		require.Equal(t, uint32(2), mem.Pages())

		v, err := mem.ReadUint32Le(0)
		require.NoError(t, err)
		require.Equal(t, uint32(0xdeadbeef), v)
	}
}

// TestMemory_outOfBounds ensures a failed access never touches adjacent memory.
func TestMemory_outOfBounds(t *testing.T) {
	one := uint32(1)
	mem, err := NewMemory(1, &one, false)
	require.NoError(t, err)

	require.ErrorIs(t, mem.Write(65534, []byte{1, 2, 3}), wasmerr.ErrTrapOutOfBoundsAccess)
	require.ErrorIs(t, mem.WriteUint32Le(65533, 1), wasmerr.ErrTrapOutOfBoundsAccess)
	require.ErrorIs(t, mem.WriteUint64Le(65529, 1), wasmerr.ErrTrapOutOfBoundsAccess)
	_, err = mem.Read(65535, 2)
	require.ErrorIs(t, err, wasmerr.ErrTrapOutOfBoundsAccess)
	_, err = mem.ReadUint64Le(0xffffffff)
	require.ErrorIs(t, err, wasmerr.ErrTrapOutOfBoundsAccess)

	tail, err := mem.Read(65528, 8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), tail)
}

func TestNewGlobal(t *testing.T) {
	g := NewGlobal(api.I64(7), true)
	require.Equal(t, api.ValueTypeI64, g.Type())
	require.True(t, g.Mutable())
	require.NoError(t, g.(api.MutableGlobal).Set(api.I64(8)))
	require.Equal(t, api.I64(8), g.Get())
	require.Error(t, g.(api.MutableGlobal).Set(api.I32(8)))

	immutable := NewGlobal(api.F64(1.5), false)
	require.Error(t, immutable.(api.MutableGlobal).Set(api.F64(2)))
}
