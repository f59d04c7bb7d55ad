package wasmtier

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine/optimizing"
	"github.com/wasmtier/wasmtier/internal/wasm"
)

// EngineConfig controls engine behavior, with the default implementation as NewEngineConfig.
//
// Every With method returns a copy, so a config can be shared and specialized:
//
//	base := wasmtier.NewEngineConfig().WithFeatures(api.FeaturesAll)
//	fast := base.WithStrategy("fast")
type EngineConfig struct {
	strategy         string
	features         api.Features
	logger           *zap.Logger
	registerer       prometheus.Registerer
	parallelism      int
	memoryLimitPages uint32
}

// engineConfigDefaults helps avoid copy/pasting the wrong defaults.
var engineConfigDefaults = &EngineConfig{
	strategy:         optimizing.Name,
	features:         api.FeaturesDefault,
	memoryLimitPages: wasm.MemoryLimitPages,
}

// clone ensures all fields are copied even if nil.
func (c *EngineConfig) clone() *EngineConfig {
	ret := *c
	return &ret
}

// NewEngineConfig returns the default config: the "optimizing" strategy with api.FeaturesDefault, no logging and no
// metrics.
func NewEngineConfig() *EngineConfig {
	return engineConfigDefaults.clone()
}

// WithStrategy selects the compiler strategy by name: "fast", "optimizing" or "maximal". An unknown name fails in
// NewEngine with wasmerr.ErrUnknownStrategy.
func (c *EngineConfig) WithStrategy(name string) *EngineConfig {
	ret := c.clone()
	ret.strategy = name
	return ret
}

// WithFeatures replaces the enabled features. Defaults to api.FeaturesDefault.
func (c *EngineConfig) WithFeatures(features api.Features) *EngineConfig {
	ret := c.clone()
	ret.features = features
	return ret
}

// WithFeature enables or disables one feature, ex. api.FeatureThreads.
func (c *EngineConfig) WithFeature(feature api.Features, enabled bool) *EngineConfig {
	ret := c.clone()
	ret.features = ret.features.Set(feature, enabled)
	return ret
}

// WithLogger sets the logger of compilation, instantiation and trap events, all logged at debug level. Defaults to
// zap.NewNop.
func (c *EngineConfig) WithLogger(logger *zap.Logger) *EngineConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithRegisterer registers the engine metrics, prefixed "wasmtier_", on the given registerer. Defaults to none.
//
// Note: A registerer only accepts the metrics of one engine, unless wrapped, ex. with prometheus.WrapRegistererWith.
func (c *EngineConfig) WithRegisterer(registerer prometheus.Registerer) *EngineConfig {
	ret := c.clone()
	ret.registerer = registerer
	return ret
}

// WithCompileParallelism bounds the count of functions of one module compiled at once. Zero, the default, means
// runtime.GOMAXPROCS.
func (c *EngineConfig) WithCompileParallelism(n int) *EngineConfig {
	ret := c.clone()
	ret.parallelism = n
	return ret
}

// WithMemoryLimitPages lowers the ceiling of memory limits from 65536 pages (4GiB).
//
// Notes:
//   - A module declaring a memory over this limit fails to compile.
//   - A memory without a declared max can't grow past this limit.
func (c *EngineConfig) WithMemoryLimitPages(pages uint32) *EngineConfig {
	ret := c.clone()
	ret.memoryLimitPages = pages
	return ret
}
