package main

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/wasmtier/wasmtier/api"
	"github.com/wasmtier/wasmtier/internal/engine/optimizing"
	"github.com/wasmtier/wasmtier/internal/wat"
)

// envPrefix is stripped from environment variables, ex. WASMTIER_MEMORY__SHARED is "memory.shared".
const envPrefix = "WASMTIER_"

// config is the CLI configuration, merged from defaults, a yaml file, the environment and flags, in that order.
type config struct {
	Compiler           string       `koanf:"compiler"`
	Features           string       `koanf:"features"`
	Memory             memoryConfig `koanf:"memory"`
	Converter          string       `koanf:"converter"`
	LogLevel           string       `koanf:"log_level"`
	CompileParallelism int          `koanf:"compile_parallelism"`
	MemoryLimitPages   uint32       `koanf:"memory_limit_pages"`
}

// memoryConfig is the memory supplied as the "env" "memory" import.
type memoryConfig struct {
	Min uint32 `koanf:"min"`
	// Max of zero is unbounded.
	Max    uint32 `koanf:"max"`
	Shared bool   `koanf:"shared"`
	Import bool   `koanf:"import"`
}

// defaults match the benchmark harness: a (1, 1024) shared memory with threads enabled.
var defaults = map[string]any{
	"compiler":            optimizing.Name,
	"features":            "all",
	"memory.min":          1,
	"memory.max":          1024,
	"memory.shared":       true,
	"memory.import":       true,
	"converter":           wat.Wasmtime,
	"log_level":           "info",
	"compile_parallelism": 0,
	"memory_limit_pages":  int(api.MemoryLimitPages),
}

// flagKeys maps flag names to config keys. Only flags set on the command line override the config.
var flagKeys = map[string]string{
	"compiler":            "compiler",
	"features":            "features",
	"converter":           "converter",
	"log-level":           "log_level",
	"compile-parallelism": "compile_parallelism",
	"memory-limit-pages":  "memory_limit_pages",
	"memory-min":          "memory.min",
	"memory-max":          "memory.max",
	"shared":              "memory.shared",
}

// loadConfig merges the configuration sources. flags must be parsed.
func loadConfig(flags *pflag.FlagSet) (*config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if key, ok := flagKeys[f.Name]; ok {
			err = k.Set(key, f.Value.String())
		} else if f.Name == "no-memory" {
			err = k.Set("memory.import", f.Value.String() != "true")
		}
	})
	if err != nil {
		return nil, err
	}

	var cfg config
	if err = k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey strips the prefix and lower-cases the name. A double underscore separates nested keys, so single
// underscores, as in log_level, survive.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// features parses the feature list.
func (c *config) features() (api.Features, error) {
	f, err := api.ParseFeatures(c.Features)
	if err != nil {
		return 0, fmt.Errorf("invalid features: %w", err)
	}
	return f, nil
}

// memoryMax returns nil when unbounded.
func (c *config) memoryMax() *uint32 {
	if c.Memory.Max == 0 {
		return nil
	}
	max := c.Memory.Max
	return &max
}
