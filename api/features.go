package api

import (
	"fmt"
	"strings"
)

// Features is a bit flag of WebAssembly features beyond the 1.0 (20191205) core. Each is independently togglable.
// A module using an instruction of a disabled feature fails compilation rather than having it silently ignored.
type Features uint64

const (
	// FeatureMutableGlobal allows globals to be mutable when imported or exported.
	FeatureMutableGlobal Features = 1 << iota
	// FeatureSignExtensionOps adds i32.extend8_s and the other sign-extension operators.
	FeatureSignExtensionOps
	// FeatureNonTrappingFloatToIntConversion adds the saturating truncation instructions, ex. i32.trunc_sat_f32_s.
	FeatureNonTrappingFloatToIntConversion
	// FeatureBulkMemoryOperations adds memory.copy, memory.fill, memory.init, data.drop, passive data segments and
	// the data count section.
	FeatureBulkMemoryOperations
	// FeatureThreads adds shared memories and the atomic instructions.
	FeatureThreads
)

// FeaturesDefault are the features enabled when not configured: everything except threads.
const FeaturesDefault = FeatureMutableGlobal | FeatureSignExtensionOps |
	FeatureNonTrappingFloatToIntConversion | FeatureBulkMemoryOperations

// FeaturesAll enables every supported feature.
const FeaturesAll = FeaturesDefault | FeatureThreads

var featureNames = []struct {
	f    Features
	name string
}{
	{FeatureMutableGlobal, "mutable_global"},
	{FeatureSignExtensionOps, "sign_extension"},
	{FeatureNonTrappingFloatToIntConversion, "nontrapping_float_to_int"},
	{FeatureBulkMemoryOperations, "bulk_memory"},
	{FeatureThreads, "threads"},
}

// Get returns true if the feature (or all the features) are enabled.
func (f Features) Get(feature Features) bool {
	return f&feature == feature
}

// Set returns a copy with the feature enabled or disabled.
func (f Features) Set(feature Features, enabled bool) Features {
	if enabled {
		return f | feature
	}
	return f &^ feature
}

// RequireEnabled returns an error naming the feature if it is not enabled.
func (f Features) RequireEnabled(feature Features) error {
	if f&feature == 0 {
		return fmt.Errorf("feature %q is disabled", feature)
	}
	return nil
}

// String implements fmt.Stringer by returning the enabled feature names joined by a comma.
func (f Features) String() string {
	var names []string
	for _, fn := range featureNames {
		if f&fn.f != 0 {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, ",")
}

// FeatureName returns the name of a single feature, ex. "threads", or "" if unknown.
func FeatureName(feature Features) string {
	for _, fn := range featureNames {
		if fn.f == feature {
			return fn.name
		}
	}
	return ""
}

// ParseFeatures parses a comma separated list of feature names, ex. "threads,bulk_memory". The special names "all"
// and "default" expand to FeaturesAll and FeaturesDefault. An empty string is no features.
func ParseFeatures(s string) (Features, error) {
	var ret Features
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case "all":
			ret |= FeaturesAll
			continue
		case "default":
			ret |= FeaturesDefault
			continue
		}
		found := false
		for _, fn := range featureNames {
			if fn.name == name {
				ret |= fn.f
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown feature %q", name)
		}
	}
	return ret, nil
}
