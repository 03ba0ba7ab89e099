package config

import (
	"github.com/spf13/viper"
)

// Default values shared with callers that build configuration by hand
const (
	DefaultIndexURL    = "sparse+https://index.crates.io/"
	DefaultBuildCmd    = "cargo check --quiet"
	DefaultMaxAttempts = 4
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("type", "chain")

	// Layout produced by the node template
	v.SetDefault("paths.node", "node")
	v.SetDefault("paths.runtime", "runtime")
	v.SetDefault("paths.frontend", "frontend")

	v.SetDefault("runtime.section", "dependencies")
	v.SetDefault("runtime.std_feature", "std")
	v.SetDefault("runtime.base_index", 0)

	v.SetDefault("registry.index", DefaultIndexURL)
	v.SetDefault("registry.timeout", "30s")
	v.SetDefault("registry.requests_per_second", 10.0)
	v.SetDefault("registry.concurrency", 4)
	v.SetDefault("registry.allow_private_networks", false)

	v.SetDefault("retry.max_attempts", DefaultMaxAttempts)
	v.SetDefault("retry.initial_delay", "250ms")
	v.SetDefault("retry.max_delay", "4s")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("build.command", DefaultBuildCmd)
}
