// Package config loads subman's project configuration.
//
// Settings are layered: built-in defaults, then the project's Substrate.toml,
// then SUBMAN_* environment variables. Custom registry endpoints and their
// credentials are discovered separately from cargo's own configuration files
// (see LoadCargoRegistries).
package config

import (
	"path/filepath"
	"time"
)

// ProjectFileName is the project marker written by project scaffolding.
const ProjectFileName = "Substrate.toml"

// Config represents the subman configuration for one project
type Config struct {
	Type     string         `mapstructure:"type"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Registry RegistryConfig `mapstructure:"registry"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Build    BuildConfig    `mapstructure:"build"`

	// Registries holds custom registries keyed by name. Populated from cargo
	// configuration by LoadCargoRegistries, optionally extended in Substrate.toml.
	Registries map[string]Registry `mapstructure:"registries"`
}

// PathsConfig locates the chain's crates relative to the project root
type PathsConfig struct {
	Node     string `mapstructure:"node"`
	Runtime  string `mapstructure:"runtime"`
	Frontend string `mapstructure:"frontend"`

	// Manifest and Composition override the files derived from Runtime
	Manifest    string `mapstructure:"manifest"`
	Composition string `mapstructure:"composition"`
}

// RuntimeConfig controls how pallets are written into the runtime crate
type RuntimeConfig struct {
	Section    string `mapstructure:"section"`     // manifest table holding pallet dependencies
	StdFeature string `mapstructure:"std_feature"` // feature receiving "<crate>/std"; empty disables propagation
	BaseIndex  int    `mapstructure:"base_index"`  // first pallet index of an empty composition
}

// RegistryConfig configures access to the default crate registry
type RegistryConfig struct {
	Index                string        `mapstructure:"index"`
	Timeout              time.Duration `mapstructure:"timeout"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
	Concurrency          int           `mapstructure:"concurrency"`
	AllowPrivateNetworks bool          `mapstructure:"allow_private_networks"`
}

// Registry is a named custom registry endpoint
type Registry struct {
	Index string `mapstructure:"index" toml:"index"`
	Token string `mapstructure:"token" toml:"token"`
}

// RetryConfig bounds retries of transient network failures
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// BuildConfig configures the post-integration build check
type BuildConfig struct {
	Command string `mapstructure:"command"`
}

// ManifestPath returns the runtime manifest path under root
func (c *Config) ManifestPath(root string) string {
	if c.Paths.Manifest != "" {
		return resolve(root, c.Paths.Manifest)
	}
	return filepath.Join(resolve(root, c.Paths.Runtime), "Cargo.toml")
}

// CompositionPath returns the runtime composition source path under root
func (c *Config) CompositionPath(root string) string {
	if c.Paths.Composition != "" {
		return resolve(root, c.Paths.Composition)
	}
	return filepath.Join(resolve(root, c.Paths.Runtime), "src", "lib.rs")
}

// RuntimeDir returns the runtime crate directory under root
func (c *Config) RuntimeDir(root string) string {
	return resolve(root, c.Paths.Runtime)
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
