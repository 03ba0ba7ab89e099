package testing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// RuntimeManifest is a node-template runtime Cargo.toml
const RuntimeManifest = `[package]
name = "node-template-runtime"
version = "4.0.0-dev"
edition = "2021"

[package.metadata.docs.rs]
targets = ["x86_64-unknown-linux-gnu"]

[dependencies]
codec = { package = "parity-scale-codec", version = "3.6.1", default-features = false, features = ["derive"] }

# Local pallets
pallet-template = { version = "4.0.0-dev", default-features = false, path = "../pallets/template" }

[build-dependencies]
substrate-wasm-builder = { version = "5.0.0-dev", optional = true }

[features]
default = ["std"]
std = [
	"codec/std",
	"pallet-template/std",
]
`

// EmptyRuntime is a lib.rs whose construct_runtime! lists no pallets
const EmptyRuntime = `#![cfg_attr(not(feature = "std"), no_std)]

use frame_support::construct_runtime;

impl pallet_template::Config for Runtime {
	type RuntimeEvent = RuntimeEvent;
}

// Create the runtime by composing the FRAME pallets that were previously configured.
construct_runtime!(
	pub enum Runtime {
	}
);

#[cfg(test)]
mod tests {}
`

// Chain is a scratch chain project on disk
type Chain struct {
	Root string
}

// NewChain writes a project with RuntimeManifest and EmptyRuntime under a
// temporary directory removed with the test
func NewChain(t *testing.T) *Chain {
	t.Helper()
	return NewChainWith(t, RuntimeManifest, EmptyRuntime)
}

// NewChainWith writes a project with the given runtime files
func NewChainWith(t *testing.T, manifest, lib string) *Chain {
	t.Helper()
	c := &Chain{Root: t.TempDir()}
	c.Write(t, "Substrate.toml", "type = \"chain\"\n\n[paths]\nnode = \"node\"\nruntime = \"runtime\"\nfrontend = \"frontend\"\n")
	c.Write(t, "runtime/Cargo.toml", manifest)
	c.Write(t, "runtime/src/lib.rs", lib)
	return c
}

// Path joins rel onto the project root
func (c *Chain) Path(rel string) string {
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

func (c *Chain) ManifestPath() string    { return c.Path("runtime/Cargo.toml") }
func (c *Chain) CompositionPath() string { return c.Path("runtime/src/lib.rs") }

// Write creates rel with content
func (c *Chain) Write(t *testing.T, rel, content string) {
	t.Helper()
	p := c.Path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

// Read returns the content of rel
func (c *Chain) Read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(c.Path(rel))
	require.NoError(t, err)
	return string(data)
}

// Manifest returns the runtime Cargo.toml
func (c *Chain) Manifest(t *testing.T) string { return c.Read(t, "runtime/Cargo.toml") }

// Composition returns the runtime lib.rs
func (c *Chain) Composition(t *testing.T) string { return c.Read(t, "runtime/src/lib.rs") }
