package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/source"
)

func TestClassifySource(t *testing.T) {
	pwd := t.TempDir()

	tests := []struct {
		name string
		raw  string
		want location
	}{
		{"registry", "", location{kind: source.KindRegistry}},
		{"relative path", "./pallets/kitties", location{kind: source.KindPath, path: filepath.Join(pwd, "pallets", "kitties")}},
		{"absolute path", "/opt/chain/pallets/nfts", location{kind: source.KindPath, path: "/opt/chain/pallets/nfts"}},
		{
			"github shorthand", "github.com/paritytech/polkadot-sdk",
			location{kind: source.KindGit, url: "https://github.com/paritytech/polkadot-sdk.git"},
		},
		{
			"forced git with ref", "git::https://github.com/paritytech/polkadot-sdk.git?ref=polkadot-v1.0.0",
			location{kind: source.KindGit, url: "https://github.com/paritytech/polkadot-sdk.git", ref: "polkadot-v1.0.0"},
		},
		{
			"https remote", "https://gitlab.com/chain/pallets.git",
			location{kind: source.KindGit, url: "https://gitlab.com/chain/pallets.git"},
		},
		{
			"scp style", "git@github.com:chain/pallets.git",
			location{kind: source.KindGit, url: "ssh://git@github.com/chain/pallets.git"},
		},
		{
			"subdir dropped", "git::https://github.com/chain/pallets.git//frame/kitties?ref=main",
			location{kind: source.KindGit, url: "https://github.com/chain/pallets.git", ref: "main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifySource(tt.raw, pwd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifySourceRejectsOtherGetters(t *testing.T) {
	_, err := classifySource("s3::https://s3.amazonaws.com/bucket/pallet", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDescriptors(t *testing.T) {
	t.Run("registry", func(t *testing.T) {
		ds, err := sourceFlags{constraint: "^4.0.0", features: []string{"runtime-benchmarks"}}.descriptors([]string{"pallet-balances", "pallet-sudo"})
		require.NoError(t, err)
		require.Len(t, ds, 2)
		assert.Equal(t, source.KindRegistry, ds[0].Kind())
		assert.Equal(t, "pallet-sudo", ds[1].Name())
		assert.Equal(t, "^4.0.0", ds[1].Constraint())
		assert.Equal(t, []string{"runtime-benchmarks"}, ds[0].Features())
	})

	t.Run("custom registry", func(t *testing.T) {
		ds, err := sourceFlags{registry: "internal"}.descriptors([]string{"pallet-nfts"})
		require.NoError(t, err)
		assert.Equal(t, source.KindCustomRegistry, ds[0].Kind())
		assert.Equal(t, "internal", ds[0].Registry())
	})

	t.Run("git ref from query", func(t *testing.T) {
		ds, err := sourceFlags{source: "git::https://github.com/paritytech/polkadot-sdk.git?ref=polkadot-v1.0.0"}.descriptors([]string{"pallet-sudo"})
		require.NoError(t, err)
		assert.Equal(t, source.KindGit, ds[0].Kind())
		assert.Equal(t, "polkadot-v1.0.0", ds[0].GitRef())
		assert.Equal(t, "https://github.com/paritytech/polkadot-sdk.git", ds[0].URL())
	})

	t.Run("ref flag wins", func(t *testing.T) {
		ds, err := sourceFlags{source: "github.com/paritytech/polkadot-sdk?ref=master", ref: "stable2407"}.descriptors([]string{"pallet-sudo"})
		require.NoError(t, err)
		assert.Equal(t, "stable2407", ds[0].GitRef())
	})

	t.Run("path", func(t *testing.T) {
		dir := t.TempDir()
		ds, err := sourceFlags{source: dir}.descriptors(nil)
		require.NoError(t, err)
		require.Len(t, ds, 1)
		assert.Equal(t, source.KindPath, ds[0].Kind())
		assert.Equal(t, dir, ds[0].Path())
	})

	invalid := []struct {
		name   string
		flags  sourceFlags
		crates []string
	}{
		{"path with crate", sourceFlags{source: "/opt/pallets/kitties"}, []string{"pallet-kitties"}},
		{"git with version", sourceFlags{source: "github.com/paritytech/polkadot-sdk", constraint: "^1.0.0"}, []string{"pallet-sudo"}},
		{"registry and source", sourceFlags{source: "github.com/paritytech/polkadot-sdk", registry: "internal"}, []string{"pallet-sudo"}},
		{"ref on registry", sourceFlags{ref: "main"}, []string{"pallet-sudo"}},
		{"no crates", sourceFlags{}, nil},
		{"bad crate name", sourceFlags{}, []string{"pallet balances"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.descriptors(tt.crates)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}
