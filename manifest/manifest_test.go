package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/subman/errors"
)

const runtimeManifest = `[package]
name = "node-template-runtime"
version = "4.0.0-dev"
edition = "2021"

[dependencies]
# SCALE codec
codec = { package = "parity-scale-codec", version = "3.0.0", default-features = false, features = ["derive"] }
scale-info = { version = "2.1.1", default-features = false, features = ["derive"] }

pallet-aura = { version = "4.0.0-dev", default-features = false, git = "https://github.com/paritytech/substrate.git", branch = "polkadot-v0.9.30" }
frame-support = { version = "4.0.0-dev", default-features = false, git = "https://github.com/paritytech/substrate.git", branch = "polkadot-v0.9.30" }

[build-dependencies]
substrate-wasm-builder = { version = "5.0.0-dev", git = "https://github.com/paritytech/substrate.git", optional = true, branch = "polkadot-v0.9.30" }

[features]
default = ["std"]
std = [
	"codec/std",
	"scale-info/std",
	"frame-support/std",
	"pallet-aura/std",
]
`

const frameSupportLine = `frame-support = { version = "4.0.0-dev", default-features = false, git = "https://github.com/paritytech/substrate.git", branch = "polkadot-v0.9.30" }` + "\n"

func parse(t *testing.T, doc string, opts ...Option) *Model {
	t.Helper()
	m, err := Parse("runtime/Cargo.toml", []byte(doc), opts...)
	require.NoError(t, err)
	return m
}

func boolPtr(b bool) *bool { return &b }

func TestParse_RoundTrip(t *testing.T) {
	docs := map[string]string{
		"runtime":        runtimeManifest,
		"empty":          "",
		"no final EOL":   "[dependencies]\nserde = \"1\"",
		"crlf":           "[dependencies]\r\nserde = \"1\"\r\n# trailing\r\n",
		"table layout":   "[dependencies.pallet-template]\npath = \"../pallets/template\"\n\n[features]\nstd = []\n",
		"array of table": "[[bin]]\nname = \"x\"\n\n[dependencies]\nx = { path = \"x\" } # local\n",
		"multi-line string": "[package]\ndescription = \"\"\"\n[dependencies]\nfake = 1\n\"\"\"\n[dependencies]\nreal = \"1\"\n",
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			m := parse(t, doc)
			assert.Equal(t, doc, string(m.Serialize()))
		})
	}
}

func TestParse_Entries(t *testing.T) {
	m := parse(t, runtimeManifest)

	names := make([]string, 0)
	for _, e := range m.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"codec", "scale-info", "pallet-aura", "frame-support"}, names)

	codec, ok := m.Get("codec")
	require.True(t, ok)
	assert.Equal(t, "parity-scale-codec", codec.Package)
	assert.Equal(t, "3.0.0", codec.Version)
	assert.Equal(t, []string{"derive"}, codec.Features)
	require.NotNil(t, codec.DefaultFeatures)
	assert.False(t, *codec.DefaultFeatures)
	assert.Equal(t, SourceRegistry, codec.Kind())

	aura, ok := m.Get("pallet-aura")
	require.True(t, ok)
	assert.Equal(t, SourceGit, aura.Kind())
	assert.Equal(t, "polkadot-v0.9.30", aura.Branch)

	_, ok = m.Get("substrate-wasm-builder")
	assert.False(t, ok, "build-dependencies are not the managed section")
}

func TestParse_MultiLineStringIsNotASection(t *testing.T) {
	m := parse(t, "[package]\ndescription = \"\"\"\n[dependencies]\nfake = 1\n\"\"\"\n[dependencies]\nreal = \"1\"\n")

	_, ok := m.Get("fake")
	assert.False(t, ok)
	real, ok := m.Get("real")
	require.True(t, ok)
	assert.Equal(t, "1", real.Version)
}

func TestParse_ErrorLocation(t *testing.T) {
	_, err := Parse("runtime/Cargo.toml", []byte("[dependencies]\na = \"1\"\nb = \n"))
	require.Error(t, err)

	assert.True(t, errors.Is(err, errors.ErrManifestParse))

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "runtime/Cargo.toml", perr.Path)
	assert.Equal(t, 3, perr.Line)
	assert.Positive(t, perr.Column)
	assert.Contains(t, err.Error(), "runtime/Cargo.toml:3:")
}

func TestParse_DuplicateEntryRejected(t *testing.T) {
	_, err := Parse("Cargo.toml", []byte("[dependencies]\na = \"1\"\n\n[dependencies.a]\nversion = \"2\"\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrManifestParse))
}

func TestUpsert_NewEntryMinimalDiff(t *testing.T) {
	m := parse(t, runtimeManifest)

	err := m.Upsert(Entry{Name: "pallet-balances", Version: "4.0.0", DefaultFeatures: boolPtr(false)})
	require.NoError(t, err)

	want := strings.Replace(runtimeManifest, frameSupportLine,
		frameSupportLine+`pallet-balances = { version = "4.0.0", default-features = false }`+"\n", 1)
	assert.Equal(t, want, string(m.Serialize()))

	got, ok := m.Get("pallet-balances")
	require.True(t, ok)
	assert.Equal(t, "4.0.0", got.Version)
}

func TestUpsert_KeepsCRLF(t *testing.T) {
	edit := func(m *Model) string {
		require.NoError(t, m.Upsert(Entry{Name: "pallet-balances", Version: "4.0.0", DefaultFeatures: boolPtr(false)}))
		_, err := m.AddFeatureMember("std", "pallet-balances/std")
		require.NoError(t, err)
		return string(m.Serialize())
	}

	lf := edit(parse(t, runtimeManifest))
	crlf := edit(parse(t, strings.ReplaceAll(runtimeManifest, "\n", "\r\n")))

	assert.Equal(t, strings.ReplaceAll(lf, "\n", "\r\n"), crlf)
	assert.Equal(t, strings.Count(crlf, "\n"), strings.Count(crlf, "\r\n"), "bare LF in CRLF document")

	t.Run("new section", func(t *testing.T) {
		m := parse(t, "[package]\r\nname = \"x\"\r\n")
		require.NoError(t, m.Upsert(Entry{Name: "serde", Version: "1"}))
		assert.Equal(t, "[package]\r\nname = \"x\"\r\n\r\n[dependencies]\r\nserde = \"1\"\r\n", string(m.Serialize()))
	})
}

func TestUpsert_Idempotent(t *testing.T) {
	m := parse(t, runtimeManifest)
	e := Entry{Name: "pallet-balances", Version: "4.0.0", DefaultFeatures: boolPtr(false), Features: []string{"insecure"}}

	require.NoError(t, m.Upsert(e))
	first := string(m.Serialize())

	require.NoError(t, m.Upsert(e))
	assert.Equal(t, first, string(m.Serialize()))
}

func TestUpsert_MergeKeepsCustomFields(t *testing.T) {
	m := parse(t, runtimeManifest)

	err := m.Upsert(Entry{Name: "codec", Version: "3.6.1", Features: []string{"derive", "max-encoded-len"}})
	require.NoError(t, err)

	want := strings.Replace(runtimeManifest,
		`codec = { package = "parity-scale-codec", version = "3.0.0", default-features = false, features = ["derive"] }`,
		`codec = { package = "parity-scale-codec", version = "3.6.1", default-features = false, features = ["derive", "max-encoded-len"] }`, 1)
	assert.Equal(t, want, string(m.Serialize()))
}

func TestUpsert_PreservesExtraFields(t *testing.T) {
	m := parse(t, "[dependencies]\npallet-x = { version = \"1.0.0\", optional = true } # keep me\n")

	require.NoError(t, m.Upsert(Entry{Name: "pallet-x", Version: "2.0.0"}))
	assert.Equal(t, "[dependencies]\npallet-x = { version = \"2.0.0\", optional = true } # keep me\n", string(m.Serialize()))

	e, _ := m.Get("pallet-x")
	assert.Equal(t, map[string]any{"optional": true}, e.Extra)
}

func TestUpsert_PlainStringBecomesTable(t *testing.T) {
	m := parse(t, "[dependencies]\nserde = \"1.0\"\n")

	require.NoError(t, m.Upsert(Entry{Name: "serde", Version: "1.0"}))
	assert.Equal(t, "[dependencies]\nserde = \"1.0\"\n", string(m.Serialize()), "same version changes nothing")

	require.NoError(t, m.Upsert(Entry{Name: "serde", Version: "1.0", DefaultFeatures: boolPtr(false)}))
	assert.Equal(t, "[dependencies]\nserde = { version = \"1.0\", default-features = false }\n", string(m.Serialize()))
}

func TestUpsert_SourceChangeDropsStaleFields(t *testing.T) {
	m := parse(t, runtimeManifest)

	err := m.Upsert(Entry{Name: "pallet-aura", Path: "../pallets/aura", DefaultFeatures: boolPtr(false)})
	require.NoError(t, err)

	out := string(m.Serialize())
	assert.Contains(t, out, `pallet-aura = { default-features = false, path = "../pallets/aura" }`+"\n")

	aura, _ := m.Get("pallet-aura")
	assert.Equal(t, SourcePath, aura.Kind())
	assert.Empty(t, aura.Git)
	assert.Empty(t, aura.Branch)
}

func TestUpsert_GitRevReplacesBranch(t *testing.T) {
	m := parse(t, runtimeManifest)
	rev := "a3ed0119c45cdd0d571ad34e5b3ee7518c8cef8d"

	err := m.Upsert(Entry{Name: "frame-support", Git: "https://github.com/paritytech/substrate.git", Rev: rev})
	require.NoError(t, err)

	want := strings.Replace(runtimeManifest, frameSupportLine,
		`frame-support = { version = "4.0.0-dev", default-features = false, git = "https://github.com/paritytech/substrate.git", rev = "`+rev+`" }`+"\n", 1)
	assert.Equal(t, want, string(m.Serialize()))
}

func TestUpsert_TableLayout(t *testing.T) {
	doc := `[dependencies.pallet-template]
# local pallet
path = "../pallets/template"
default-features = false
version = "4.0.0-dev"

[features]
std = ["pallet-template/std"]
`
	m := parse(t, doc)

	e, ok := m.Get("pallet-template")
	require.True(t, ok)
	assert.Equal(t, SourcePath, e.Kind())

	require.NoError(t, m.Upsert(Entry{Name: "pallet-template", Path: "../pallets/template", Features: []string{"runtime-benchmarks"}}))

	want := strings.Replace(doc, "version = \"4.0.0-dev\"\n", "version = \"4.0.0-dev\"\nfeatures = [\"runtime-benchmarks\"]\n", 1)
	assert.Equal(t, want, string(m.Serialize()))

	removed, err := m.Remove("pallet-template")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, "[features]\nstd = [\"pallet-template/std\"]\n", string(m.Serialize()))
}

func TestUpsert_DottedLayout(t *testing.T) {
	doc := "[dependencies]\npallet-x.version = \"1.0.0\"\npallet-x.default-features = false\n"
	m := parse(t, doc)

	e, ok := m.Get("pallet-x")
	require.True(t, ok)
	assert.Equal(t, "1.0.0", e.Version)
	require.NotNil(t, e.DefaultFeatures)

	require.NoError(t, m.Upsert(Entry{Name: "pallet-x", Version: "1.0.0", Features: []string{"std"}}))
	assert.Equal(t, doc+"pallet-x.features = [\"std\"]\n", string(m.Serialize()))
}

func TestUpsert_CreatesMissingSection(t *testing.T) {
	m := parse(t, "[package]\nname = \"x\"")

	require.NoError(t, m.Upsert(Entry{Name: "a", Version: "1"}))
	assert.Equal(t, "[package]\nname = \"x\"\n\n[dependencies]\na = \"1\"\n", string(m.Serialize()))
}

func TestUpsert_RejectsNamelessEntry(t *testing.T) {
	m := parse(t, runtimeManifest)
	err := m.Upsert(Entry{Version: "1"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Equal(t, runtimeManifest, string(m.Serialize()))
}

func TestWithSection(t *testing.T) {
	doc := "[dependencies]\na = \"1\"\n\n[dev-dependencies]\nb = \"2\"\n"
	m := parse(t, doc, WithSection("dev-dependencies"))

	_, ok := m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("b")
	assert.True(t, ok)

	require.NoError(t, m.Upsert(Entry{Name: "c", Version: "3"}))
	assert.Equal(t, doc+"c = \"3\"\n", string(m.Serialize()))
}

func TestRemove(t *testing.T) {
	doc := `[dependencies]
a = "1"

# pallet b does things
# more
b = "2"
c = "3"
`
	t.Run("removes attached comments", func(t *testing.T) {
		m := parse(t, doc)
		removed, err := m.Remove("b")
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, "[dependencies]\na = \"1\"\n\nc = \"3\"\n", string(m.Serialize()))
	})

	t.Run("missing name is a no-op", func(t *testing.T) {
		m := parse(t, doc)
		removed, err := m.Remove("zzz")
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Equal(t, doc, string(m.Serialize()))
	})

	t.Run("upsert then remove restores the document", func(t *testing.T) {
		m := parse(t, runtimeManifest)
		require.NoError(t, m.Upsert(Entry{Name: "pallet-balances", Version: "4.0.0"}))
		_, err := m.Remove("pallet-balances")
		require.NoError(t, err)
		assert.Equal(t, runtimeManifest, string(m.Serialize()))
	})
}

func TestFeatureMembers(t *testing.T) {
	t.Run("multi-line array", func(t *testing.T) {
		m := parse(t, runtimeManifest)

		changed, err := m.AddFeatureMember("std", "pallet-balances/std")
		require.NoError(t, err)
		assert.True(t, changed)

		want := strings.Replace(runtimeManifest, "\t\"pallet-aura/std\",\n", "\t\"pallet-aura/std\",\n\t\"pallet-balances/std\",\n", 1)
		assert.Equal(t, want, string(m.Serialize()))

		changed, err = m.AddFeatureMember("std", "pallet-balances/std")
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = m.RemoveFeatureMember("std", "pallet-balances/std")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, runtimeManifest, string(m.Serialize()))
	})

	t.Run("single-line array", func(t *testing.T) {
		m := parse(t, "[features]\nstd = [\"a/std\"]\n")

		_, err := m.AddFeatureMember("std", "b/std")
		require.NoError(t, err)
		assert.Equal(t, "[features]\nstd = [\"a/std\", \"b/std\"]\n", string(m.Serialize()))
		assert.Equal(t, []string{"a/std", "b/std"}, m.FeatureMembers("std"))

		_, err = m.RemoveFeatureMember("std", "a/std")
		require.NoError(t, err)
		assert.Equal(t, "[features]\nstd = [\"b/std\"]\n", string(m.Serialize()))
	})

	t.Run("missing feature table", func(t *testing.T) {
		m := parse(t, "[dependencies]\na = \"1\"\n")

		changed, err := m.AddFeatureMember("std", "a/std")
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "[dependencies]\na = \"1\"\n\n[features]\nstd = [\"a/std\"]\n", string(m.Serialize()))
	})

	t.Run("missing member is a no-op", func(t *testing.T) {
		m := parse(t, runtimeManifest)
		changed, err := m.RemoveFeatureMember("std", "nope/std")
		require.NoError(t, err)
		assert.False(t, changed)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(path, []byte(runtimeManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir())
	assert.Equal(t, DefaultSection, m.Section())

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
