package source

import (
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/subman/config"
	"github.com/teranos/subman/errors"
)

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		req     string
		allowed []string
		refused []string
	}{
		{req: "", allowed: []string{"0.1.0", "4.2.0"}, refused: []string{"5.0.0-rc.1"}},
		{req: "4.0.0", allowed: []string{"4.0.0", "4.9.1"}, refused: []string{"3.9.9", "5.0.0"}},
		{req: "^4.0.0", allowed: []string{"4.1.0"}, refused: []string{"5.0.0"}},
		{req: "0.2.3", allowed: []string{"0.2.9"}, refused: []string{"0.3.0", "0.2.2"}},
		{req: "~1.2", allowed: []string{"1.2.7"}, refused: []string{"1.3.0"}},
		{req: "=1.2.3", allowed: []string{"1.2.3"}, refused: []string{"1.2.4"}},
		{req: ">=1.0, <2.0", allowed: []string{"1.5.0"}, refused: []string{"2.0.0", "0.9.0"}},
		{req: "*", allowed: []string{"0.0.1", "27.0.0"}},
		{req: "5.0.0-rc.1", allowed: []string{"5.0.0-rc.1", "5.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			r, err := ParseRequirement(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.req == "", r.Any())
			for _, v := range tt.allowed {
				assert.True(t, r.Allows(semver.MustParse(v)), "%q should allow %s", tt.req, v)
			}
			for _, v := range tt.refused {
				assert.False(t, r.Allows(semver.MustParse(v)), "%q should refuse %s", tt.req, v)
			}
		})
	}
}

func TestParseRequirementInvalid(t *testing.T) {
	for _, req := range []string{"not a version", "1.0,", "latest"} {
		_, err := ParseRequirement(req)
		require.Error(t, err, req)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), req)
	}
}

func TestRequirementBase(t *testing.T) {
	tests := map[string]string{
		"1.2.0":       "1.2.0",
		"^1.2":        "1.2.0",
		"~4":          "4.0.0",
		">=4.1, <5":   "4.1.0",
		"=0.3.1":      "0.3.1",
		"1.*":         "1.0.0",
		"2.0.0-dev.1": "2.0.0-dev.1",
	}
	for req, want := range tests {
		t.Run(req, func(t *testing.T) {
			r, err := ParseRequirement(req)
			require.NoError(t, err)
			v, ok := r.Base()
			require.True(t, ok)
			assert.Equal(t, want, v.String())
		})
	}

	for _, req := range []string{"", "*"} {
		r, err := ParseRequirement(req)
		require.NoError(t, err)
		_, ok := r.Base()
		assert.False(t, ok, req)
	}
}

func TestIndexPath(t *testing.T) {
	tests := map[string]string{
		"a":               "1/a",
		"ab":              "2/ab",
		"abc":             "3/a/abc",
		"serde":           "se/rd/serde",
		"pallet-balances": "pa/ll/pallet-balances",
		"Inflector":       "in/fl/inflector",
	}
	for crate, want := range tests {
		assert.Equal(t, want, IndexPath(crate), crate)
	}
}

func TestIndexBase(t *testing.T) {
	base, err := indexBase("sparse+https://index.crates.io/")
	require.NoError(t, err)
	assert.Equal(t, "https://index.crates.io/", base)

	base, err = indexBase("https://my.registry/index")
	require.NoError(t, err)
	assert.Equal(t, "https://my.registry/index/", base)

	_, err = indexBase("git://github.com/rust-lang/crates.io-index")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSelectVersion(t *testing.T) {
	records := []indexRecord{
		{Name: "balances", Vers: "3.9.0"},
		{Name: "balances", Vers: "4.0.0"},
		{Name: "balances", Vers: "4.2.0"},
		{Name: "balances", Vers: "4.3.0", Yanked: true},
		{Name: "balances", Vers: "5.0.0-rc.1"},
		{Name: "balances", Vers: "garbage"},
	}

	req, err := ParseRequirement("^4.0.0")
	require.NoError(t, err)
	v, rec, ok := selectVersion(records, req)
	require.True(t, ok)
	assert.Equal(t, "4.2.0", v.String())
	assert.Equal(t, "4.2.0", rec.Vers)

	v, _, ok = selectVersion(records, Requirement{})
	require.True(t, ok)
	assert.Equal(t, "4.2.0", v.String(), "pre-releases need an explicit requirement")

	req, err = ParseRequirement(">=5.0.0-0")
	require.NoError(t, err)
	v, _, ok = selectVersion(records, req)
	require.True(t, ok)
	assert.Equal(t, "5.0.0-rc.1", v.String())

	req, err = ParseRequirement("^6")
	require.NoError(t, err)
	_, _, ok = selectVersion(records, req)
	assert.False(t, ok)
}

func TestBackoffDelay(t *testing.T) {
	cfg := config.RetryConfig{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2,
	}
	half := func() float64 { return 0.5 }

	assert.Equal(t, 250*time.Millisecond, backoffDelay(cfg, 1, half))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(cfg, 2, half))
	assert.Equal(t, 1*time.Second, backoffDelay(cfg, 3, half))
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 10, half), "capped")

	assert.Equal(t, 125*time.Millisecond, backoffDelay(cfg, 1, func() float64 { return 0 }))
	assert.Equal(t, time.Duration(0), backoffDelay(config.RetryConfig{}, 3, half))
}
