package source

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainTip    = "1111111111111111111111111111111111111111"
	devTip     = "2222222222222222222222222222222222222222"
	tagObject  = "3333333333333333333333333333333333333333"
	tagCommit  = "4444444444444444444444444444444444444444"
	lightTag   = "5555555555555555555555555555555555555555"
	devTwinTip = "2222222aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func advertised() []*plumbing.Reference {
	return []*plumbing.Reference{
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main")),
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), plumbing.NewHash(mainTip)),
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("dev"), plumbing.NewHash(devTip)),
		plumbing.NewHashReference(plumbing.NewBranchReferenceName("dev-twin"), plumbing.NewHash(devTwinTip)),
		plumbing.NewHashReference(plumbing.NewTagReferenceName("v1.0.0"), plumbing.NewHash(tagObject)),
		plumbing.NewHashReference(plumbing.ReferenceName("refs/tags/v1.0.0^{}"), plumbing.NewHash(tagCommit)),
		plumbing.NewHashReference(plumbing.NewTagReferenceName("light"), plumbing.NewHash(lightTag)),
	}
}

func TestMatchRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		hash    string
		matched string
	}{
		{name: "empty means HEAD", ref: "", hash: mainTip, matched: "HEAD"},
		{name: "explicit HEAD", ref: "HEAD", hash: mainTip, matched: "HEAD"},
		{name: "branch", ref: "dev", hash: devTip, matched: "refs/heads/dev"},
		{name: "annotated tag is peeled", ref: "v1.0.0", hash: tagCommit, matched: "refs/tags/v1.0.0"},
		{name: "lightweight tag", ref: "light", hash: lightTag, matched: "refs/tags/light"},
		{name: "full ref name", ref: "refs/tags/v1.0.0", hash: tagCommit, matched: "refs/tags/v1.0.0"},
		{name: "full hash not advertised", ref: "ABCDEF0123456789abcdef0123456789abcdef01", hash: "abcdef0123456789abcdef0123456789abcdef01",
			matched: "commit abcdef0123456789abcdef0123456789abcdef01 (not advertised, unverified)"},
		{name: "full hash of a tip", ref: devTip, hash: devTip, matched: "commit " + devTip},
		{name: "abbreviated tip", ref: "1111111", hash: mainTip, matched: "commit " + mainTip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, matched, err := matchRef(advertised(), tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.hash, hash)
			if tt.matched != "" {
				assert.Equal(t, tt.matched, matched)
			}
		})
	}
}

func TestMatchRefFailures(t *testing.T) {
	tests := []struct {
		name        string
		refs        []*plumbing.Reference
		ref         string
		errContains string
	}{
		{name: "unknown branch", refs: advertised(), ref: "feature/x", errContains: "no branch, tag or commit"},
		{name: "ambiguous prefix", refs: advertised(), ref: "2222222", errContains: "ambiguous"},
		{name: "abbreviated non-tip", refs: advertised(), ref: "deadbeef", errContains: "not an advertised tip"},
		{name: "too short to be a hash", refs: advertised(), ref: "abc", errContains: "no branch, tag or commit"},
		{name: "no HEAD", refs: advertised()[1:], ref: "", errContains: "HEAD"},
		{name: "missing full ref", refs: advertised(), ref: "refs/heads/gone", errContains: "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := matchRef(tt.refs, tt.ref)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
