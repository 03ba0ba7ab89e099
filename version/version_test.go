package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info{CommitHash: "0123456789abcdef", BuildTime: "2026-10-01", Version: "v0.3.0"}
	assert.Equal(t, "0123456", info.Short())
	assert.Equal(t, "subman v0.3.0 (commit 0123456, built 2026-10-01)", info.String())

	info.CommitHash = "dev"
	assert.Equal(t, "dev", info.Short())
}

func TestUserAgent(t *testing.T) {
	assert.True(t, strings.HasPrefix(UserAgent(), "subman/"+Version+" ("))
	assert.NotEmpty(t, Get().GoVersion)
}
