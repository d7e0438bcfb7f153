package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	assert.Equal(t, "v1.2.3", Canonical("1.2.3"))
	assert.Equal(t, "v1.2.0", Canonical("v1.2"))
	assert.Equal(t, "", Canonical("not-a-version"))
}

func TestIsRelease(t *testing.T) {
	assert.True(t, IsRelease("0.4.0"))
	assert.False(t, IsRelease("0.0.0-dev"))
	assert.False(t, IsRelease("garbage"))
}

func TestString(t *testing.T) {
	oldV, oldC := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldV, oldC })

	Version, GitCommit = "0.4.0", "unknown"
	assert.Equal(t, "0.4.0", String())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, "0.4.0-01234567", String())
}
