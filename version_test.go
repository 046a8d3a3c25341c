package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast("1.2.0", "1.1.0"))
	assert.True(t, versionAtLeast("1.2.0", "1.2.0"))
	assert.False(t, versionAtLeast("1.1.0", "1.2.0"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, compareVersions("1.0", "1.0.0"))
	assert.Equal(t, 1, compareVersions("2.0.0", "1.9.9"))
	assert.Equal(t, -1, compareVersions("1.0.0", "1.0.1"))
}
