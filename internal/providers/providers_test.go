package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundle_ResolvesRegisteredCollaborators(t *testing.T) {
	b := NewBundle().
		WithToolchain(Toolchain{Name: "cc", Binary: "/usr/bin/cc"}).
		WithPlatform("linux-amd64", Platform{OS: "linux", Arch: "amd64"})

	tc, err := b.Toolchain("cc")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/cc", tc.Binary)

	p, err := b.Platform("linux-amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux", p.OS)

	_, err = b.Toolchain("missing")
	assert.Error(t, err)
}
