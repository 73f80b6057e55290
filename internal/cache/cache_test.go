package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecell/forgeorch/internal/digest"
)

func TestFileCache_RoundTrip(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "cache"))

	key := digest.Of([]byte("rule-key-of-some-target"))
	out := digest.Of([]byte("hello world"))

	_, err := c.Fetch(key)
	assert.ErrorIs(t, err, ErrMiss)

	entry := Entry{
		Key: key,
		Contents: map[string][]byte{
			"out/hello.txt": []byte("hello world"),
		},
		Metadata: Metadata{Outputs: map[string]digest.Digest{
			"out/hello.txt": out,
		}},
	}
	require.NoError(t, c.Store(entry))

	got, err := c.Fetch(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got.Contents["out/hello.txt"])
	assert.Equal(t, out, got.Metadata.Outputs["out/hello.txt"])

	has, err := c.Has(key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestFileCache_ConcurrentFetchDeduplicated(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "cache"))
	key := digest.Of([]byte("dedup-key"))

	const n = 25
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Fetch(key)
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-results, ErrMiss)
	}
}

func TestFileCache_MalformedManifestIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := NewFileCache(dir)
	key := digest.Of([]byte("bad-entry"))

	entryDir := c.entryDir(key)
	require.NoError(t, os.MkdirAll(entryDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(entryDir, "manifest"), []byte("not a valid manifest line"), 0o644))

	_, err := c.Fetch(key)
	assert.ErrorIs(t, err, ErrMiss)
}
