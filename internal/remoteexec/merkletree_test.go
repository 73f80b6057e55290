package remoteexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_Build_DeterministicAcrossInsertionOrder(t *testing.T) {
	t1 := NewTree()
	require.NoError(t, t1.AddFile(InputFile{Path: "a/one.txt", Contents: []byte("one")}))
	require.NoError(t, t1.AddFile(InputFile{Path: "b/two.txt", Contents: []byte("two")}))
	require.NoError(t, t1.AddSymlink(InputSymlink{Path: "a/link", Target: "one.txt"}))

	t2 := NewTree()
	require.NoError(t, t2.AddSymlink(InputSymlink{Path: "a/link", Target: "one.txt"}))
	require.NoError(t, t2.AddFile(InputFile{Path: "b/two.txt", Contents: []byte("two")}))
	require.NoError(t, t2.AddFile(InputFile{Path: "a/one.txt", Contents: []byte("one")}))

	r1, err := t1.Build()
	require.NoError(t, err)
	r2, err := t2.Build()
	require.NoError(t, err)

	assert.Equal(t, r1.InputRootDigest.Hash, r2.InputRootDigest.Hash)
}

func TestTree_Build_DifferentContentYieldsDifferentRoot(t *testing.T) {
	t1 := NewTree()
	require.NoError(t, t1.AddFile(InputFile{Path: "f.txt", Contents: []byte("v1")}))
	r1, err := t1.Build()
	require.NoError(t, err)

	t2 := NewTree()
	require.NoError(t, t2.AddFile(InputFile{Path: "f.txt", Contents: []byte("v2")}))
	r2, err := t2.Build()
	require.NoError(t, err)

	assert.NotEqual(t, r1.InputRootDigest.Hash, r2.InputRootDigest.Hash)
}

func TestTree_Build_CollectsAllBlobsExactlyOnce(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.AddFile(InputFile{Path: "shared/a.txt", Contents: []byte("x")}))
	require.NoError(t, tree.AddFile(InputFile{Path: "shared/b.txt", Contents: []byte("x")})) // identical content

	result, err := tree.Build()
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, b := range result.Blobs {
		seen[b.Digest.Hash]++
	}
	for hash, count := range seen {
		assert.Equal(t, 1, count, "digest %s collected more than once", hash)
	}
}
