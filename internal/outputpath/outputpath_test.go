package outputpath

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecell/forgeorch/internal/digest"
	"github.com/forgecell/forgeorch/internal/target"
)

func TestFor_DistinctKeysYieldDistinctDirs(t *testing.T) {
	tgt := target.New("", "pkg/sub", "widget", nil, "")
	k1 := digest.Of([]byte("key-one"))
	k2 := digest.Of([]byte("key-two"))

	p1 := For("/out", tgt, k1)
	p2 := For("/out", tgt, k2)

	assert.NotEqual(t, p1.GenDir, p2.GenDir)
	assert.NotEqual(t, p1.ScratchDir, p2.ScratchDir)
	assert.Contains(t, p1.GenDir, "pkg/sub")
	assert.Contains(t, p1.GenDir, "widget__")
}

func TestFor_SameKeyYieldsSameDir(t *testing.T) {
	tgt := target.New("", "pkg", "widget", nil, "")
	k := digest.Of([]byte("stable-key"))

	p1 := For("/out", tgt, k)
	p2 := For("/out", tgt, k)

	assert.Equal(t, p1.GenDir, p2.GenDir)
}
