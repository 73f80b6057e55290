package step

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_CreatesFileAndParents(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "a", "b", "out.txt")

	s := Write{Path: dst, Contents: []byte("payload")}
	res, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestCopy_DuplicatesBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	s := Copy{Src: src, Dst: dst}
	res, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestSubprocess_CapturesNonZeroExit(t *testing.T) {
	s := Subprocess{Program: "false"}
	res, err := s.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestMergeEnv_HigherPrecedenceWins(t *testing.T) {
	base := EnvLayer{"FOO": "base", "BASE_ONLY": "1"}
	override := EnvLayer{"FOO": "override"}

	merged := MergeEnv(base, override)
	assert.Contains(t, merged, "FOO=override")
	assert.Contains(t, merged, "BASE_ONLY=1")
}

func TestCleanStaleOutputs_RemovesUndeclaredFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	stale := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(keep, []byte("k"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("s"), 0o644))

	err := CleanStaleOutputs(dir, map[string]struct{}{"keep.txt": {}})
	require.NoError(t, err)

	assert.FileExists(t, keep)
	assert.NoFileExists(t, stale)
}
