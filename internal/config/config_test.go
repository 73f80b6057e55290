package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".forgeorchconfig")
	content := "[build]\nconcurrency = 4\nout_root = \"build-out\"\n\n[remote]\nendpoint = \"grpc.example:443\"\nenabled = true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Build.Concurrency)
	assert.Equal(t, "build-out", cfg.Build.OutRoot)
	assert.True(t, cfg.Remote.Enabled)
}

func TestApplyOverrides_AppliesInOrder(t *testing.T) {
	cfg := Default()
	err := ApplyOverrides(&cfg, []string{"build.concurrency=16", "cache.enabled=false"})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Build.Concurrency)
	assert.False(t, cfg.Cache.Enabled)
}

func TestApplyOverride_RejectsUnknownKey(t *testing.T) {
	cfg := Default()
	err := ApplyOverride(&cfg, "build.nonsense=1")
	assert.Error(t, err)
}

func TestApplyOverride_RejectsMalformed(t *testing.T) {
	cfg := Default()
	err := ApplyOverride(&cfg, "not-a-valid-override")
	assert.Error(t, err)
}
