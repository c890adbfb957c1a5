package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SERVER_ADDR", "SNAPSHOT_PATH", "SNAPSHOT_INTERVAL_SECONDS",
		"SAMPLE_EMBEDDINGS_PATH", "DEFAULT_ALGORITHM",
		"LSH_TABLES", "LSH_PLANES", "LSH_SEED",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Address)
	assert.Equal(t, 30, cfg.Snapshot.IntervalSeconds)
	assert.Equal(t, "exact", cfg.DefaultAlgorithm)
	assert.Equal(t, 4, cfg.LSH.Tables)
	assert.Equal(t, 8, cfg.LSH.Planes)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_ADDR", "0.0.0.0:9090")
	t.Setenv("DEFAULT_ALGORITHM", "lsh")
	t.Setenv("SNAPSHOT_INTERVAL_SECONDS", "5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Address)
	assert.Equal(t, "lsh", cfg.DefaultAlgorithm)
	assert.Equal(t, 5, cfg.Snapshot.IntervalSeconds)
}

func TestFromEnvRejectsInvalidAlgorithm(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEFAULT_ALGORITHM", "bogus")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestLoadFileParsesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
address: "0.0.0.0:7070"
default_algorithm: lsh
snapshot:
  path: "/tmp/example.snapshot"
  interval_seconds: 15
lsh:
  tables: 6
  planes: 10
  seed: 123
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7070", cfg.Address)
	assert.Equal(t, "lsh", cfg.DefaultAlgorithm)
	assert.Equal(t, 15, cfg.Snapshot.IntervalSeconds)
	assert.Equal(t, 6, cfg.LSH.Tables)
}

func TestLoadFileEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("address: \"0.0.0.0:7070\"\n"), 0o644))

	t.Setenv("SERVER_ADDR", "127.0.0.1:1234")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Address)
}
