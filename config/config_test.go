package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Dims)
	assert.Equal(t, 5, cfg.Overfetch)
	assert.Equal(t, 16, cfg.Index.M)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout.Std())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dims: 128
embedding:
  base_url: http://embed.internal:9000
  timeout: 3s
ranking:
  enabled: true
  base_url: http://rank.internal:9000
cache:
  local_budget_bytes: 1048576
  compression: lz4
  embedding_ttl: 24h
index:
  m: 32
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Dims)
	assert.Equal(t, "http://embed.internal:9000", cfg.Embedding.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Embedding.Timeout.Std())
	assert.True(t, cfg.Ranking.Enabled)
	assert.Equal(t, int64(1<<20), cfg.Cache.LocalBudgetBytes)
	assert.Equal(t, "lz4", cfg.Cache.Compression)
	assert.Equal(t, 24*time.Hour, cfg.Cache.EmbeddingTTL.Std())
	assert.Equal(t, 32, cfg.Index.M)
	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.Index.EfSearch)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Dims)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MATCHENGINE_DIMS", "64")
	t.Setenv("MATCHENGINE_EMBEDDING_URL", "http://override:8000")
	t.Setenv("MATCHENGINE_RANKING_ENABLED", "true")
	t.Setenv("MATCHENGINE_CACHE_BUDGET", "2048")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Dims)
	assert.Equal(t, "http://override:8000", cfg.Embedding.BaseURL)
	assert.True(t, cfg.Ranking.Enabled)
	assert.Equal(t, int64(2048), cfg.Cache.LocalBudgetBytes)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Dims = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Compression = "gzip"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ranking.Enabled = true
	cfg.Ranking.BaseURL = ""
	assert.Error(t, cfg.Validate())
}

func TestInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  timeout: soon\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
