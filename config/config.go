// Package config loads engine configuration from a YAML file with
// environment variable overrides (prefix MATCHENGINE_).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "10s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the on-disk engine configuration.
type Config struct {
	// Dims is the embedding dimensionality.
	Dims int `yaml:"dims"`

	// Overfetch multiplies topK when pulling candidates.
	Overfetch int `yaml:"overfetch"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Cache     CacheConfig     `yaml:"cache"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	BaseURL   string   `yaml:"base_url"`
	Timeout   Duration `yaml:"timeout"`
	RateLimit float64  `yaml:"rate_limit"`
}

// RankingConfig configures the optional re-ranking service client.
type RankingConfig struct {
	Enabled bool     `yaml:"enabled"`
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// CacheConfig configures the tiered cache.
type CacheConfig struct {
	// LocalBudgetBytes bounds the process-local tier.
	LocalBudgetBytes int64 `yaml:"local_budget_bytes"`

	// CompressThreshold is the payload size above which values are
	// compressed. Zero uses the built-in default.
	CompressThreshold int `yaml:"compress_threshold"`

	// Compression selects the algorithm: zstd (default), lz4 or none.
	Compression string `yaml:"compression"`

	// EmbeddingTTL is the cache lifetime for query embeddings.
	EmbeddingTTL Duration `yaml:"embedding_ttl"`

	// DynamoTable names the DynamoDB table backing the remote tier.
	// Empty disables the remote tier.
	DynamoTable string `yaml:"dynamo_table"`
}

// IndexConfig tunes the proximity index.
type IndexConfig struct {
	M              int     `yaml:"m"`
	EfConstruction int     `yaml:"ef_construction"`
	EfSearch       int     `yaml:"ef_search"`
	LevelMult      float64 `yaml:"level_mult"`
}

// StoreConfig configures the vector store backend.
type StoreConfig struct {
	// BadgerPath is the Badger data directory. Empty selects the
	// in-memory store.
	BadgerPath string `yaml:"badger_path"`

	// InMemory runs Badger without a disk footprint (tests).
	InMemory bool `yaml:"in_memory"`
}

// SnapshotConfig configures index snapshot storage.
type SnapshotConfig struct {
	// Path is the local snapshot directory. Empty disables snapshots.
	Path string `yaml:"path"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Dims:      384,
		Overfetch: 5,
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration(10 * time.Second),
		},
		Ranking: RankingConfig{
			BaseURL: "http://localhost:8000",
			Timeout: Duration(2 * time.Second),
		},
		Cache: CacheConfig{
			LocalBudgetBytes: 64 << 20,
			Compression:      "zstd",
			EmbeddingTTL:     Duration(7 * 24 * time.Hour),
		},
		Index: IndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
	}
}

// Load reads the configuration file, falling back to defaults when path is
// empty or the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays MATCHENGINE_ environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MATCHENGINE_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dims = n
		}
	}
	if v := os.Getenv("MATCHENGINE_OVERFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Overfetch = n
		}
	}
	if v := os.Getenv("MATCHENGINE_EMBEDDING_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("MATCHENGINE_RANKING_URL"); v != "" {
		c.Ranking.BaseURL = v
	}
	if v := os.Getenv("MATCHENGINE_RANKING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Ranking.Enabled = b
		}
	}
	if v := os.Getenv("MATCHENGINE_CACHE_BUDGET"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Cache.LocalBudgetBytes = n
		}
	}
	if v := os.Getenv("MATCHENGINE_CACHE_DYNAMO_TABLE"); v != "" {
		c.Cache.DynamoTable = v
	}
	if v := os.Getenv("MATCHENGINE_BADGER_PATH"); v != "" {
		c.Store.BadgerPath = v
	}
	if v := os.Getenv("MATCHENGINE_SNAPSHOT_PATH"); v != "" {
		c.Snapshots.Path = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Dims <= 0 {
		return fmt.Errorf("dims must be positive, got %d", c.Dims)
	}
	if c.Overfetch <= 0 {
		return fmt.Errorf("overfetch must be positive, got %d", c.Overfetch)
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required")
	}
	if c.Ranking.Enabled && c.Ranking.BaseURL == "" {
		return fmt.Errorf("ranking.base_url is required when ranking is enabled")
	}
	switch c.Cache.Compression {
	case "", "zstd", "lz4", "none":
	default:
		return fmt.Errorf("unknown cache.compression %q", c.Cache.Compression)
	}
	return nil
}
