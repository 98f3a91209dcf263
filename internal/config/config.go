// Package config loads and validates DeepSearch configuration.
//
// Precedence: built-in defaults < YAML config file < DEEPSEARCH_* env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhailiang23/deep-search-sub000/internal/logging"
)

// Config is the complete DeepSearch configuration.
type Config struct {
	Logging   logging.Config  `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Synonyms  SynonymConfig   `yaml:"synonyms"`
	Trie      TrieConfig      `yaml:"trie"`
	Vector    VectorConfig    `yaml:"vector"`
	Suggest   SuggestConfig   `yaml:"suggest"`
}

// StorageConfig locates the on-disk stores.
type StorageConfig struct {
	// DataDir is the root directory for indexes and databases.
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the SQLite database holding synonyms and the
	// search log. Defaults to <data_dir>/deepsearch.db.
	DatabasePath string `yaml:"database_path"`

	// IndexPath is the bleve keyword index directory. Defaults to
	// <data_dir>/keyword.bleve. Empty DataDir keeps both in memory.
	IndexPath string `yaml:"index_path"`
}

// SearchConfig configures hybrid search.
// Weights are raw channel weights; they are normalized before blending.
type SearchConfig struct {
	// KeywordWeight is the raw weight for the keyword channel.
	KeywordWeight float64 `yaml:"keyword_weight"`

	// VectorWeight is the raw weight for the vector channel.
	VectorWeight float64 `yaml:"vector_weight"`

	// AdaptiveWeights boosts a channel by 1.2x based on query shape.
	AdaptiveWeights bool `yaml:"adaptive_weights"`

	// DefaultSize is the page size when the caller passes none.
	DefaultSize int `yaml:"default_size"`

	// MaxSize caps the requested page size.
	MaxSize int `yaml:"max_size"`
}

// ExpansionConfig configures query expansion.
type ExpansionConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxTerms caps the number of expansion terms per query.
	MaxTerms int `yaml:"max_terms"`

	// MinTermLength drops expansion terms shorter than this (in runes).
	MinTermLength int `yaml:"min_term_length"`
}

// SynonymConfig configures synonym lookups.
type SynonymConfig struct {
	Enabled bool `yaml:"enabled"`

	// ConfidenceThreshold is the minimum confidence for a synonym to
	// be used (inclusive).
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxPerTerm caps synonyms returned per lookup key.
	MaxPerTerm int `yaml:"max_per_term"`

	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// TrieConfig configures the autocomplete prefix index.
type TrieConfig struct {
	// RebuildInterval is how often the trie is rebuilt from the
	// search log.
	RebuildInterval time.Duration `yaml:"rebuild_interval"`

	// RebuildWindow is the number of recent search-log rows fed into
	// each rebuild.
	RebuildWindow int `yaml:"rebuild_window"`
}

// VectorConfig configures the vector similarity engine.
type VectorConfig struct {
	// Dimensions is the embedding dimensionality.
	Dimensions int `yaml:"dimensions"`

	// BatchSize is the id-restricted scoring batch size.
	BatchSize int `yaml:"batch_size"`

	// Threshold is the default similarity cut-off.
	Threshold float64 `yaml:"threshold"`

	// Workers bounds the scoring pool. 0 means max(2, NumCPU).
	Workers int `yaml:"workers"`
}

// SuggestConfig configures autocomplete suggestions.
type SuggestConfig struct {
	// Limit is the default number of suggestions returned.
	Limit int `yaml:"limit"`

	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in defaults, matching the documented
// testable constants.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Search: SearchConfig{
			KeywordWeight:   1.0,
			VectorWeight:    2.0,
			AdaptiveWeights: true,
			DefaultSize:     10,
			MaxSize:         100,
		},
		Expansion: ExpansionConfig{
			Enabled:       true,
			MaxTerms:      10,
			MinTermLength: 2,
		},
		Synonyms: SynonymConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.7,
			MaxPerTerm:          5,
			CacheSize:           10000,
			CacheTTL:            time.Hour,
		},
		Trie: TrieConfig{
			RebuildInterval: time.Hour,
			RebuildWindow:   10000,
		},
		Vector: VectorConfig{
			Dimensions: 768,
			BatchSize:  100,
			Threshold:  0.7,
		},
		Suggest: SuggestConfig{
			Limit:     10,
			CacheSize: 1000,
			CacheTTL:  5 * time.Minute,
		},
	}
}

// Load reads the config file at path (optional), applies env overrides,
// and validates the result. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies DEEPSEARCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEEPSEARCH_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("DEEPSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DEEPSEARCH_KEYWORD_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.KeywordWeight = w
		}
	}
	if v := os.Getenv("DEEPSEARCH_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("DEEPSEARCH_SYNONYM_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			c.Synonyms.ConfidenceThreshold = t
		}
	}
	if v := os.Getenv("DEEPSEARCH_EXPANSION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Expansion.Enabled = b
		}
	}
	if v := os.Getenv("DEEPSEARCH_TRIE_REBUILD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Trie.RebuildInterval = d
		}
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("search weights must be non-negative (keyword=%v, vector=%v)",
			c.Search.KeywordWeight, c.Search.VectorWeight)
	}
	if c.Search.KeywordWeight == 0 && c.Search.VectorWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}
	if c.Search.DefaultSize <= 0 || c.Search.MaxSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.Synonyms.ConfidenceThreshold < 0 || c.Synonyms.ConfidenceThreshold > 1 {
		return fmt.Errorf("synonym confidence threshold must be in [0,1], got %v",
			c.Synonyms.ConfidenceThreshold)
	}
	if c.Expansion.MaxTerms < 0 {
		return fmt.Errorf("expansion max_terms must be non-negative")
	}
	if c.Vector.Threshold < -1 || c.Vector.Threshold > 1 {
		return fmt.Errorf("vector threshold must be in [-1,1], got %v", c.Vector.Threshold)
	}
	if c.Vector.BatchSize <= 0 {
		return fmt.Errorf("vector batch_size must be positive")
	}
	if c.Trie.RebuildInterval <= 0 {
		return fmt.Errorf("trie rebuild_interval must be positive")
	}
	if c.Trie.RebuildWindow <= 0 {
		return fmt.Errorf("trie rebuild_window must be positive")
	}
	return nil
}
