// Package config loads and validates codescout configuration.
//
// Configuration is resolved in order of precedence:
//  1. Environment variables (CODESCOUT_*)
//  2. Config file (codescout.yaml)
//  3. Built-in defaults
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete codescout configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	HyDE       HyDEConfig       `yaml:"hyde"`
	Search     SearchConfig     `yaml:"search"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig configures the vector store.
type StoreConfig struct {
	// Path is the SQLite database file. Defaults to <data_dir>/codescout.db.
	Path string `yaml:"path"`

	// InsertBatchSize is the maximum chunks per bulk insert (default: 1000).
	InsertBatchSize int `yaml:"insert_batch_size"`

	// IndexThreshold is the chunk count at which a codebase gets an
	// approximate index. Below it, search is an exact scan (default: 1000).
	IndexThreshold int `yaml:"index_threshold"`

	// Probes is the number of index partitions scanned per query (default: 8).
	Probes int `yaml:"probes"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Path is the bbolt cache file. Defaults to <data_dir>/embeddings.cache.
	Path string `yaml:"path"`

	// MemoryEntries is the in-memory LRU size in front of the durable
	// cache (default: 1000).
	MemoryEntries int `yaml:"memory_entries"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (default: ollama, static fallback).
	Provider string `yaml:"provider"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`

	// Model is the embedding model name.
	Model string `yaml:"model"`

	// BatchSize is texts per provider call (default: 32).
	BatchSize int `yaml:"batch_size"`

	// Timeout bounds a single provider call (default: 60s).
	Timeout time.Duration `yaml:"timeout"`
}

// HyDEConfig configures hypothetical document generation.
// The generation parameters are contractual: they bound latency and output
// size, which dominate end-to-end search time.
type HyDEConfig struct {
	// Model is the generative model used for both HyDE stages.
	Model string `yaml:"model"`

	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host"`

	// StageTimeout bounds each generation stage independently (default: 15s).
	// On timeout the search degrades instead of failing.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	Temperature float64 `yaml:"temperature"` // default 0.3
	MaxTokens   int     `yaml:"max_tokens"`  // default 500
	TopP        float64 `yaml:"top_p"`       // default 0.8
	TopK        int     `yaml:"top_k"`       // default 40

	// InitialTopK is the result count for the grounding search between
	// stages (default: 3).
	InitialTopK int `yaml:"initial_top_k"`

	// Context budgets for the stage-2 prompt, in characters.
	ChunkCharBudget     int `yaml:"chunk_char_budget"`     // default 300
	DocstringCharBudget int `yaml:"docstring_char_budget"` // default 100
	ContextCharBudget   int `yaml:"context_char_budget"`   // default 1500
}

// SearchConfig configures query defaults.
type SearchConfig struct {
	// DefaultTopK is the result count when the caller does not specify one.
	DefaultTopK int `yaml:"default_top_k"`
}

// RerankConfig configures the multi-signal reranker.
type RerankConfig struct {
	Weights RerankWeights `yaml:"weights"`

	// MinScore is the confidence threshold applied to the combined score
	// (default: 0.3).
	MinScore float64 `yaml:"min_score"`

	// MaxPerFile caps results per source file (default: 2).
	MaxPerFile int `yaml:"max_per_file"`
}

// RerankWeights are the signal weights for rerank scoring. They must sum
// to 1.0.
type RerankWeights struct {
	Vector    float64 `yaml:"vector"`
	NameMatch float64 `yaml:"name_match"`
	Docstring float64 `yaml:"docstring"`
	ChunkKind float64 `yaml:"chunk_kind"`
	FilePath  float64 `yaml:"file_path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// WeightSumEpsilon is the tolerance for the rerank weight sum check.
const WeightSumEpsilon = 1e-6

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Store: StoreConfig{
			InsertBatchSize: 1000,
			IndexThreshold:  1000,
			Probes:          8,
		},
		Cache: CacheConfig{
			MemoryEntries: 1000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			OllamaHost: "http://localhost:11434",
			Model:      "nomic-embed-text",
			BatchSize:  32,
			Timeout:    60 * time.Second,
		},
		HyDE: HyDEConfig{
			Model:               "qwen2.5-coder:1.5b",
			OllamaHost:          "http://localhost:11434",
			StageTimeout:        15 * time.Second,
			Temperature:         0.3,
			MaxTokens:           500,
			TopP:                0.8,
			TopK:                40,
			InitialTopK:         3,
			ChunkCharBudget:     300,
			DocstringCharBudget: 100,
			ContextCharBudget:   1500,
		},
		Search: SearchConfig{
			DefaultTopK: 5,
		},
		Rerank: RerankConfig{
			Weights: DefaultRerankWeights(),

			MinScore:   0.3,
			MaxPerFile: 2,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultRerankWeights returns the default signal weights.
func DefaultRerankWeights() RerankWeights {
	return RerankWeights{
		Vector:    0.40,
		NameMatch: 0.25,
		Docstring: 0.15,
		ChunkKind: 0.10,
		FilePath:  0.10,
	}
}

// Sum returns the total of all weights.
func (w RerankWeights) Sum() float64 {
	return w.Vector + w.NameMatch + w.Docstring + w.ChunkKind + w.FilePath
}

// Validate checks that weights sum to 1.0 within tolerance.
func (w RerankWeights) Validate() error {
	if math.Abs(w.Sum()-1.0) > WeightSumEpsilon {
		return fmt.Errorf("rerank weights must sum to 1.0, got %.4f", w.Sum())
	}
	return nil
}

// Load reads configuration from path, merging over defaults and applying
// environment overrides. A missing file is not an error; defaults apply.
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

	applyEnvOverrides(cfg)
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDerivedDefaults fills paths derived from DataDir.
func (c *Config) applyDerivedDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "codescout.db")
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.DataDir, "embeddings.cache")
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Store.InsertBatchSize <= 0 {
		return fmt.Errorf("store.insert_batch_size must be positive, got %d", c.Store.InsertBatchSize)
	}
	if c.Store.IndexThreshold <= 0 {
		return fmt.Errorf("store.index_threshold must be positive, got %d", c.Store.IndexThreshold)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.HyDE.StageTimeout <= 0 {
		return fmt.Errorf("hyde.stage_timeout must be positive, got %s", c.HyDE.StageTimeout)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	if err := c.Rerank.Weights.Validate(); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides applies CODESCOUT_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODESCOUT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CODESCOUT_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
		cfg.HyDE.OllamaHost = v
	}
	if v := os.Getenv("CODESCOUT_EMBED_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("CODESCOUT_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("CODESCOUT_HYDE_MODEL"); v != "" {
		cfg.HyDE.Model = v
	}
	if v := os.Getenv("CODESCOUT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CODESCOUT_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Search.DefaultTopK = n
		}
	}
}

// defaultDataDir returns ~/.codescout, falling back to the working directory.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codescout"
	}
	return filepath.Join(home, ".codescout")
}
