// Package cmd provides the CLI commands for codescout.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codescout/codescout/internal/cache"
	"github.com/codescout/codescout/internal/config"
	"github.com/codescout/codescout/internal/embed"
	"github.com/codescout/codescout/internal/hyde"
	"github.com/codescout/codescout/internal/llm"
	"github.com/codescout/codescout/internal/logging"
	"github.com/codescout/codescout/internal/search"
	"github.com/codescout/codescout/internal/store"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd creates the root command for the codescout CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codescout",
		Short: "Semantic code search with HyDE query expansion",
		Long: `codescout indexes source code into semantically searchable chunks and
answers natural-language queries against them, expanding queries into
hypothetical code with a local LLM for better retrieval.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ~/.codescout/codescout.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCodebasesCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         level,
		FilePath:      cfg.Logging.FilePath,
		WriteToStderr: true,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".codescout", "codescout.yaml")
		}
	}
	return config.Load(path)
}

// app bundles the wired components behind the CLI commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	keyword  *store.KeywordIndex
	cache    *cache.Store
	embedder *embed.Generator
	hyde     *hyde.Generator
}

// openApp wires storage, cache, and providers from configuration.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path, store.Options{
		InsertBatchSize: cfg.Store.InsertBatchSize,
		IndexThreshold:  cfg.Store.IndexThreshold,
		Probes:          cfg.Store.Probes,
	})
	if err != nil {
		return nil, err
	}

	kw, err := store.OpenKeywordIndex(filepath.Join(cfg.DataDir, "keyword.bleve"))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c, err := cache.Open(cfg.Cache.Path, cfg.Cache.MemoryEntries)
	if err != nil {
		_ = kw.Close()
		_ = st.Close()
		return nil, err
	}

	provider, err := newEmbedProvider(ctx, cfg)
	if err != nil {
		_ = c.Close()
		_ = kw.Close()
		_ = st.Close()
		return nil, err
	}

	gen, err := embed.NewGenerator(provider, c)
	if err != nil {
		_ = provider.Close()
		_ = c.Close()
		_ = kw.Close()
		_ = st.Close()
		return nil, err
	}

	hydeGen := hyde.NewGenerator(
		llm.NewOllamaClient(cfg.HyDE.OllamaHost, cfg.HyDE.Model),
		llm.Params{
			Temperature: cfg.HyDE.Temperature,
			MaxTokens:   cfg.HyDE.MaxTokens,
			TopP:        cfg.HyDE.TopP,
			TopK:        cfg.HyDE.TopK,
		},
		cfg.HyDE.StageTimeout,
	)

	return &app{
		cfg:      cfg,
		store:    st,
		keyword:  kw,
		cache:    c,
		embedder: gen,
		hyde:     hydeGen,
	}, nil
}

// newEmbedProvider picks the configured provider, falling back to static
// embeddings when Ollama is unreachable so indexing works offline.
func newEmbedProvider(ctx context.Context, cfg *config.Config) (embed.Provider, error) {
	if cfg.Embeddings.Provider == "static" {
		return embed.NewStaticProvider(), nil
	}

	p, err := embed.NewOllamaProvider(ctx, embed.OllamaConfig{
		Host:      cfg.Embeddings.OllamaHost,
		Model:     cfg.Embeddings.Model,
		BatchSize: cfg.Embeddings.BatchSize,
		Timeout:   cfg.Embeddings.Timeout,
	})
	if err != nil {
		slog.Warn("ollama embedding provider unavailable, using static embeddings",
			slog.String("host", cfg.Embeddings.OllamaHost),
			slog.String("error", err.Error()))
		return embed.NewStaticProvider(), nil
	}
	return p, nil
}

func (a *app) searchConfig() search.Config {
	return search.Config{
		DefaultTopK: a.cfg.Search.DefaultTopK,
		InitialTopK: a.cfg.HyDE.InitialTopK,
		Budgets: search.ContextBudgets{
			PerChunk:     a.cfg.HyDE.ChunkCharBudget,
			PerDocstring: a.cfg.HyDE.DocstringCharBudget,
			Total:        a.cfg.HyDE.ContextCharBudget,
		},
		RerankWeights: search.Weights{
			Vector:    a.cfg.Rerank.Weights.Vector,
			NameMatch: a.cfg.Rerank.Weights.NameMatch,
			Docstring: a.cfg.Rerank.Weights.Docstring,
			ChunkKind: a.cfg.Rerank.Weights.ChunkKind,
			FilePath:  a.cfg.Rerank.Weights.FilePath,
		},
		RerankMinScore:   a.cfg.Rerank.MinScore,
		RerankMaxPerFile: a.cfg.Rerank.MaxPerFile,
	}
}

func (a *app) close() {
	_ = a.embedder.Close()
	_ = a.cache.Close()
	_ = a.keyword.Close()
	_ = a.store.Close()
}
