package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zhailiang23/deep-search-sub000/internal/config"
	"github.com/zhailiang23/deep-search-sub000/internal/expand"
	"github.com/zhailiang23/deep-search-sub000/internal/logging"
	"github.com/zhailiang23/deep-search-sub000/internal/search"
	"github.com/zhailiang23/deep-search-sub000/internal/store"
	"github.com/zhailiang23/deep-search-sub000/internal/suggest"
	"github.com/zhailiang23/deep-search-sub000/internal/synonym"
	"github.com/zhailiang23/deep-search-sub000/internal/trie"
)

// app wires the configured components for one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *store.DB
	keyword    *store.KeywordIndex
	vectors    *store.VectorIndex
	synonyms   *synonym.Service
	expander   *expand.Expander
	searchLog  *store.SearchLogStore
	searcher   *search.Orchestrator
	prefixTrie *trie.Trie
	suggester  *suggest.Service

	cleanups []func()
}

// newApp loads configuration and builds the full component graph.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
		cfg.Logging.WriteToStderr = true
	}
	if cfg.Logging.FilePath == "" && cfg.Storage.DataDir != "" {
		cfg.Logging.FilePath = filepath.Join(cfg.Storage.DataDir, "logs", "deepsearch.log")
	}

	logger, logCleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.cleanups = append(a.cleanups, logCleanup)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" && cfg.Storage.DataDir != "" {
		dbPath = filepath.Join(cfg.Storage.DataDir, "deepsearch.db")
	}
	db, err := store.OpenDB(dbPath, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.cleanups = append(a.cleanups, func() { db.Close() })

	indexPath := cfg.Storage.IndexPath
	if indexPath == "" && cfg.Storage.DataDir != "" {
		indexPath = filepath.Join(cfg.Storage.DataDir, "keyword.bleve")
	}
	keywordIdx, err := store.NewKeywordIndex(indexPath, a.logger)
	if err != nil {
		return err
	}
	a.keyword = keywordIdx
	a.cleanups = append(a.cleanups, func() { keywordIdx.Close() })

	embedder, err := store.NewCachedEmbedder(
		store.NewHashingEmbedder(cfg.Vector.Dimensions), 4096)
	if err != nil {
		return err
	}
	vectorIdx, err := a.openVectorIndex(embedder)
	if err != nil {
		return err
	}
	a.vectors = vectorIdx
	a.cleanups = append(a.cleanups, func() { vectorIdx.Close() })

	a.synonyms = synonym.NewService(store.NewSynonymStore(db), synonym.Config{
		Enabled:             cfg.Synonyms.Enabled,
		ConfidenceThreshold: cfg.Synonyms.ConfidenceThreshold,
		MaxPerTerm:          cfg.Synonyms.MaxPerTerm,
		CacheSize:           cfg.Synonyms.CacheSize,
		CacheTTL:            cfg.Synonyms.CacheTTL,
	}, a.logger)

	a.expander = expand.NewExpander(a.synonyms,
		expand.WithEnabled(cfg.Expansion.Enabled),
		expand.WithMaxTerms(cfg.Expansion.MaxTerms),
		expand.WithMinTermLength(cfg.Expansion.MinTermLength),
		expand.WithLogger(a.logger))

	a.searchLog = store.NewSearchLogStore(db)

	searcher, err := search.NewOrchestrator(
		a.keyword, a.vectors, a.expander, search.NewRanker(a.logger), a.searchLog,
		search.Config{
			DefaultWeights: search.Weights{
				Keyword: cfg.Search.KeywordWeight,
				Vector:  cfg.Search.VectorWeight,
			},
			AdaptiveWeights: cfg.Search.AdaptiveWeights,
			DefaultSize:     cfg.Search.DefaultSize,
			MaxSize:         cfg.Search.MaxSize,
		}, a.logger)
	if err != nil {
		return err
	}
	a.searcher = searcher
	a.cleanups = append(a.cleanups, searcher.Release)

	a.prefixTrie = trie.New()
	a.suggester = suggest.NewService(a.prefixTrie, suggest.Config{
		Limit:     cfg.Suggest.Limit,
		CacheSize: cfg.Suggest.CacheSize,
		CacheTTL:  cfg.Suggest.CacheTTL,
	}, a.logger)

	rebuilder := trie.NewRebuilder(a.prefixTrie, a.searchLog,
		cfg.Trie.RebuildInterval, cfg.Trie.RebuildWindow, a.logger)
	rebuilder.AfterRebuild(a.suggester.InvalidateCaches)
	if err := rebuilder.Rebuild(ctx); err != nil {
		a.logger.Warn("initial suggestion index build failed", slog.String("error", err.Error()))
	}

	return nil
}

// openVectorIndex restores the persisted snapshot when one exists.
func (a *app) openVectorIndex(embedder store.Embedder) (*store.VectorIndex, error) {
	path := a.vectorSnapshotPath()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			idx, err := store.LoadVectorIndex(path, embedder, a.logger)
			if err == nil {
				return idx, nil
			}
			a.logger.Warn("vector snapshot unusable, starting empty",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return store.NewVectorIndex(embedder, store.VectorIndexConfig{
		Dimensions: a.cfg.Vector.Dimensions,
	}, a.logger)
}

func (a *app) vectorSnapshotPath() string {
	if a.cfg.Storage.DataDir == "" {
		return ""
	}
	return filepath.Join(a.cfg.Storage.DataDir, "vectors.gob")
}

// saveVectors persists the vector index when storage is on disk.
func (a *app) saveVectors() error {
	path := a.vectorSnapshotPath()
	if path == "" {
		return nil
	}
	return a.vectors.Save(path)
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}
