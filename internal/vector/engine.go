package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// DocVector is one stored document embedding.
type DocVector struct {
	DocumentID string
	Vector     []float32
}

// Source supplies the stored embedding corpus.
type Source interface {
	// All returns every stored document vector.
	All(ctx context.Context) ([]DocVector, error)
	// ByID returns the vector for one document; ok is false when the
	// document has no embedding.
	ByID(ctx context.Context, documentID string) (vec []float32, ok bool, err error)
}

// Result is a scored document.
type Result struct {
	DocumentID string    `json:"document_id"`
	Similarity float64   `json:"similarity"`
	Algorithm  Algorithm `json:"algorithm"`
}

// Config tunes the engine.
type Config struct {
	// BatchSize bounds each id-restricted scoring batch.
	BatchSize int

	// DefaultThreshold is the similarity cut-off when the caller
	// passes a negative one.
	DefaultThreshold float64

	// Workers bounds the scoring pool. Non-positive means
	// max(2, NumCPU).
	Workers int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		DefaultThreshold: 0.7,
	}
}

// Engine scores document embeddings against query vectors on a bounded
// worker pool. All search methods fail soft: backend errors produce
// empty results, never panics or error returns to the orchestrator.
type Engine struct {
	source Source
	cfg    Config
	pool   *ants.Pool
	lsh    *lshIndex
	logger *slog.Logger
}

// NewEngine creates an engine over source.
func NewEngine(source Source, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		workers = 2
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Engine{
		source: source,
		cfg:    cfg,
		pool:   pool,
		lsh:    newLSHIndex(),
		logger: logger,
	}, nil
}

// Release frees the worker pool. The engine must not be used after.
func (e *Engine) Release() {
	e.pool.Release()
}

// CalculateSimilarities scores the query vector against a restricted
// id set, in batches processed concurrently. Results at or above
// threshold come back sorted by similarity descending. Documents
// without embeddings are skipped.
func (e *Engine) CalculateSimilarities(ctx context.Context, query []float32, documentIDs []string, algo Algorithm, threshold float64) []Result {
	if len(query) == 0 || len(documentIDs) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)

	for start := 0; start < len(documentIDs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(documentIDs) {
			end = len(documentIDs)
		}
		batch := documentIDs[start:end]

		wg.Add(1)
		if err := e.pool.Submit(func() {
			defer wg.Done()
			scored := e.scoreBatch(ctx, query, batch, algo, threshold)
			mu.Lock()
			results = append(results, scored...)
			mu.Unlock()
		}); err != nil {
			// Pool rejected the task; score inline rather than drop
			// the batch.
			scored := e.scoreBatch(ctx, query, batch, algo, threshold)
			mu.Lock()
			results = append(results, scored...)
			mu.Unlock()
			wg.Done()
		}
	}
	wg.Wait()

	sortByScore(results)
	return results
}

// scoreBatch scores one id batch. Lookup failures for individual
// documents are logged and skipped.
func (e *Engine) scoreBatch(ctx context.Context, query []float32, ids []string, algo Algorithm, threshold float64) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		vec, ok, err := e.source.ByID(ctx, id)
		if err != nil {
			e.logger.Warn("vector lookup failed",
				slog.String("document_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		if sim := Similarity(query, vec, algo); sim >= threshold {
			out = append(out, Result{DocumentID: id, Similarity: sim, Algorithm: algo})
		}
	}
	return out
}

// BatchSearch scans the whole corpus in parallel and returns the topK
// documents scoring at or above threshold, sorted descending.
func (e *Engine) BatchSearch(ctx context.Context, query []float32, topK int, algo Algorithm, threshold float64) []Result {
	if len(query) == 0 || topK <= 0 {
		return nil
	}

	docs, err := e.source.All(ctx)
	if err != nil {
		e.logger.Warn("vector corpus scan failed", slog.String("error", err.Error()))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []Result
	)

	for start := 0; start < len(docs); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			scored := make([]Result, 0, len(chunk))
			for _, doc := range chunk {
				if sim := Similarity(query, doc.Vector, algo); sim >= threshold {
					scored = append(scored, Result{DocumentID: doc.DocumentID, Similarity: sim, Algorithm: algo})
				}
			}
			mu.Lock()
			results = append(results, scored...)
			mu.Unlock()
		}
		if err := e.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	sortByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ANNSearch performs approximate nearest-neighbor search: an LSH
// coarse filter picks 3*topK candidates, which are then exactly
// re-scored with cosine similarity at threshold zero.
func (e *Engine) ANNSearch(ctx context.Context, query []float32, topK int) []Result {
	if len(query) == 0 || topK <= 0 {
		return nil
	}

	docs, err := e.source.All(ctx)
	if err != nil {
		e.logger.Warn("ann candidate scan failed", slog.String("error", err.Error()))
		return nil
	}

	candidates := e.lsh.candidates(query, docs, topK*3)
	results := e.CalculateSimilarities(ctx, query, candidates, Cosine, 0.0)
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// ClusterAnalysis groups the most similar documents into contiguous
// rank-order buckets. When fewer candidates than clusters exist, all
// of them land in cluster_0.
func (e *Engine) ClusterAnalysis(ctx context.Context, query []float32, clusterCount int, threshold float64) map[string][]Result {
	if clusterCount <= 0 {
		return map[string][]Result{}
	}

	similar := e.BatchSearch(ctx, query, 1000, Cosine, threshold)

	clusters := make(map[string][]Result)
	if len(similar) < clusterCount {
		clusters["cluster_0"] = similar
		return clusters
	}

	perCluster := len(similar) / clusterCount
	if perCluster < 1 {
		perCluster = 1
	}
	for i := 0; i < clusterCount; i++ {
		start := i * perCluster
		if start >= len(similar) {
			break
		}
		end := start + perCluster
		if end > len(similar) {
			end = len(similar)
		}
		clusters[fmt.Sprintf("cluster_%d", i)] = similar[start:end]
	}
	return clusters
}

// sortByScore orders results by similarity descending, then document
// id for determinism.
func sortByScore(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].DocumentID < results[j].DocumentID
	})
}
