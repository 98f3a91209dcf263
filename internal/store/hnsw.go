package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	searcherrors "github.com/zhailiang23/deep-search-sub000/internal/errors"
	"github.com/zhailiang23/deep-search-sub000/internal/search"
	"github.com/zhailiang23/deep-search-sub000/internal/vector"
)

// VectorIndexConfig tunes the HNSW graph.
type VectorIndexConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// VectorIndex is the semantic search channel: an HNSW graph over
// document embeddings produced by an Embedder. It also serves the
// stored embedding corpus to the similarity engine.
type VectorIndex struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	embedder Embedder
	cfg      VectorIndexConfig

	// ID mapping (string <-> uint64). Deletion is lazy: mappings are
	// dropped but nodes stay in the graph, since removing the last
	// graph node is unreliable.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	entries map[string]IndexEntry
	vectors map[string][]float32

	closed bool
	logger *slog.Logger
}

var (
	_ search.VectorBackend = (*VectorIndex)(nil)
	_ vector.Source        = (*VectorIndex)(nil)
)

// vectorSnapshot is the gob-persisted state. The graph is rebuilt from
// the stored vectors on load.
type vectorSnapshot struct {
	Config  VectorIndexConfig
	Entries map[string]IndexEntry
	Vectors map[string][]float32
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(embedder Embedder, cfg VectorIndexConfig, logger *slog.Logger) (*VectorIndex, error) {
	if embedder == nil {
		return nil, searcherrors.New(searcherrors.ErrCodeVectorBackend, "embedder is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}
	if cfg.Dimensions != embedder.Dimensions() {
		return nil, searcherrors.Newf(searcherrors.ErrCodeDimensionMismatch,
			"index dimensions %d do not match embedder dimensions %d", cfg.Dimensions, embedder.Dimensions())
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 20
	}

	return &VectorIndex{
		graph:    newGraph(cfg),
		embedder: embedder,
		cfg:      cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		entries:  make(map[string]IndexEntry),
		vectors:  make(map[string][]float32),
		logger:   logger,
	}, nil
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Index embeds and inserts entries, replacing existing documents with
// the same id.
func (v *VectorIndex) Index(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}

	for _, entry := range entries {
		vec, err := v.embedder.Embed(ctx, embeddingText(entry))
		if err != nil {
			return searcherrors.Wrap(err, searcherrors.ErrCodeVectorBackend,
				fmt.Sprintf("failed to embed document %s", entry.ID))
		}
		if len(vec) != v.cfg.Dimensions {
			return searcherrors.Newf(searcherrors.ErrCodeDimensionMismatch,
				"embedding has %d dimensions, index expects %d", len(vec), v.cfg.Dimensions)
		}

		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		normalizeInPlace(normalized)

		if existingKey, exists := v.idMap[entry.ID]; exists {
			delete(v.keyMap, existingKey)
			delete(v.idMap, entry.ID)
		}
		key := v.nextKey
		v.nextKey++

		v.graph.Add(hnsw.MakeNode(key, normalized))
		v.idMap[entry.ID] = key
		v.keyMap[key] = entry.ID
		v.entries[entry.ID] = entry
		v.vectors[entry.ID] = normalized
	}

	v.logger.Debug("vectors indexed", slog.Int("count", len(entries)))
	return nil
}

// Delete removes documents by id. Graph nodes are orphaned, not
// removed.
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}

	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
			delete(v.entries, id)
			delete(v.vectors, id)
		}
	}
	return nil
}

// Search embeds the query and returns the nearest documents, filtered
// by space and channel when set. Scores map cosine distance to [0, 1].
func (v *VectorIndex) Search(ctx context.Context, query string, opts search.BackendOptions) ([]search.ScoredDocument, error) {
	if strings.TrimSpace(query) == "" {
		return []search.ScoredDocument{}, nil
	}

	queryVec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeVectorBackend, "failed to embed query")
	}
	// An embedder that produces no features for the query degrades to
	// an empty semantic result, not an error.
	if len(queryVec) == 0 {
		return []search.ScoredDocument{}, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}
	if len(queryVec) != v.cfg.Dimensions {
		return nil, searcherrors.Newf(searcherrors.ErrCodeDimensionMismatch,
			"query embedding has %d dimensions, index expects %d", len(queryVec), v.cfg.Dimensions)
	}
	if v.graph.Len() == 0 {
		return []search.ScoredDocument{}, nil
	}

	normalized := make([]float32, len(queryVec))
	copy(normalized, queryVec)
	normalizeInPlace(normalized)

	size := opts.Size
	if size <= 0 {
		size = 10
	}
	// Over-fetch to survive orphaned nodes and post-filters.
	k := size * 3
	if k < 30 {
		k = 30
	}

	nodes := v.graph.Search(normalized, k)

	docs := make([]search.ScoredDocument, 0, size)
	for _, node := range nodes {
		if len(docs) == size {
			break
		}
		id, exists := v.keyMap[node.Key]
		if !exists {
			continue
		}
		entry := v.entries[id]
		if opts.SpaceID != "" && entry.SpaceID != opts.SpaceID {
			continue
		}
		if len(opts.Channels) > 0 && !containsString(opts.Channels, entry.Channel) {
			continue
		}

		distance := v.graph.Distance(normalized, node.Value)
		docs = append(docs, search.ScoredDocument{
			Document: entry.Document,
			Score:    float64(1.0 - distance/2.0),
		})
	}
	return docs, nil
}

// All returns every stored document embedding.
func (v *VectorIndex) All(ctx context.Context) ([]vector.DocVector, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}

	out := make([]vector.DocVector, 0, len(v.vectors))
	for id, vec := range v.vectors {
		out = append(out, vector.DocVector{DocumentID: id, Vector: vec})
	}
	return out, nil
}

// ByID returns the stored embedding for one document.
func (v *VectorIndex) ByID(ctx context.Context, documentID string) ([]float32, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, false, searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}
	vec, ok := v.vectors[documentID]
	return vec, ok, nil
}

// Count returns the number of indexed documents.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save persists the index state atomically (temp file + rename).
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return searcherrors.New(searcherrors.ErrCodeVectorBackend, "vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	snapshot := vectorSnapshot{Config: v.cfg, Entries: v.entries, Vectors: v.vectors}
	if err := gob.NewEncoder(file).Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadVectorIndex restores a saved index, rebuilding the HNSW graph
// from the persisted vectors.
func LoadVectorIndex(path string, embedder Embedder, logger *slog.Logger) (*VectorIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var snapshot vectorSnapshot
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeCorruptIndex, "failed to decode vector snapshot")
	}

	idx, err := NewVectorIndex(embedder, snapshot.Config, logger)
	if err != nil {
		return nil, err
	}
	for id, vec := range snapshot.Vectors {
		key := idx.nextKey
		idx.nextKey++
		idx.graph.Add(hnsw.MakeNode(key, vec))
		idx.idMap[id] = key
		idx.keyMap[key] = id
		idx.vectors[id] = vec
	}
	idx.entries = snapshot.Entries
	return idx, nil
}

// Close releases the index.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// embeddingText is the text embedded for one document.
func embeddingText(entry IndexEntry) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{entry.Title, entry.Summary, entry.Content} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
