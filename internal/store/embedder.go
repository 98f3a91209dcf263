package store

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	searcherrors "github.com/zhailiang23/deep-search-sub000/internal/errors"
)

// Embedder turns text into a fixed-dimension embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HashingEmbedder is a deterministic feature-hashing embedder: token
// and character-bigram features are hashed into a fixed number of
// buckets and the result is L2-normalized. It needs no external model,
// which keeps the index self-contained; swap in a model-backed
// Embedder for production-quality semantics.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder producing dims-dimensional
// vectors.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 768
	}
	return &HashingEmbedder{dims: dims}
}

// Dimensions returns the embedding width.
func (e *HashingEmbedder) Dimensions() int { return e.dims }

// Embed hashes the text's features into the embedding space.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	for _, feature := range extractFeatures(text) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()
		bucket := int(sum % uint32(e.dims))
		// The next hash bit picks the sign, spreading features across
		// both half-spaces.
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// extractFeatures produces whitespace/punctuation tokens plus
// character bigrams, which carry most of the signal for Chinese text.
func extractFeatures(text string) []string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}

	tokens := strings.FieldsFunc(normalized, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})

	features := make([]string, 0, len(tokens)*3)
	for _, tok := range tokens {
		features = append(features, tok)
		runes := []rune(tok)
		for i := 0; i+1 < len(runes); i++ {
			features = append(features, string(runes[i:i+2]))
		}
	}
	return features
}

// CachedEmbedder memoizes an Embedder behind a bounded LRU cache.
// Repeated queries and re-indexed documents skip the embedding cost.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, searcherrors.New(searcherrors.ErrCodeVectorBackend, "embedder is required", nil)
	}
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Dimensions returns the inner embedder's width.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Embed returns the cached embedding, computing it on a miss.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}
