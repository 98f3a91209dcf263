package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhailiang23/deep-search-sub000/internal/search"
)

const testDims = 64

func newTestVectorIndex(t *testing.T) *VectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(NewHashingEmbedder(testDims), VectorIndexConfig{Dimensions: testDims}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestVectorIndex_IndexAndSearch(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, bankingEntries()))
	assert.Equal(t, 3, idx.Count())

	docs, err := idx.Search(ctx, "住房贷款申请", search.BackendOptions{Size: 3})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Greater(t, docs[0].Score, 0.0)
	assert.LessOrEqual(t, docs[0].Score, 1.0)
}

func TestVectorIndex_EmptyQueryAndEmptyIndex(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()

	docs, err := idx.Search(ctx, "  ", search.BackendOptions{Size: 5})
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = idx.Search(ctx, "贷款", search.BackendOptions{Size: 5})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// blankingEmbedder yields no features for one specific text and
// delegates everything else.
type blankingEmbedder struct {
	inner Embedder
	blank string
}

func (b *blankingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == b.blank {
		return nil, nil
	}
	return b.inner.Embed(ctx, text)
}

func (b *blankingEmbedder) Dimensions() int { return b.inner.Dimensions() }

func TestVectorIndex_EmptyEmbeddingYieldsNoResults(t *testing.T) {
	emb := &blankingEmbedder{inner: NewHashingEmbedder(testDims), blank: "外币现钞预约"}
	idx, err := NewVectorIndex(emb, VectorIndexConfig{Dimensions: testDims}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	docs, err := idx.Search(ctx, "外币现钞预约", search.BackendOptions{Size: 5})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestVectorIndex_SpaceAndChannelFilters(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	docs, err := idx.Search(ctx, "跨行转账", search.BackendOptions{SpaceID: "bank-a", Size: 5})
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, "doc-3", d.ID)
	}

	docs, err = idx.Search(ctx, "信用卡挂失", search.BackendOptions{Channels: []string{"web"}, Size: 5})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "doc-2", docs[0].ID)
}

func TestVectorIndex_DeleteIsLazy(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	require.NoError(t, idx.Delete(ctx, []string{"doc-1"}))
	assert.Equal(t, 2, idx.Count())

	docs, err := idx.Search(ctx, "住房贷款申请", search.BackendOptions{Size: 5})
	require.NoError(t, err)
	for _, d := range docs {
		assert.NotEqual(t, "doc-1", d.ID, "deleted documents never surface")
	}
}

func TestVectorIndex_ReindexReplacesVector(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	entries := bankingEntries()
	entries[0].Title = "外汇牌价查询"
	entries[0].Content = "提供主要币种的实时外汇牌价"
	require.NoError(t, idx.Index(ctx, entries[:1]))

	assert.Equal(t, 3, idx.Count())
	docs, err := idx.Search(ctx, "外汇牌价", search.BackendOptions{Size: 3})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "外汇牌价查询", docs[0].Title)
}

func TestVectorIndex_SourceContract(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	all, err := idx.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, dv := range all {
		assert.Len(t, dv.Vector, testDims)
	}

	vec, ok, err := idx.ByID(ctx, "doc-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, vec, testDims)

	_, ok, err = idx.ByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectorIndex_SaveAndLoad(t *testing.T) {
	idx := newTestVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, bankingEntries()))

	path := filepath.Join(t.TempDir(), "vectors.gob")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadVectorIndex(path, NewHashingEmbedder(testDims), nil)
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, 3, loaded.Count())
	docs, err := loaded.Search(ctx, "住房贷款申请", search.BackendOptions{Size: 3})
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, "doc-1", docs[0].ID)
}

func TestHashingEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashingEmbedder(testDims)
	ctx := context.Background()

	a, err := e.Embed(ctx, "住房贷款利率")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "住房贷款利率")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	// Related texts land closer than unrelated ones.
	related, err := e.Embed(ctx, "住房贷款申请")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "atm cash withdrawal")
	require.NoError(t, err)
	assert.Greater(t, dot(a, related), dot(a, unrelated))
}

func TestCachedEmbedder(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashingEmbedder(testDims)}
	cached, err := NewCachedEmbedder(counting, 10)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "转账限额")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "转账限额")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, testDims, cached.Dimensions())
}

type countingEmbedder struct {
	inner *HashingEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
