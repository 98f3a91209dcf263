package synonym

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore is a hand-rolled Store with overridable behavior.
type mockStore struct {
	records       []Record
	findCalls     int
	findWordCalls int
	usageCalls    [][]int64
	findErr       error
	incErr        error
	lastScale     float64
	scaledCount   int64
}

func (m *mockStore) FindByTerm(_ context.Context, term string) ([]Record, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Record
	for _, r := range m.records {
		if r.Term == term || (r.Bidirectional && r.Synonym == term) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) FindByWord(_ context.Context, word string) ([]Record, error) {
	m.findWordCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Record
	for _, r := range m.records {
		if r.Term == word || r.Synonym == word {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) Insert(_ context.Context, rec Record) (int64, error) {
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *mockStore) InsertBatch(_ context.Context, recs []Record) error {
	for _, r := range recs {
		r.ID = int64(len(m.records) + 1)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *mockStore) UpdateConfidence(_ context.Context, id int64, confidence float64) (Record, error) {
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Confidence = confidence
			return m.records[i], nil
		}
	}
	return Record{}, fmt.Errorf("not found: %d", id)
}

func (m *mockStore) SetEnabled(_ context.Context, id int64, enabled bool) (Record, error) {
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Enabled = enabled
			return m.records[i], nil
		}
	}
	return Record{}, fmt.Errorf("not found: %d", id)
}

func (m *mockStore) ScaleAllConfidence(_ context.Context, factor float64) (int64, error) {
	m.lastScale = factor
	for i := range m.records {
		m.records[i].Confidence *= factor
	}
	m.scaledCount = int64(len(m.records))
	return m.scaledCount, nil
}

func (m *mockStore) IncrementUsage(_ context.Context, ids []int64) error {
	m.usageCalls = append(m.usageCalls, ids)
	return m.incErr
}

func (m *mockStore) ListLowConfidence(_ context.Context, below float64, limit int) ([]Record, error) {
	var out []Record
	for _, r := range m.records {
		if r.Confidence < below && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) ListPopular(_ context.Context, limit int) ([]Record, error) {
	if len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *mockStore) Count(_ context.Context) (int64, error) {
	return int64(len(m.records)), nil
}

func newTestService(store *mockStore) *Service {
	return NewService(store, DefaultConfig(), nil)
}

func TestLookup_FiltersAndRanks(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "房贷", Synonym: "住房贷款", Confidence: 0.9, Enabled: true},
		{ID: 2, Term: "房贷", Synonym: "按揭贷款", Confidence: 0.95, Enabled: true},
		{ID: 3, Term: "房贷", Synonym: "楼贷", Confidence: 0.5, Enabled: true},    // below threshold
		{ID: 4, Term: "房贷", Synonym: "购房贷款", Confidence: 0.8, Enabled: false}, // disabled
	}}
	svc := newTestService(store)

	got := svc.Lookup(context.Background(), "房贷")

	assert.Equal(t, []string{"按揭贷款", "住房贷款"}, got, "highest confidence first")
}

func TestLookup_CapsAtMaxPerTerm(t *testing.T) {
	store := &mockStore{}
	for i := 0; i < 8; i++ {
		store.records = append(store.records, Record{
			ID: int64(i + 1), Term: "理财", Synonym: fmt.Sprintf("理财产品%d", i),
			Confidence: 0.7 + float64(i)*0.01, Enabled: true,
		})
	}
	svc := newTestService(store)

	got := svc.Lookup(context.Background(), "理财")
	assert.Len(t, got, 5)
}

func TestLookup_BidirectionalMapsBack(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "转账", Synonym: "汇款", Confidence: 0.9, Enabled: true, Bidirectional: true},
	}}
	svc := newTestService(store)

	assert.Equal(t, []string{"汇款"}, svc.Lookup(context.Background(), "转账"))
	assert.Equal(t, []string{"转账"}, svc.Lookup(context.Background(), "汇款"))
}

func TestLookup_CachesResults(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "基金", Synonym: "基金产品", Confidence: 0.9, Enabled: true},
	}}
	svc := newTestService(store)

	svc.Lookup(context.Background(), "基金")
	svc.Lookup(context.Background(), " 基金 ") // normalized to the same key
	assert.Equal(t, 1, store.findCalls)
}

func TestLookup_StoreFailureReturnsEmpty(t *testing.T) {
	store := &mockStore{findErr: fmt.Errorf("db locked")}
	svc := newTestService(store)

	assert.Empty(t, svc.Lookup(context.Background(), "房贷"))
	// Failure is not cached; the next call retries the store.
	svc.Lookup(context.Background(), "房贷")
	assert.Equal(t, 2, store.findCalls)
}

func TestLookup_UsageCountingBestEffort(t *testing.T) {
	store := &mockStore{
		records: []Record{{ID: 7, Term: "保险", Synonym: "保险产品", Confidence: 0.9, Enabled: true}},
		incErr:  fmt.Errorf("usage table locked"),
	}
	svc := newTestService(store)

	got := svc.Lookup(context.Background(), "保险")
	assert.Equal(t, []string{"保险产品"}, got, "usage failure must not affect the lookup")
	require.Len(t, store.usageCalls, 1)
	assert.Equal(t, []int64{7}, store.usageCalls[0])
}

func TestLookup_Disabled(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "房贷", Synonym: "住房贷款", Confidence: 0.9, Enabled: true},
	}}
	cfg := DefaultConfig()
	cfg.Enabled = false
	svc := NewService(store, cfg, nil)

	assert.Nil(t, svc.Lookup(context.Background(), "房贷"))
	assert.Equal(t, 0, store.findCalls)
}

func TestBidirectionalLookup_EitherSideUncapped(t *testing.T) {
	store := &mockStore{records: []Record{
		// One-way entry matched on its synonym side still contributes
		// its term to the relation set.
		{ID: 1, Term: "网上银行", Synonym: "网银", Confidence: 0.9, Enabled: true},
	}}
	for i := 0; i < 7; i++ {
		store.records = append(store.records, Record{
			ID: int64(i + 2), Term: "网银", Synonym: fmt.Sprintf("电子银行%d", i),
			Confidence: 0.8, Enabled: true,
		})
	}
	svc := newTestService(store)

	got := svc.BidirectionalLookup(context.Background(), "网银")

	assert.Len(t, got, 8, "no per-term cap on the relation set")
	assert.Contains(t, got, "网上银行")

	// The capped directional lookup misses the one-way reverse side.
	assert.NotContains(t, svc.Lookup(context.Background(), "网银"), "网上银行")
}

func TestBidirectionalLookup_FiltersAndCaches(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "转账", Synonym: "汇款", Confidence: 0.9, Enabled: true},
		{ID: 2, Term: "转账", Synonym: "划转", Confidence: 0.5, Enabled: true},  // below threshold
		{ID: 3, Term: "转账", Synonym: "过户", Confidence: 0.9, Enabled: false}, // disabled
	}}
	svc := newTestService(store)

	assert.Equal(t, []string{"汇款"}, svc.BidirectionalLookup(context.Background(), "转账"))
	svc.BidirectionalLookup(context.Background(), " 转账 ")
	assert.Equal(t, 1, store.findWordCalls)
}

func TestAdd_InvalidatesBidirectionalKeys(t *testing.T) {
	store := &mockStore{}
	svc := newTestService(store)

	// Warm both sides with empty results.
	svc.BidirectionalLookup(context.Background(), "房贷")
	svc.BidirectionalLookup(context.Background(), "按揭")
	require.Equal(t, 2, store.findWordCalls)

	_, err := svc.Add(context.Background(), Record{
		Term: "房贷", Synonym: "按揭", Confidence: 0.9, Enabled: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"按揭"}, svc.BidirectionalLookup(context.Background(), "房贷"))
	assert.Equal(t, []string{"房贷"}, svc.BidirectionalLookup(context.Background(), "按揭"))
	assert.Equal(t, 4, store.findWordCalls, "both sides refetch after the insert")
}

func TestUpdateConfidence_InvalidatesTouchedKeys(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "储蓄", Synonym: "存款", Confidence: 0.9, Enabled: true, Bidirectional: true},
	}}
	svc := newTestService(store)

	// Warm both directions.
	svc.Lookup(context.Background(), "储蓄")
	svc.Lookup(context.Background(), "存款")
	require.Equal(t, 2, store.findCalls)

	require.NoError(t, svc.UpdateConfidence(context.Background(), 1, 0.6))

	// Both keys refetch and the lowered confidence now filters the entry.
	assert.Empty(t, svc.Lookup(context.Background(), "储蓄"))
	assert.Empty(t, svc.Lookup(context.Background(), "存款"))
	assert.Equal(t, 4, store.findCalls)
}

func TestScaleAllConfidence_FlushesCache(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "贷款", Synonym: "借款", Confidence: 0.8, Enabled: true},
	}}
	svc := newTestService(store)

	svc.Lookup(context.Background(), "贷款")
	require.Equal(t, 1, store.findCalls)

	n, err := svc.ScaleAllConfidence(context.Background(), 0.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Cache flushed: the next lookup hits the store and sees 0.4 < threshold.
	assert.Empty(t, svc.Lookup(context.Background(), "贷款"))
	assert.Equal(t, 2, store.findCalls)
}

func TestStats(t *testing.T) {
	store := &mockStore{records: []Record{
		{ID: 1, Term: "a1", Synonym: "b1", Confidence: 0.9, Enabled: true},
		{ID: 2, Term: "a2", Synonym: "b2", Confidence: 0.9, Enabled: true},
	}}
	svc := newTestService(store)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, 0.7, stats.ConfidenceThreshold)
}
