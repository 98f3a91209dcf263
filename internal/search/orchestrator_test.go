package search

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhailiang23/deep-search-sub000/internal/expand"
)

// mockBackend records queries and replays canned results per query.
type mockBackend struct {
	mu      sync.Mutex
	results map[string][]ScoredDocument
	errs    map[string]error
	failAll error
	queries []string
}

func (m *mockBackend) Search(_ context.Context, query string, _ BackendOptions) ([]ScoredDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.failAll != nil {
		return nil, m.failAll
	}
	if err := m.errs[query]; err != nil {
		return nil, err
	}
	return m.results[query], nil
}

func (m *mockBackend) queryLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// stubExpander returns a fixed expansion.
type stubExpander struct {
	result expand.Result
}

func (s *stubExpander) Expand(_ context.Context, query string) expand.Result {
	r := s.result
	r.Original = query
	return r
}

// memLog collects recorded search-log entries.
type memLog struct {
	mu      sync.Mutex
	entries []LogEntry
	err     error
}

func (m *memLog) Record(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func sdoc(id string, score float64) ScoredDocument {
	return ScoredDocument{Document: Document{ID: id, Title: "标题" + id}, Score: score}
}

func newTestOrchestrator(t *testing.T, kw KeywordBackend, vec VectorBackend, exp QueryExpander, log LogStore) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(kw, vec, exp, NewRanker(nil), log, DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(o.Release)
	return o
}

func TestNewOrchestrator_NilDependencies(t *testing.T) {
	kw := &mockBackend{}
	vec := &mockBackend{}
	exp := &stubExpander{}
	r := NewRanker(nil)

	_, err := NewOrchestrator(nil, vec, exp, r, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewOrchestrator(kw, nil, exp, r, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewOrchestrator(kw, vec, nil, r, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewOrchestrator(kw, vec, exp, nil, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestSearch_BlankQueryFailsWithoutBackendCalls(t *testing.T) {
	kw := &mockBackend{}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, &stubExpander{}, nil)

	res := o.Search(context.Background(), Request{Query: "   "})

	assert.Equal(t, StrategyFailed, res.Strategy)
	assert.Empty(t, res.Documents)
	assert.Empty(t, kw.queryLog())
	assert.Empty(t, vec.queryLog())
}

func TestSearch_ProductQueryWithExpansion(t *testing.T) {
	// Real expander: 房贷利率 classifies as a product query and
	// expands through the abbreviation table.
	expander := expand.NewExpander(nil)

	kw := &mockBackend{results: map[string][]ScoredDocument{
		"房贷利率":   {sdoc("doc1", 2.0)},
		"住房贷款利率": {sdoc("doc2", 1.5)},
	}}
	vec := &mockBackend{results: map[string][]ScoredDocument{}}
	logStore := &memLog{}
	o := newTestOrchestrator(t, kw, vec, expander, logStore)

	res := o.Search(context.Background(), Request{Query: "房贷利率", Size: 10})

	assert.Equal(t, StrategyHybrid, res.Strategy)
	assert.Equal(t, expand.QueryTypeProduct, res.QueryType)
	assert.Contains(t, res.ExpandedTerms, "住房贷款利率")
	assert.Contains(t, res.ExpandedTerms, "按揭贷款利率")

	// One keyword call per term: original plus every expansion term.
	kwQueries := kw.queryLog()
	assert.Contains(t, kwQueries, "房贷利率")
	assert.Contains(t, kwQueries, "住房贷款利率")
	assert.Len(t, kwQueries, 1+len(res.ExpandedTerms))

	// One combined vector call: original plus the top two expansions.
	vecQueries := vec.queryLog()
	require.Len(t, vecQueries, 1)
	expected := "房贷利率 " + res.ExpandedTerms[0] + " " + res.ExpandedTerms[1]
	assert.Equal(t, expected, vecQueries[0])

	require.Len(t, logStore.entries, 1)
	assert.Equal(t, "房贷利率", logStore.entries[0].Query)
	assert.Equal(t, StrategyHybrid, logStore.entries[0].Strategy)
}

func TestSearch_ExpansionTermResultsDiscounted(t *testing.T) {
	exp := &stubExpander{result: expand.Result{Terms: []string{"扩展词"}}}

	// Same engine score for both docs; the expansion-term result gets
	// the 0.8 discount so the original-term doc ranks first in the
	// keyword channel.
	kw := &mockBackend{results: map[string][]ScoredDocument{
		"原始查询": {sdoc("origDoc", 1.0)},
		"扩展词":  {sdoc("expDoc", 1.0)},
	}}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "原始查询", Size: 10})

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "origDoc", res.Documents[0].ID)
	assert.Equal(t, "expDoc", res.Documents[1].ID)
}

func TestSearch_KeywordDedupKeepsMaxScore(t *testing.T) {
	exp := &stubExpander{result: expand.Result{Terms: []string{"扩展词"}}}

	// shared appears for both terms. The original-term occurrence
	// keeps score 1.0; had the discounted 2.0*0.8=1.6 won instead,
	// lower would have ranked above higher.
	kw := &mockBackend{results: map[string][]ScoredDocument{
		"原始查询": {sdoc("shared", 1.0), sdoc("other", 0.9)},
		"扩展词":  {sdoc("shared", 2.0)},
	}}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "原始查询", Size: 10})

	require.Len(t, res.Documents, 2)
	assert.Equal(t, "shared", res.Documents[0].ID, "max score 1.6 wins over 1.0 and 0.9")
}

func TestSearch_OneChannelFailureStillHybrid(t *testing.T) {
	exp := &stubExpander{}
	kw := &mockBackend{failAll: fmt.Errorf("index unavailable")}
	vec := &mockBackend{results: map[string][]ScoredDocument{
		"查询": {sdoc("vecDoc", 0.9)},
	}}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "查询", Size: 10})

	assert.Equal(t, StrategyHybrid, res.Strategy)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "vecDoc", res.Documents[0].ID)
}

func TestSearch_BothChannelsFailFallsBackToKeyword(t *testing.T) {
	exp := &stubExpander{}
	failing := fmt.Errorf("backend down")

	// The scatter calls fail; the later plain fallback call succeeds.
	kw := &failThenRecoverBackend{failures: 1, docs: []ScoredDocument{sdoc("fb", 1.0)}}
	vec := &mockBackend{failAll: failing}
	logStore := &memLog{}
	o := newTestOrchestrator(t, kw, vec, exp, logStore)

	res := o.Search(context.Background(), Request{Query: "查询", Size: 10})

	assert.Equal(t, StrategyKeywordFallback, res.Strategy)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "fb", res.Documents[0].ID)
	require.Len(t, logStore.entries, 1)
	assert.Equal(t, StrategyKeywordFallback, logStore.entries[0].Strategy)
}

func TestSearch_TotalFailureLabeledFailed(t *testing.T) {
	exp := &stubExpander{}
	kw := &mockBackend{failAll: fmt.Errorf("keyword down")}
	vec := &mockBackend{failAll: fmt.Errorf("vector down")}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "查询", Size: 10})

	assert.Equal(t, StrategyFailed, res.Strategy)
	assert.NotNil(t, res.Documents)
	assert.Empty(t, res.Documents)
	assert.Equal(t, 0, res.TotalResults)
}

func TestSearch_Pagination(t *testing.T) {
	exp := &stubExpander{}
	var docs []ScoredDocument
	for i := 0; i < 7; i++ {
		docs = append(docs, ScoredDocument{
			Document: Document{ID: fmt.Sprintf("doc%d", i), Title: fmt.Sprintf("第%d篇", i)},
			Score:    float64(10 - i),
		})
	}
	kw := &mockBackend{results: map[string][]ScoredDocument{"查询": docs}}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "查询", From: 2, Size: 3})

	assert.Equal(t, 7, res.TotalResults)
	assert.Len(t, res.Documents, 3)
	assert.Equal(t, 0, res.Page, "page is from/size")

	beyond := o.Search(context.Background(), Request{Query: "查询", From: 100, Size: 3})
	assert.Empty(t, beyond.Documents)
	assert.Equal(t, 7, beyond.TotalResults)
}

func TestSearch_SizeDefaultsAndCap(t *testing.T) {
	exp := &stubExpander{}
	kw := &mockBackend{}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, exp, nil)

	res := o.Search(context.Background(), Request{Query: "查询"})
	assert.Equal(t, 10, res.Size)

	res = o.Search(context.Background(), Request{Query: "查询", Size: 5000})
	assert.Equal(t, 100, res.Size)
}

func TestSearch_LogFailureSwallowed(t *testing.T) {
	exp := &stubExpander{}
	kw := &mockBackend{results: map[string][]ScoredDocument{"查询": {sdoc("d", 1)}}}
	vec := &mockBackend{}
	o := newTestOrchestrator(t, kw, vec, exp, &memLog{err: fmt.Errorf("log table locked")})

	res := o.Search(context.Background(), Request{Query: "查询", Size: 10})
	assert.Equal(t, StrategyHybrid, res.Strategy)
}

func TestAdaptiveWeights(t *testing.T) {
	base := Weights{Keyword: 1.0, Vector: 2.0}

	w := adaptiveWeights("贷款产品介绍", base)
	assert.InDelta(t, 1.2, w.Keyword, 1e-9)
	assert.InDelta(t, 2.0, w.Vector, 1e-9)

	w = adaptiveWeights("为什么要进行资产配置规划", base)
	assert.InDelta(t, 1.0, w.Keyword, 1e-9)
	assert.InDelta(t, 2.4, w.Vector, 1e-9)

	// Digits disqualify the conceptual boost.
	w = adaptiveWeights("为什么2024年要进行资产配置", base)
	assert.InDelta(t, 2.0, w.Vector, 1e-9)

	w = adaptiveWeights("营业时间", base)
	assert.Equal(t, base, w)
}

func TestOverFetchSize(t *testing.T) {
	assert.Equal(t, 100, overFetchSize(10))
	assert.Equal(t, 150, overFetchSize(50))
}

// failThenRecoverBackend fails the first batch of concurrent calls and
// then serves docs, emulating a backend that recovers for the fallback
// attempt.
type failThenRecoverBackend struct {
	mu       sync.Mutex
	failures int
	calls    int
	docs     []ScoredDocument
}

func (f *failThenRecoverBackend) Search(_ context.Context, _ string, _ BackendOptions) ([]ScoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("transient failure %d", f.calls)
	}
	return f.docs, nil
}
