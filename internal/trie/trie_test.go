package trie

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPrefix_SortedByFrequency(t *testing.T) {
	tr := New()
	tr.Add("银行卡", 5)
	tr.Add("银行产品", 20)
	tr.Add("银行网点", 10)
	tr.Add("理财产品", 50)

	matches := tr.MatchPrefix("银行", 10)

	require.Len(t, matches, 3)
	assert.Equal(t, "银行产品", matches[0].Term)
	assert.Equal(t, int64(20), matches[0].Frequency)
	assert.Equal(t, "银行网点", matches[1].Term)
	assert.Equal(t, "银行卡", matches[2].Term)
}

func TestMatchPrefix_LimitAndMiss(t *testing.T) {
	tr := New()
	tr.Add("银行卡", 5)
	tr.Add("银行产品", 20)

	assert.Len(t, tr.MatchPrefix("银行", 1), 1)
	assert.Empty(t, tr.MatchPrefix("保险", 10))
	assert.Empty(t, tr.MatchPrefix("银行", 0))
}

func TestMatchPrefix_ExactTermIsAMatch(t *testing.T) {
	tr := New()
	tr.Add("银行", 3)
	tr.Add("银行卡", 1)

	matches := tr.MatchPrefix("银行", 10)
	require.Len(t, matches, 2)
	assert.Equal(t, "银行", matches[0].Term)
}

func TestAdd_IgnoresInvalidInput(t *testing.T) {
	tr := New()
	tr.Add("", 10)
	tr.Add("贷款", 0)
	tr.Add("贷款", -5)

	assert.Equal(t, 0, tr.Len())
}

func TestContainsAndFrequency(t *testing.T) {
	tr := New()
	tr.Add("房贷利率", 7)

	assert.True(t, tr.Contains("房贷利率"))
	assert.False(t, tr.Contains("房贷"), "prefixes of terms are not terms")
	assert.Equal(t, int64(7), tr.Frequency("房贷利率"))
	assert.Equal(t, int64(0), tr.Frequency("房贷"))
}

func TestIncrement(t *testing.T) {
	tr := New()

	tr.Increment("新查询")
	assert.Equal(t, int64(1), tr.Frequency("新查询"), "unknown terms start at 1")

	tr.Increment("新查询")
	tr.Increment("新查询")
	assert.Equal(t, int64(3), tr.Frequency("新查询"))
	assert.True(t, tr.Contains("新查询"))
}

func TestTopTerms(t *testing.T) {
	tr := New()
	tr.AddAll(map[string]int64{
		"转账": 100, "房贷": 80, "理财": 60, "开户": 40,
	})

	top := tr.TopTerms(2)
	require.Len(t, top, 2)
	assert.Equal(t, "转账", top[0].Term)
	assert.Equal(t, "房贷", top[1].Term)

	assert.Len(t, tr.TopTerms(10), 4)
	assert.Empty(t, tr.TopTerms(0))
}

func TestClearAndReplace(t *testing.T) {
	tr := New()
	tr.Add("旧词", 5)

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.MatchPrefix("旧", 10))

	tr.Replace(map[string]int64{"新词": 3, "": 1, "无效": 0})
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, int64(3), tr.Frequency("新词"))
}

func TestStats(t *testing.T) {
	tr := New()
	assert.Equal(t, Stats{}, tr.Stats())

	tr.AddAll(map[string]int64{"a1": 2, "b2": 4, "c3": 6})
	s := tr.Stats()
	assert.Equal(t, 3, s.TermCount)
	assert.Equal(t, int64(12), s.TotalFrequency)
	assert.Equal(t, int64(2), s.MinFrequency)
	assert.Equal(t, int64(6), s.MaxFrequency)
	assert.InDelta(t, 4.0, s.AvgFrequency, 1e-9)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Increment(fmt.Sprintf("词%d_%d", n, j%10))
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.MatchPrefix("词", 5)
				tr.Stats()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 80, tr.Len())
}

func TestNormalizesMixedCaseTerms(t *testing.T) {
	tr := New()
	tr.Add("  ATM取款 ", 5)

	assert.True(t, tr.Contains("atm取款"))
	assert.True(t, tr.Contains("ATM取款"))
	assert.Equal(t, int64(5), tr.Frequency("Atm取款"))

	matches := tr.MatchPrefix("atm", 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "atm取款", matches[0].Term)

	tr.Increment("ATM取款")
	assert.Equal(t, int64(6), tr.Frequency("atm取款"))
	assert.Equal(t, 1, tr.Len())
}

func TestReplace_MergesTermsThatNormalizeAlike(t *testing.T) {
	tr := New()
	tr.Replace(map[string]int64{"POS机签购单": 3, "pos机签购单": 2, " pos机签购单 ": 1})

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, int64(6), tr.Frequency("POS机签购单"))
}

// fixedSource returns a static term window.
type fixedSource struct {
	mu    sync.Mutex
	terms map[string]int64
	err   error
	calls int
	limit int
}

func (f *fixedSource) RecentTerms(_ context.Context, limit int) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	return f.terms, f.err
}

func TestRebuilder_InitialBuildAndSwap(t *testing.T) {
	tr := New()
	tr.Add("陈旧词", 99)

	src := &fixedSource{terms: map[string]int64{"房贷": 10, "转账": 5}}
	rb := NewRebuilder(tr, src, time.Hour, 10000, nil)

	require.NoError(t, rb.Rebuild(context.Background()))

	assert.False(t, tr.Contains("陈旧词"), "rebuild replaces the old index")
	assert.Equal(t, int64(10), tr.Frequency("房贷"))
	assert.Equal(t, 10000, src.limit)
}

func TestRebuilder_FailureKeepsOldIndex(t *testing.T) {
	tr := New()
	tr.Add("保留词", 1)

	src := &fixedSource{err: fmt.Errorf("log store down")}
	rb := NewRebuilder(tr, src, time.Hour, 100, nil)

	require.Error(t, rb.Rebuild(context.Background()))
	assert.True(t, tr.Contains("保留词"))
}

func TestRebuilder_HookFiresOnSuccessOnly(t *testing.T) {
	tr := New()
	src := &fixedSource{terms: map[string]int64{"房贷": 10}}
	rb := NewRebuilder(tr, src, time.Hour, 100, nil)

	fired := 0
	rb.AfterRebuild(func() { fired++ })

	require.NoError(t, rb.Rebuild(context.Background()))
	assert.Equal(t, 1, fired)

	src.mu.Lock()
	src.err = fmt.Errorf("log store down")
	src.mu.Unlock()
	require.Error(t, rb.Rebuild(context.Background()))
	assert.Equal(t, 1, fired, "failed rebuild must not fire the hook")
}

func TestRebuilder_LoopTicksAndStops(t *testing.T) {
	tr := New()
	src := &fixedSource{terms: map[string]int64{"词a": 1}}
	rb := NewRebuilder(tr, src, 10*time.Millisecond, 100, nil)

	rb.Start(context.Background())
	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 3
	}, time.Second, 5*time.Millisecond)
	rb.Stop()

	src.mu.Lock()
	after := src.calls
	src.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, after, src.calls, "no rebuilds after Stop")
}
