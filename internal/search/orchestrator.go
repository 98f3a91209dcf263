package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zhailiang23/deep-search-sub000/internal/expand"
)

// ErrNilDependency is returned when a required collaborator is missing.
var ErrNilDependency = errors.New("nil dependency")

// expansionScoreDiscount is applied to keyword results retrieved for
// expansion terms, keeping original-term matches ahead.
const expansionScoreDiscount = 0.8

// vectorExpansionTerms is how many top expansion terms join the
// original query in the combined vector search.
const vectorExpansionTerms = 2

// specificTerms raise the keyword weight when adaptive weighting is on.
var specificTerms = []string{"产品", "服务", "账户", "卡", "贷款", "理财"}

// Config tunes the orchestrator.
type Config struct {
	// DefaultWeights are the channel weights when the request passes
	// none.
	DefaultWeights Weights

	// AdaptiveWeights boosts a channel by 1.2x based on query shape.
	AdaptiveWeights bool

	// DefaultSize is the page size when the request passes none.
	DefaultSize int

	// MaxSize caps the requested page size.
	MaxSize int

	// ScatterWorkers bounds the keyword scatter pool.
	ScatterWorkers int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWeights: DefaultWeights(),
		DefaultSize:    10,
		MaxSize:        100,
		ScatterWorkers: 4,
	}
}

// Orchestrator coordinates hybrid search: query expansion, the
// two-channel parallel dispatch, fusion, deduplication, pagination,
// and the cascading fallback strategies. No failure escapes as an
// error; every outcome is a labeled Result.
type Orchestrator struct {
	keyword   KeywordBackend
	vector    VectorBackend
	expander  QueryExpander
	ranker    *Ranker
	searchLog LogStore // optional
	cfg       Config
	pool      *ants.Pool
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator. searchLog may be nil to
// disable search-log recording.
func NewOrchestrator(keyword KeywordBackend, vector VectorBackend, expander QueryExpander, ranker *Ranker, searchLog LogStore, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if keyword == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("keyword backend is required"))
	}
	if vector == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("vector backend is required"))
	}
	if expander == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("query expander is required"))
	}
	if ranker == nil {
		return nil, errors.Join(ErrNilDependency, errors.New("ranker is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = 10
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.DefaultWeights.Total() <= 0 {
		cfg.DefaultWeights = DefaultWeights()
	}
	if cfg.ScatterWorkers <= 0 {
		cfg.ScatterWorkers = 4
	}

	pool, err := ants.NewPool(cfg.ScatterWorkers)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		keyword:   keyword,
		vector:    vector,
		expander:  expander,
		ranker:    ranker,
		searchLog: searchLog,
		cfg:       cfg,
		pool:      pool,
		logger:    logger,
	}, nil
}

// Release frees the scatter pool. The orchestrator must not be used
// after.
func (o *Orchestrator) Release() {
	o.pool.Release()
}

// Search runs the full hybrid pipeline and always returns a labeled
// result. Strategies: "hybrid_with_expansion" when at least one
// channel delivered, "keyword_fallback" when the hybrid phase failed
// but a plain keyword search succeeded, "failed" otherwise.
func (o *Orchestrator) Search(ctx context.Context, req Request) Result {
	start := time.Now()
	req = o.applyDefaults(req)

	if strings.TrimSpace(req.Query) == "" {
		o.logger.Warn("rejected blank query")
		return o.finish(ctx, req, Result{Strategy: StrategyFailed}, start)
	}

	expansion := o.expander.Expand(ctx, req.Query)
	weights := o.resolveWeights(req)

	o.logger.Info("hybrid search started",
		slog.String("query", req.Query),
		slog.String("query_type", string(expansion.Type)),
		slog.Int("expansion_terms", len(expansion.Terms)))

	fetchSize := overFetchSize(req.Size)
	opts := BackendOptions{SpaceID: req.SpaceID, Channels: req.Channels, Size: fetchSize}

	var (
		keywordDocs []Document
		vectorDocs  []Document
		kwErr       error
		vecErr      error
	)

	// Both channels run in parallel; each failure is captured
	// separately so one dead channel degrades instead of aborting.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywordDocs, kwErr = o.keywordChannel(gctx, expansion, opts)
		return nil
	})
	g.Go(func() error {
		vectorDocs, vecErr = o.vectorChannel(gctx, expansion, opts)
		return nil
	})
	_ = g.Wait()

	if kwErr != nil && vecErr != nil {
		o.logger.Error("both channels failed",
			slog.String("query", req.Query),
			slog.String("keyword_error", kwErr.Error()),
			slog.String("vector_error", vecErr.Error()))
		return o.finish(ctx, req, o.fallbackSearch(ctx, req), start)
	}
	if kwErr != nil {
		o.logger.Warn("keyword channel failed, continuing with vector only",
			slog.String("error", kwErr.Error()))
	}
	if vecErr != nil {
		o.logger.Warn("vector channel failed, continuing with keyword only",
			slog.String("error", vecErr.Error()))
	}

	merged := o.ranker.MergeAndRank(keywordDocs, vectorDocs, weights)
	merged = o.ranker.Deduplicate(merged)
	paged := paginate(merged, req.From, req.Size)

	return o.finish(ctx, req, Result{
		Documents:     paged,
		TotalResults:  len(merged),
		Strategy:      StrategyHybrid,
		QueryType:     expansion.Type,
		ExpandedTerms: expansion.Terms,
	}, start)
}

// keywordChannel scatters one keyword search per expansion term across
// the worker pool and joins on all of them. Results for non-original
// terms are discounted by 0.8; duplicates keep their highest score.
// The channel fails only when every term search failed.
func (o *Orchestrator) keywordChannel(ctx context.Context, expansion expand.Result, opts BackendOptions) ([]Document, error) {
	terms := expansion.AllTerms()

	type termResult struct {
		term string
		docs []ScoredDocument
		err  error
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []termResult
	)

	for _, term := range terms {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			docs, err := o.keyword.Search(ctx, term, opts)
			mu.Lock()
			results = append(results, termResult{term: term, docs: docs, err: err})
			mu.Unlock()
		}
		if err := o.pool.Submit(task); err != nil {
			// Pool saturated or released; run inline instead of
			// dropping the term.
			task()
		}
	}
	wg.Wait()

	original := terms[0]
	best := make(map[string]ScoredDocument)
	failures := 0
	var lastErr error

	for _, tr := range results {
		if tr.err != nil {
			failures++
			lastErr = tr.err
			o.logger.Warn("keyword term search failed",
				slog.String("term", tr.term),
				slog.String("error", tr.err.Error()))
			continue
		}
		discount := 1.0
		if tr.term != original {
			discount = expansionScoreDiscount
		}
		for _, doc := range tr.docs {
			doc.Score *= discount
			if prev, ok := best[doc.ID]; !ok || doc.Score > prev.Score {
				best[doc.ID] = doc
			}
		}
	}

	if failures == len(results) && failures > 0 {
		return nil, lastErr
	}

	deduped := make([]ScoredDocument, 0, len(best))
	for _, doc := range best {
		deduped = append(deduped, doc)
	}
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		return deduped[i].ID < deduped[j].ID
	})

	return toDocuments(deduped), nil
}

// vectorChannel runs one combined vector search: the original query
// plus the top expansion terms, joined by spaces.
func (o *Orchestrator) vectorChannel(ctx context.Context, expansion expand.Result, opts BackendOptions) ([]Document, error) {
	terms := expansion.AllTerms()
	combined := terms[0]
	if extra := len(terms) - 1; extra > 0 {
		n := vectorExpansionTerms
		if extra < n {
			n = extra
		}
		combined = strings.Join(terms[:n+1], " ")
	}

	docs, err := o.vector.Search(ctx, combined, opts)
	if err != nil {
		return nil, err
	}
	return toDocuments(docs), nil
}

// fallbackSearch retries a plain keyword search for the original query
// when the hybrid phase failed entirely.
func (o *Orchestrator) fallbackSearch(ctx context.Context, req Request) Result {
	o.logger.Warn("falling back to keyword-only search", slog.String("query", req.Query))

	docs, err := o.keyword.Search(ctx, req.Query, BackendOptions{
		SpaceID:  req.SpaceID,
		Channels: req.Channels,
		From:     req.From,
		Size:     req.Size,
	})
	if err != nil {
		o.logger.Error("fallback search failed",
			slog.String("query", req.Query),
			slog.String("error", err.Error()))
		return Result{Strategy: StrategyFailed}
	}

	return Result{
		Documents:    toDocuments(docs),
		TotalResults: len(docs),
		Strategy:     StrategyKeywordFallback,
	}
}

// finish stamps the shared result fields and records the search log
// best-effort.
func (o *Orchestrator) finish(ctx context.Context, req Request, res Result, start time.Time) Result {
	res.Query = req.Query
	res.Size = req.Size
	if req.Size > 0 {
		res.Page = req.From / req.Size
	}
	if res.Documents == nil {
		res.Documents = []Document{}
	}
	res.ResponseTimeMs = time.Since(start).Milliseconds()

	if o.searchLog != nil {
		entry := LogEntry{
			Query:          req.Query,
			ResultCount:    res.TotalResults,
			ResponseTimeMs: res.ResponseTimeMs,
			Strategy:       res.Strategy,
		}
		if err := o.searchLog.Record(ctx, entry); err != nil {
			o.logger.Warn("search log record failed", slog.String("error", err.Error()))
		}
	}

	o.logger.Info("search completed",
		slog.String("query", req.Query),
		slog.String("strategy", res.Strategy),
		slog.Int("results", res.TotalResults),
		slog.Int64("elapsed_ms", res.ResponseTimeMs))
	return res
}

// resolveWeights picks request weights over defaults and applies the
// adaptive adjustments.
func (o *Orchestrator) resolveWeights(req Request) Weights {
	w := o.cfg.DefaultWeights
	if req.KeywordWeight > 0 {
		w.Keyword = req.KeywordWeight
	}
	if req.VectorWeight > 0 {
		w.Vector = req.VectorWeight
	}
	if o.cfg.AdaptiveWeights {
		w = adaptiveWeights(req.Query, w)
	}
	return w
}

// adaptiveWeights boosts the keyword weight by 1.2x for queries naming
// concrete products or services, and the vector weight by 1.2x for
// long, digit-free conceptual queries.
func adaptiveWeights(query string, w Weights) Weights {
	lower := strings.ToLower(query)

	for _, term := range specificTerms {
		if strings.Contains(lower, term) {
			w.Keyword *= 1.2
			break
		}
	}

	if isConceptualQuery(query) {
		w.Vector *= 1.2
	}
	return w
}

func isConceptualQuery(query string) bool {
	if utf8.RuneCountInString(query) <= 10 {
		return false
	}
	for _, r := range query {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return strings.Contains(query, "如何") ||
		strings.Contains(query, "什么") ||
		strings.Contains(query, "为什么")
}

func (o *Orchestrator) applyDefaults(req Request) Request {
	if req.Size <= 0 {
		req.Size = o.cfg.DefaultSize
	}
	if req.Size > o.cfg.MaxSize {
		req.Size = o.cfg.MaxSize
	}
	if req.From < 0 {
		req.From = 0
	}
	return req
}

// overFetchSize is how many results each channel retrieves before
// fusion, so pagination has enough fused material.
func overFetchSize(size int) int {
	if n := size * 3; n > 100 {
		return n
	}
	return 100
}

// paginate slices [from, from+size) out of results.
func paginate(results []Document, from, size int) []Document {
	if from >= len(results) {
		return []Document{}
	}
	end := from + size
	if end > len(results) {
		end = len(results)
	}
	return results[from:end]
}

func toDocuments(scored []ScoredDocument) []Document {
	out := make([]Document, len(scored))
	for i, s := range scored {
		out[i] = s.Document
	}
	return out
}
