// Package synonym provides confidence-filtered, cached synonym lookups
// backed by a persistent store, plus the administration operations that
// maintain the synonym dictionary.
package synonym

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zhailiang23/deep-search-sub000/internal/cache"
)

// Record is a synonym dictionary entry.
type Record struct {
	ID         int64
	Term       string
	Synonym    string
	Category   string
	Confidence float64
	// Bidirectional entries also map Synonym back to Term.
	Bidirectional bool
	Enabled       bool
	UsageCount    int64
	UpdatedAt     time.Time
}

// Store is the persistence contract for the synonym dictionary.
// FindByTerm returns entries whose Term matches, plus bidirectional
// entries whose Synonym matches. FindByWord matches either side of
// every entry, ignoring the direction flag.
type Store interface {
	FindByTerm(ctx context.Context, term string) ([]Record, error)
	FindByWord(ctx context.Context, word string) ([]Record, error)
	Insert(ctx context.Context, rec Record) (int64, error)
	InsertBatch(ctx context.Context, recs []Record) error
	UpdateConfidence(ctx context.Context, id int64, confidence float64) (Record, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) (Record, error)
	ScaleAllConfidence(ctx context.Context, factor float64) (int64, error)
	IncrementUsage(ctx context.Context, ids []int64) error
	ListLowConfidence(ctx context.Context, below float64, limit int) ([]Record, error)
	ListPopular(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
}

// Config bounds lookups and the lookup cache.
type Config struct {
	Enabled             bool
	ConfidenceThreshold float64
	MaxPerTerm          int
	CacheSize           int
	CacheTTL            time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ConfidenceThreshold: 0.7,
		MaxPerTerm:          5,
		CacheSize:           10000,
		CacheTTL:            time.Hour,
	}
}

// Service performs cached synonym lookups and dictionary maintenance.
type Service struct {
	store  Store
	cfg    Config
	cache  *cache.Cache[string, []string]
	logger *slog.Logger
}

// Stats summarizes the dictionary and the lookup cache.
type Stats struct {
	TotalEntries        int64       `json:"total_entries"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	Cache               cache.Stats `json:"cache"`
}

// NewService creates a synonym service over store.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPerTerm <= 0 {
		cfg.MaxPerTerm = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		cache:  cache.New[string, []string](cfg.CacheSize, cfg.CacheTTL),
		logger: logger,
	}
}

// Lookup returns the usable synonyms for term, highest confidence
// first, at most MaxPerTerm. Disabled entries and entries below the
// confidence threshold are excluded. Results are cached per normalized
// term; store failures return an empty slice so callers degrade
// gracefully.
func (s *Service) Lookup(ctx context.Context, term string) []string {
	if !s.cfg.Enabled {
		return nil
	}
	key := normalizeKey(term)
	if key == "" {
		return nil
	}

	out, err := s.cache.GetOrCompute(key, func() ([]string, error) {
		return s.fetch(ctx, key)
	})
	if err != nil {
		s.logger.Warn("synonym lookup failed",
			slog.String("term", key),
			slog.String("error", err.Error()))
		return nil
	}
	return out
}

// fetch loads, filters, and ranks synonyms from the store, and bumps
// usage counters for the entries that made the cut.
func (s *Service) fetch(ctx context.Context, key string) ([]string, error) {
	recs, err := s.store.FindByTerm(ctx, key)
	if err != nil {
		return nil, err
	}

	usable := recs[:0:0]
	for _, r := range recs {
		if r.Enabled && r.Confidence >= s.cfg.ConfidenceThreshold {
			usable = append(usable, r)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Confidence > usable[j].Confidence
	})
	if len(usable) > s.cfg.MaxPerTerm {
		usable = usable[:s.cfg.MaxPerTerm]
	}

	out := make([]string, 0, len(usable))
	ids := make([]int64, 0, len(usable))
	for _, r := range usable {
		// Bidirectional rows matched on the synonym side map back
		// to the term side.
		other := r.Synonym
		if normalizeKey(r.Term) != key {
			other = r.Term
		}
		out = append(out, other)
		ids = append(ids, r.ID)
	}

	// Usage counting is best-effort.
	if len(ids) > 0 {
		if err := s.store.IncrementUsage(ctx, ids); err != nil {
			s.logger.Warn("synonym usage update failed", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// BidirectionalLookup returns every usable counterpart of word across
// entries where it appears on either side, ignoring the direction flag
// and the MaxPerTerm cap. Cached separately from Lookup; store
// failures return an empty slice.
func (s *Service) BidirectionalLookup(ctx context.Context, word string) []string {
	if !s.cfg.Enabled {
		return nil
	}
	key := normalizeKey(word)
	if key == "" {
		return nil
	}

	out, err := s.cache.GetOrCompute(bidiKey(key), func() ([]string, error) {
		return s.fetchBidirectional(ctx, key)
	})
	if err != nil {
		s.logger.Warn("bidirectional synonym lookup failed",
			slog.String("term", key),
			slog.String("error", err.Error()))
		return nil
	}
	return out
}

// fetchBidirectional loads the either-side relation set and keeps the
// counterpart of each usable entry, deduplicated in store order.
func (s *Service) fetchBidirectional(ctx context.Context, key string) ([]string, error) {
	recs, err := s.store.FindByWord(ctx, key)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(recs))
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if !r.Enabled || r.Confidence < s.cfg.ConfidenceThreshold {
			continue
		}
		other := r.Synonym
		if normalizeKey(r.Synonym) == key {
			other = r.Term
		}
		otherKey := normalizeKey(other)
		if otherKey == key {
			continue
		}
		if _, dup := seen[otherKey]; dup {
			continue
		}
		seen[otherKey] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

// Add inserts a new synonym entry and invalidates the affected keys.
func (s *Service) Add(ctx context.Context, rec Record) (int64, error) {
	id, err := s.store.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	s.invalidateFor(rec)
	return id, nil
}

// AddBatch inserts multiple entries, invalidating each affected key.
func (s *Service) AddBatch(ctx context.Context, recs []Record) error {
	if err := s.store.InsertBatch(ctx, recs); err != nil {
		return err
	}
	for _, r := range recs {
		s.invalidateFor(r)
	}
	return nil
}

// UpdateConfidence changes one entry's confidence and invalidates its
// keys.
func (s *Service) UpdateConfidence(ctx context.Context, id int64, confidence float64) error {
	rec, err := s.store.UpdateConfidence(ctx, id, confidence)
	if err != nil {
		return err
	}
	s.invalidateFor(rec)
	return nil
}

// SetEnabled toggles one entry and invalidates its keys.
func (s *Service) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	rec, err := s.store.SetEnabled(ctx, id, enabled)
	if err != nil {
		return err
	}
	s.invalidateFor(rec)
	return nil
}

// ScaleAllConfidence multiplies every entry's confidence by factor.
// The affected keys are unknown, so the whole lookup cache is flushed.
func (s *Service) ScaleAllConfidence(ctx context.Context, factor float64) (int64, error) {
	n, err := s.store.ScaleAllConfidence(ctx, factor)
	if err != nil {
		return 0, err
	}
	s.cache.InvalidateAll()
	return n, nil
}

// LowConfidence lists entries below the given confidence bound.
func (s *Service) LowConfidence(ctx context.Context, below float64, limit int) ([]Record, error) {
	return s.store.ListLowConfidence(ctx, below, limit)
}

// Popular lists the most-used entries.
func (s *Service) Popular(ctx context.Context, limit int) ([]Record, error) {
	return s.store.ListPopular(ctx, limit)
}

// Stats returns dictionary and cache statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalEntries:        total,
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		Cache:               s.cache.Stats(),
	}, nil
}

// invalidateFor drops the cache entries a mutated record could serve.
// Either-side lookups can match any record, so both bidi keys always
// go; the directional synonym-side key only matters for bidirectional
// records.
func (s *Service) invalidateFor(rec Record) {
	term := normalizeKey(rec.Term)
	syn := normalizeKey(rec.Synonym)
	s.cache.Invalidate(term)
	s.cache.Invalidate(bidiKey(term))
	s.cache.Invalidate(bidiKey(syn))
	if rec.Bidirectional {
		s.cache.Invalidate(syn)
	}
}

// bidiKey namespaces either-side lookups away from directional ones in
// the shared cache.
func bidiKey(key string) string {
	return "bidi|" + key
}

// normalizeKey trims, lowercases, and collapses internal whitespace.
func normalizeKey(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}
