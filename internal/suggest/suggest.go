// Package suggest builds autocomplete suggestions from the prefix
// index, topping up with popular terms when prefix matches run short.
package suggest

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zhailiang23/deep-search-sub000/internal/cache"
	"github.com/zhailiang23/deep-search-sub000/internal/trie"
)

// Suggestion types.
const (
	TypePrefixMatch = "prefix_match"
	TypePopular     = "popular"
)

// popularDownweight keeps topped-up popular terms below genuine
// prefix matches of equal frequency.
const popularDownweight = 0.8

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// Config bounds the service and its caches.
type Config struct {
	Limit     int
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Limit:     10,
		CacheSize: 1000,
		CacheTTL:  5 * time.Minute,
	}
}

// Service serves autocomplete suggestions.
type Service struct {
	index        *trie.Trie
	cfg          Config
	suggestions  *cache.Cache[string, []Suggestion]
	popularTerms *cache.Cache[int, []Suggestion]
	logger       *slog.Logger
}

// NewService creates a suggestion service over the prefix index.
func NewService(index *trie.Trie, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &Service{
		index:        index,
		cfg:          cfg,
		suggestions:  cache.New[string, []Suggestion](cfg.CacheSize, cfg.CacheTTL),
		popularTerms: cache.New[int, []Suggestion](16, cfg.CacheTTL),
		logger:       logger,
	}
}

// Suggest returns up to limit suggestions for prefix: prefix matches
// first, then popular terms to fill the remainder. Blank prefixes get
// no suggestions. Responses are cached per normalized prefix.
func (s *Service) Suggest(prefix string, limit int) []Suggestion {
	normalized := strings.ToLower(strings.TrimSpace(prefix))
	if normalized == "" {
		return nil
	}
	if limit <= 0 {
		limit = s.cfg.Limit
	}

	key := fmt.Sprintf("%s|%d", normalized, limit)
	out, _ := s.suggestions.GetOrCompute(key, func() ([]Suggestion, error) {
		return s.build(normalized, limit), nil
	})
	return out
}

// build assembles one uncached suggestion list.
func (s *Service) build(prefix string, limit int) []Suggestion {
	matches := s.index.MatchPrefix(prefix, limit*2)

	seen := make(map[string]struct{}, len(matches))
	out := make([]Suggestion, 0, limit)
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		seen[m.Term] = struct{}{}
		out = append(out, Suggestion{
			Text:  m.Term,
			Type:  TypePrefixMatch,
			Score: float64(m.Frequency),
		})
	}

	// Top up with popular terms, downweighted so prefix matches of
	// similar frequency stay ahead.
	if len(out) < limit {
		for _, p := range s.Popular(limit) {
			if len(out) == limit {
				break
			}
			if _, ok := seen[p.Text]; ok {
				continue
			}
			seen[p.Text] = struct{}{}
			out = append(out, Suggestion{
				Text:  p.Text,
				Type:  TypePopular,
				Score: p.Score * popularDownweight,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	s.logger.Debug("suggestions built",
		slog.String("prefix", prefix),
		slog.Int("count", len(out)))
	return out
}

// Popular returns the most frequent indexed terms, cached per limit.
func (s *Service) Popular(limit int) []Suggestion {
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	out, _ := s.popularTerms.GetOrCompute(limit, func() ([]Suggestion, error) {
		top := s.index.TopTerms(limit)
		suggestions := make([]Suggestion, len(top))
		for i, m := range top {
			suggestions[i] = Suggestion{
				Text:  m.Term,
				Type:  TypePopular,
				Score: float64(m.Frequency),
			}
		}
		return suggestions, nil
	})
	return out
}

// InvalidateCaches flushes both caches, typically after a trie rebuild.
func (s *Service) InvalidateCaches() {
	s.suggestions.InvalidateAll()
	s.popularTerms.InvalidateAll()
}

// CacheStats exposes the response-cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.suggestions.Stats()
}
