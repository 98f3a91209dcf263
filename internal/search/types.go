// Package search implements hybrid retrieval: the orchestrator fans a
// query out across the keyword and vector channels, fuses the ranked
// lists, and degrades through labeled fallback strategies instead of
// returning errors.
package search

import (
	"context"
	"time"

	"github.com/zhailiang23/deep-search-sub000/internal/expand"
)

// Search strategies reported on every result.
const (
	StrategyHybrid          = "hybrid_with_expansion"
	StrategyKeywordFallback = "keyword_fallback"
	StrategyFailed          = "failed"
)

// Document is an indexed banking document.
type Document struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Summary   string     `json:"summary,omitempty"`
	Category  string     `json:"category,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// ScoredDocument is a document with a channel-local engine score.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// BackendOptions scope a channel search.
type BackendOptions struct {
	SpaceID  string
	Channels []string
	From     int
	Size     int
}

// KeywordBackend is the keyword-channel collaborator.
type KeywordBackend interface {
	Search(ctx context.Context, query string, opts BackendOptions) ([]ScoredDocument, error)
}

// VectorBackend is the vector-channel collaborator.
type VectorBackend interface {
	Search(ctx context.Context, query string, opts BackendOptions) ([]ScoredDocument, error)
}

// QueryExpander produces expansion terms for a query.
type QueryExpander interface {
	Expand(ctx context.Context, query string) expand.Result
}

// LogEntry is one recorded search.
type LogEntry struct {
	Query          string
	ResultCount    int
	ResponseTimeMs int64
	Strategy       string
}

// LogStore records searches; entries feed autocomplete rebuilds.
type LogStore interface {
	Record(ctx context.Context, entry LogEntry) error
}

// Request is a hybrid search request.
type Request struct {
	Query    string   `json:"query"`
	SpaceID  string   `json:"space_id,omitempty"`
	Channels []string `json:"channels,omitempty"`

	// From/Size paginate the fused result list.
	From int `json:"from"`
	Size int `json:"size"`

	// KeywordWeight/VectorWeight override the configured channel
	// weights when positive.
	KeywordWeight float64 `json:"keyword_weight,omitempty"`
	VectorWeight  float64 `json:"vector_weight,omitempty"`
}

// Result is a labeled search outcome. Every search produces one, even
// when every channel failed.
type Result struct {
	Query          string           `json:"query"`
	Documents      []Document       `json:"documents"`
	TotalResults   int              `json:"total_results"`
	Page           int              `json:"page"`
	Size           int              `json:"size"`
	ResponseTimeMs int64            `json:"response_time_ms"`
	Strategy       string           `json:"strategy"`
	QueryType      expand.QueryType `json:"query_type,omitempty"`
	ExpandedTerms  []string         `json:"expanded_terms,omitempty"`
}

// Weights are the raw channel weights.
type Weights struct {
	Keyword float64
	Vector  float64
}

// DefaultWeights returns the production defaults.
func DefaultWeights() Weights {
	return Weights{Keyword: 1.0, Vector: 2.0}
}

// Total returns the raw weight sum.
func (w Weights) Total() float64 {
	return w.Keyword + w.Vector
}

// NormalizedKeyword returns the keyword share of the total weight.
func (w Weights) NormalizedKeyword() float64 {
	t := w.Total()
	if t == 0 {
		return 0
	}
	return w.Keyword / t
}

// NormalizedVector returns the vector share of the total weight.
func (w Weights) NormalizedVector() float64 {
	t := w.Total()
	if t == 0 {
		return 0
	}
	return w.Vector / t
}
