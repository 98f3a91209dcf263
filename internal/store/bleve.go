package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	searcherrors "github.com/zhailiang23/deep-search-sub000/internal/errors"
	"github.com/zhailiang23/deep-search-sub000/internal/search"
)

// bankingAnalyzerName is the custom analyzer for mixed Chinese and
// Latin banking text: unicode segmentation, CJK width folding,
// lowercasing, and CJK bigrams.
const bankingAnalyzerName = "banking_text"

// Field boosts for the keyword disjunction.
const (
	titleBoost   = 2.0
	summaryBoost = 1.5
)

// IndexEntry is one document prepared for indexing, scoped to a search
// space and an optional content channel.
type IndexEntry struct {
	search.Document
	SpaceID string `json:"space_id,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// bleveDocument is the stored document shape.
type bleveDocument struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Summary   string `json:"summary"`
	Category  string `json:"category"`
	SpaceID   string `json:"space_id"`
	Channel   string `json:"channel"`
	CreatedAt string `json:"created_at"`
}

// KeywordIndex wraps a bleve index as the keyword search channel.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
	logger *slog.Logger
}

var _ search.KeywordBackend = (*KeywordIndex)(nil)

// NewKeywordIndex opens or creates the keyword index at path. An empty
// path creates an in-memory index for testing.
func NewKeywordIndex(path string, logger *slog.Logger) (*KeywordIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeCorruptIndex, "failed to open keyword index")
	}

	return &KeywordIndex{index: idx, path: path, logger: logger}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(bankingAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			cjk.WidthName,
			lowercase.Name,
			cjk.BigramName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = bankingAnalyzerName

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = bankingAnalyzerName
	textField.Store = true

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name
	exactField.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", textField)
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("summary", textField)
	docMapping.AddFieldMappingsAt("category", exactField)
	docMapping.AddFieldMappingsAt("space_id", exactField)
	docMapping.AddFieldMappingsAt("channel", exactField)
	docMapping.AddFieldMappingsAt("created_at", exactField)
	indexMapping.DefaultMapping = docMapping

	return indexMapping, nil
}

// Index adds entries to the index, replacing existing documents with
// the same id.
func (k *KeywordIndex) Index(ctx context.Context, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return searcherrors.New(searcherrors.ErrCodeKeywordBackend, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	for _, entry := range entries {
		doc := bleveDocument{
			Title:    entry.Title,
			Content:  entry.Content,
			Summary:  entry.Summary,
			Category: entry.Category,
			SpaceID:  entry.SpaceID,
			Channel:  entry.Channel,
		}
		if entry.CreatedAt != nil {
			doc.CreatedAt = entry.CreatedAt.UTC().Format(time.RFC3339)
		}
		if err := batch.Index(entry.ID, doc); err != nil {
			return searcherrors.Wrap(err, searcherrors.ErrCodeKeywordBackend,
				fmt.Sprintf("failed to index document %s", entry.ID))
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeKeywordBackend, "failed to execute batch")
	}

	k.logger.Debug("documents indexed", slog.Int("count", len(entries)))
	return nil
}

// Delete removes documents by id.
func (k *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return searcherrors.New(searcherrors.ErrCodeKeywordBackend, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return searcherrors.Wrap(err, searcherrors.ErrCodeKeywordBackend, "failed to execute delete batch")
	}
	return nil
}

// Search runs a keyword query over title, content, and summary, with
// title weighted highest. Space and channel filters narrow the match
// when set.
func (k *KeywordIndex) Search(ctx context.Context, queryStr string, opts search.BackendOptions) ([]search.ScoredDocument, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, searcherrors.New(searcherrors.ErrCodeKeywordBackend, "keyword index is closed", nil)
	}
	if strings.TrimSpace(queryStr) == "" {
		return []search.ScoredDocument{}, nil
	}

	titleQuery := bleve.NewMatchQuery(queryStr)
	titleQuery.SetField("title")
	titleQuery.SetBoost(titleBoost)

	contentQuery := bleve.NewMatchQuery(queryStr)
	contentQuery.SetField("content")

	summaryQuery := bleve.NewMatchQuery(queryStr)
	summaryQuery.SetField("summary")
	summaryQuery.SetBoost(summaryBoost)

	var q blevequery.Query = bleve.NewDisjunctionQuery(titleQuery, contentQuery, summaryQuery)

	filters := make([]blevequery.Query, 0, 2)
	if opts.SpaceID != "" {
		tq := bleve.NewTermQuery(opts.SpaceID)
		tq.SetField("space_id")
		filters = append(filters, tq)
	}
	if len(opts.Channels) > 0 {
		channelQueries := make([]blevequery.Query, 0, len(opts.Channels))
		for _, ch := range opts.Channels {
			tq := bleve.NewTermQuery(ch)
			tq.SetField("channel")
			channelQueries = append(channelQueries, tq)
		}
		filters = append(filters, bleve.NewDisjunctionQuery(channelQueries...))
	}
	if len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append(filters, q)...)
	}

	size := opts.Size
	if size <= 0 {
		size = 10
	}
	req := bleve.NewSearchRequestOptions(q, size, opts.From, false)
	req.Fields = []string{"*"}

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, searcherrors.Wrap(err, searcherrors.ErrCodeKeywordBackend, "keyword search failed")
	}

	docs := make([]search.ScoredDocument, 0, len(result.Hits))
	for _, hit := range result.Hits {
		doc := search.Document{
			ID:       hit.ID,
			Title:    stringField(hit.Fields, "title"),
			Content:  stringField(hit.Fields, "content"),
			Summary:  stringField(hit.Fields, "summary"),
			Category: stringField(hit.Fields, "category"),
		}
		if raw := stringField(hit.Fields, "created_at"); raw != "" {
			if t, perr := time.Parse(time.RFC3339, raw); perr == nil {
				doc.CreatedAt = &t
			}
		}
		docs = append(docs, search.ScoredDocument{Document: doc, Score: hit.Score})
	}
	return docs, nil
}

// Count returns the number of indexed documents.
func (k *KeywordIndex) Count() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, searcherrors.New(searcherrors.ErrCodeKeywordBackend, "keyword index is closed", nil)
	}
	return k.index.DocCount()
}

// Close releases the index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}
