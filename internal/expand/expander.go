// Package expand generates banking-domain query expansions: synonym
// lookups, numeral and abbreviation variants, product/service term
// lists, and related-concept vocabulary.
package expand

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// QueryType classifies the intent of a query.
type QueryType string

const (
	QueryTypeProduct   QueryType = "PRODUCT_QUERY"
	QueryTypeService   QueryType = "SERVICE_QUERY"
	QueryTypeProcedure QueryType = "PROCEDURE_QUERY"
	QueryTypeGeneral   QueryType = "GENERAL_QUERY"
)

// SynonymLookup resolves a term to its usable synonyms. Lookup returns
// the ranked, capped directional synonyms; BidirectionalLookup returns
// the full either-side relation set. Implementations must degrade to
// an empty result on failure.
type SynonymLookup interface {
	Lookup(ctx context.Context, term string) []string
	BidirectionalLookup(ctx context.Context, term string) []string
}

// Result is the outcome of expanding one query.
type Result struct {
	// Original is the query exactly as the caller passed it.
	Original string

	// Terms are the expansion terms in insertion order, excluding the
	// original query.
	Terms []string

	// Type is the classified query intent.
	Type QueryType
}

// AllTerms returns the original query followed by the expansion terms.
// The original appears exactly once.
func (r Result) AllTerms() []string {
	all := make([]string, 0, len(r.Terms)+1)
	all = append(all, r.Original)
	for _, t := range r.Terms {
		if t != r.Original {
			all = append(all, t)
		}
	}
	return all
}

// Expander produces query expansions.
type Expander struct {
	synonyms      SynonymLookup
	enabled       bool
	maxTerms      int
	minTermLength int
	logger        *slog.Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithEnabled toggles term generation. A disabled expander still
// classifies queries but produces no expansion terms.
func WithEnabled(enabled bool) Option {
	return func(e *Expander) { e.enabled = enabled }
}

// WithMaxTerms caps the number of expansion terms.
func WithMaxTerms(n int) Option {
	return func(e *Expander) { e.maxTerms = n }
}

// WithMinTermLength sets the minimum expansion term length in runes.
func WithMinTermLength(n int) Option {
	return func(e *Expander) { e.minTermLength = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Expander) { e.logger = l }
}

// NewExpander creates an expander. synonyms may be nil, in which case
// synonym expansion is skipped.
func NewExpander(synonyms SynonymLookup, opts ...Option) *Expander {
	e := &Expander{
		synonyms:      synonyms,
		enabled:       true,
		maxTerms:      10,
		minTermLength: 2,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand classifies the query and generates its expansion terms.
// A blank query short-circuits to a GENERAL result with no terms and
// no synonym lookups.
func (e *Expander) Expand(ctx context.Context, query string) Result {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{Original: query, Type: QueryTypeGeneral}
	}

	normalized := strings.ToLower(trimmed)
	qtype := classifyQuery(normalized)
	if !e.enabled {
		return Result{Original: query, Type: qtype}
	}

	acc := newTermSet()
	acc.add(normalized)

	e.expandSynonyms(ctx, normalized, acc)
	expandNumerals(normalized, acc)
	expandAbbreviations(normalized, acc)
	expandDomainTerms(normalized, qtype, acc)
	expandConcepts(normalized, acc)

	terms := e.filterTerms(acc.ordered, query)

	e.logger.Debug("query expanded",
		slog.String("query", query),
		slog.String("type", string(qtype)),
		slog.Int("terms", len(terms)))

	return Result{Original: query, Terms: terms, Type: qtype}
}

// expandSynonyms looks up the whole query plus each token of at least
// minTermLength runes, through both the directional and the
// either-side relation lookups.
func (e *Expander) expandSynonyms(ctx context.Context, query string, acc *termSet) {
	if e.synonyms == nil {
		return
	}
	acc.addAll(e.synonyms.Lookup(ctx, query))
	acc.addAll(e.synonyms.BidirectionalLookup(ctx, query))
	for _, token := range tokenize(query) {
		if token == query {
			continue
		}
		if utf8.RuneCountInString(token) >= e.minTermLength {
			acc.addAll(e.synonyms.Lookup(ctx, token))
			acc.addAll(e.synonyms.BidirectionalLookup(ctx, token))
		}
	}
}

// expandNumerals substitutes Chinese numerals and Arabic digits in both
// directions.
func expandNumerals(query string, acc *termSet) {
	for _, n := range chineseNumerals {
		if strings.Contains(query, n.han) {
			acc.add(strings.ReplaceAll(query, n.han, n.digit))
		}
		if strings.Contains(query, n.digit) {
			acc.add(strings.ReplaceAll(query, n.digit, n.han))
		}
	}
}

// expandAbbreviations substitutes banking abbreviations and their full
// forms in both directions.
func expandAbbreviations(query string, acc *termSet) {
	for _, a := range bankingAbbreviations {
		abbr := strings.ToLower(a.abbr)
		if strings.Contains(query, abbr) {
			for _, form := range a.forms {
				acc.add(strings.ReplaceAll(query, abbr, strings.ToLower(form)))
			}
		}
		for _, form := range a.forms {
			full := strings.ToLower(form)
			if strings.Contains(query, full) {
				acc.add(strings.ReplaceAll(query, full, abbr))
			}
		}
	}
}

// expandDomainTerms adds product or service vocabulary matching the
// query type.
func expandDomainTerms(query string, qtype QueryType, acc *termSet) {
	switch qtype {
	case QueryTypeProduct:
		addBankTerms(query, productTerms, acc)
	case QueryTypeService:
		addBankTerms(query, serviceTerms, acc)
	}
}

// expandConcepts adds related-concept vocabulary independent of the
// query type.
func expandConcepts(query string, acc *termSet) {
	addBankTerms(query, conceptTerms, acc)
}

func addBankTerms(query string, bank termBank, acc *termSet) {
	for _, entry := range bank {
		if strings.Contains(query, entry.trigger) {
			acc.addAll(entry.terms)
		}
	}
}

// filterTerms drops blanks, short terms, and the original query, then
// caps the list, preserving insertion order.
func (e *Expander) filterTerms(terms []string, original string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || t == original {
			continue
		}
		if utf8.RuneCountInString(t) < e.minTermLength {
			continue
		}
		out = append(out, t)
		if len(out) == e.maxTerms {
			break
		}
	}
	return out
}

// classifyQuery returns the first query type whose keyword bank matches.
func classifyQuery(query string) QueryType {
	for _, bank := range queryTypeBanks {
		for _, kw := range bank.keywords {
			if strings.Contains(query, strings.ToLower(kw)) {
				return bank.qtype
			}
		}
	}
	return QueryTypeGeneral
}

// tokenize splits on whitespace and punctuation.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// termSet is an insertion-ordered string set.
type termSet struct {
	seen    map[string]struct{}
	ordered []string
}

func newTermSet() *termSet {
	return &termSet{seen: make(map[string]struct{})}
}

func (ts *termSet) add(s string) {
	if _, ok := ts.seen[s]; ok {
		return
	}
	ts.seen[s] = struct{}{}
	ts.ordered = append(ts.ordered, s)
}

func (ts *termSet) addAll(ss []string) {
	for _, s := range ss {
		ts.add(s)
	}
}
