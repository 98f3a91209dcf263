package search

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"
)

// Blend weights for the final relevance score. The fused channel score
// carries 0.7 of the final score, the document signals 0.1 each.
const (
	keywordScoreWeight  = 0.4
	semanticScoreWeight = 0.3
	freshnessWeight     = 0.1
	qualityWeight       = 0.1
	popularityWeight    = 0.1

	// freshnessDecayDays is the exponential-decay constant.
	freshnessDecayDays = 365

	// titleDuplicateThreshold collapses documents whose title Jaccard
	// similarity strictly exceeds it.
	titleDuplicateThreshold = 0.8
)

// Ranker fuses the two channel lists into one relevance-ordered list.
// Fusion is rank-based: each channel contributes a position score, not
// its raw engine score, so the channels stay comparable.
type Ranker struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewRanker creates a ranker.
func NewRanker(logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{now: time.Now, logger: logger}
}

// docScore accumulates a document's per-channel position scores.
type docScore struct {
	doc         Document
	keyword     float64
	semantic    float64
	keywordRank int // 1-based, 0 when absent from the keyword list
	inBoth      bool
	final       float64
}

// MergeAndRank fuses the ranked keyword and semantic lists. Each list
// contributes log(n-i+1)/log(n+1) position scores; the blended base is
// combined with freshness, quality, and popularity signals. Ties break
// deterministically: documents in both channels first, then better
// keyword rank, then document id.
func (r *Ranker) MergeAndRank(keywordResults, semanticResults []Document, weights Weights) []Document {
	scores := make(map[string]*docScore, len(keywordResults)+len(semanticResults))
	getOrCreate := func(doc Document) *docScore {
		if ds, ok := scores[doc.ID]; ok {
			return ds
		}
		ds := &docScore{doc: doc}
		scores[doc.ID] = ds
		return ds
	}

	for i, doc := range keywordResults {
		ds := getOrCreate(doc)
		ds.keyword = positionScore(i, len(keywordResults))
		ds.keywordRank = i + 1
	}
	for i, doc := range semanticResults {
		ds := getOrCreate(doc)
		ds.semantic = positionScore(i, len(semanticResults))
		if ds.keywordRank > 0 {
			ds.inBoth = true
		}
	}

	ranked := make([]*docScore, 0, len(scores))
	for _, ds := range scores {
		ds.final = r.relevanceScore(ds, weights)
		ranked = append(ranked, ds)
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.final != b.final {
			return a.final > b.final
		}
		if a.inBoth != b.inBoth {
			return a.inBoth
		}
		if a.keywordRank != b.keywordRank {
			// Rank 0 means absent; present beats absent, lower rank
			// beats higher.
			if a.keywordRank == 0 {
				return false
			}
			if b.keywordRank == 0 {
				return true
			}
			return a.keywordRank < b.keywordRank
		}
		return a.doc.ID < b.doc.ID
	})

	out := make([]Document, len(ranked))
	for i, ds := range ranked {
		out[i] = ds.doc
	}

	r.logger.Debug("results merged",
		slog.Int("keyword", len(keywordResults)),
		slog.Int("semantic", len(semanticResults)),
		slog.Int("merged", len(out)))
	return out
}

// positionScore maps a 0-based list position to a logarithmically
// decaying score in (0, 1]. The head of the list scores 1.
func positionScore(position, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return math.Log(float64(total-position+1)) / math.Log(float64(total+1))
}

// relevanceScore blends the fused channel base with the document
// signals.
func (r *Ranker) relevanceScore(ds *docScore, weights Weights) float64 {
	base := ds.keyword*weights.NormalizedKeyword() + ds.semantic*weights.NormalizedVector()

	return base*(keywordScoreWeight+semanticScoreWeight) +
		r.freshnessScore(ds.doc.CreatedAt)*freshnessWeight +
		qualityScore(ds.doc)*qualityWeight +
		popularityScore(ds.doc)*popularityWeight
}

// freshnessScore decays exponentially with document age, clamped to
// [0.1, 1.0]. Documents without a timestamp score 0.5.
func (r *Ranker) freshnessScore(createdAt *time.Time) float64 {
	if createdAt == nil {
		return 0.5
	}
	days := r.now().Sub(*createdAt).Hours() / 24
	decay := math.Exp(-days / freshnessDecayDays)
	return math.Max(0.1, math.Min(1.0, decay))
}

// qualityScore averages the bucket scores of the present content
// factors. Documents with no assessable factors score 0.5.
func qualityScore(doc Document) float64 {
	var score float64
	factors := 0

	if title := strings.TrimSpace(doc.Title); title != "" {
		switch n := len([]rune(title)); {
		case n >= 10 && n <= 100:
			score += 0.3
		case n >= 5:
			score += 0.2
		default:
			score += 0.1
		}
		factors++
	}

	if content := strings.TrimSpace(doc.Content); content != "" {
		switch n := len([]rune(content)); {
		case n >= 500:
			score += 0.3
		case n >= 100:
			score += 0.2
		default:
			score += 0.1
		}
		factors++
	}

	if strings.TrimSpace(doc.Summary) != "" {
		score += 0.2
		factors++
	}
	if strings.TrimSpace(doc.Category) != "" {
		score += 0.2
		factors++
	}

	if factors == 0 {
		return 0.5
	}
	return score / float64(factors)
}

// popularityScore estimates popularity from structural completeness:
// 0.5 base plus up to 0.5 for the four completeness factors.
func popularityScore(doc Document) float64 {
	completeness := 0
	if strings.TrimSpace(doc.Title) != "" {
		completeness++
	}
	if len([]rune(strings.TrimSpace(doc.Content))) > 200 {
		completeness++
	}
	if strings.TrimSpace(doc.Summary) != "" {
		completeness++
	}
	if strings.TrimSpace(doc.Category) != "" {
		completeness++
	}
	return math.Min(1.0, 0.5+float64(completeness)/4.0*0.5)
}

// Deduplicate removes repeated document ids and near-duplicate titles,
// preserving order. A title is a near duplicate when its word-set
// Jaccard similarity with an earlier title exceeds 0.8.
func (r *Ranker) Deduplicate(results []Document) []Document {
	out := make([]Document, 0, len(results))
	seenIDs := make(map[string]struct{}, len(results))
	var seenTitles []string

	for _, doc := range results {
		if _, ok := seenIDs[doc.ID]; ok {
			continue
		}
		title := strings.ToLower(strings.TrimSpace(doc.Title))
		if title != "" && isNearDuplicateTitle(title, seenTitles) {
			r.logger.Debug("near-duplicate title collapsed", slog.String("title", doc.Title))
			continue
		}

		seenIDs[doc.ID] = struct{}{}
		if title != "" {
			seenTitles = append(seenTitles, title)
		}
		out = append(out, doc)
	}
	return out
}

func isNearDuplicateTitle(title string, seen []string) bool {
	for _, s := range seen {
		if titleJaccard(title, s) > titleDuplicateThreshold {
			return true
		}
	}
	return false
}

// titleJaccard computes word-set Jaccard similarity.
func titleJaccard(a, b string) float64 {
	wordsA := make(map[string]struct{})
	for _, w := range strings.Fields(a) {
		wordsA[w] = struct{}{}
	}
	wordsB := make(map[string]struct{})
	for _, w := range strings.Fields(b) {
		wordsB[w] = struct{}{}
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
