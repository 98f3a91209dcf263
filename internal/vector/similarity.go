// Package vector implements the vector-similarity engine: pairwise
// similarity algorithms, full-corpus and id-restricted batch scoring,
// approximate nearest-neighbor search, and rank-bucket cluster
// analysis.
package vector

import "math"

// Algorithm selects a pairwise similarity function.
type Algorithm string

const (
	Cosine     Algorithm = "cosine"
	Euclidean  Algorithm = "euclidean"
	DotProduct Algorithm = "dot_product"
	Manhattan  Algorithm = "manhattan"
	Jaccard    Algorithm = "jaccard"
)

// Similarity computes the similarity of two vectors under the given
// algorithm. Nil vectors and length mismatches score 0.0 instead of
// failing, so a bad embedding never aborts a scan. Unknown algorithms
// fall back to cosine.
func Similarity(a, b []float32, algo Algorithm) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0.0
	}

	switch algo {
	case Euclidean:
		return euclideanSimilarity(a, b)
	case DotProduct:
		return dotProduct(a, b)
	case Manhattan:
		return manhattanSimilarity(a, b)
	case Jaccard:
		return jaccardSimilarity(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		normA += va * va
		normB += vb * vb
	}
	magnitude := math.Sqrt(normA) * math.Sqrt(normB)
	if magnitude == 0 {
		return 0.0
	}
	return dot / magnitude
}

// euclideanSimilarity maps distance d to 1/(1+d) so smaller distances
// score higher.
func euclideanSimilarity(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return 1.0 / (1.0 + math.Sqrt(sum))
}

func dotProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// manhattanSimilarity maps distance d to 1/(1+d).
func manhattanSimilarity(a, b []float32) float64 {
	var dist float64
	for i := range a {
		dist += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return 1.0 / (1.0 + dist)
}

// jaccardSimilarity compares the non-zero index sets of the two
// vectors, which suits sparse representations.
func jaccardSimilarity(a, b []float32) float64 {
	var intersection, union int
	for i := range a {
		inA, inB := a[i] != 0, b[i] != 0
		if inA && inB {
			intersection++
		}
		if inA || inB {
			union++
		}
	}
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}
