package vector

import (
	"math/bits"
	"math/rand"
	"sort"
	"sync"
)

// lshSignatureBits is the number of random hyperplanes, and therefore
// the signature width.
const lshSignatureBits = 16

// lshIndex is a sign-random-projection hash used as a coarse candidate
// filter for ANN search. Documents whose signatures are closest in
// Hamming distance to the query signature become candidates for exact
// re-scoring.
type lshIndex struct {
	mu     sync.Mutex
	dim    int
	planes [][]float32
}

func newLSHIndex() *lshIndex {
	return &lshIndex{}
}

// planesFor returns the hyperplanes for the given dimensionality,
// generating them deterministically on first use.
func (l *lshIndex) planesFor(dim int) [][]float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dim == dim && l.planes != nil {
		return l.planes
	}

	rng := rand.New(rand.NewSource(int64(dim) * 7919))
	planes := make([][]float32, lshSignatureBits)
	for i := range planes {
		p := make([]float32, dim)
		for j := range p {
			p[j] = float32(rng.NormFloat64())
		}
		planes[i] = p
	}
	l.dim = dim
	l.planes = planes
	return planes
}

// signature projects v onto the hyperplanes and packs the signs.
func (l *lshIndex) signature(v []float32) uint32 {
	planes := l.planesFor(len(v))
	var sig uint32
	for i, p := range planes {
		var dot float64
		for j := range v {
			dot += float64(v[j]) * float64(p[j])
		}
		if dot >= 0 {
			sig |= 1 << uint(i)
		}
	}
	return sig
}

// candidates returns up to n document ids whose signatures are closest
// to the query signature. Documents with mismatched dimensions are
// skipped.
func (l *lshIndex) candidates(query []float32, docs []DocVector, n int) []string {
	if n <= 0 || len(docs) == 0 {
		return nil
	}

	qsig := l.signature(query)

	type ranked struct {
		id   string
		dist int
	}
	rankedDocs := make([]ranked, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Vector) != len(query) {
			continue
		}
		d := bits.OnesCount32(qsig ^ l.signature(doc.Vector))
		rankedDocs = append(rankedDocs, ranked{id: doc.DocumentID, dist: d})
	}

	sort.SliceStable(rankedDocs, func(i, j int) bool {
		if rankedDocs[i].dist != rankedDocs[j].dist {
			return rankedDocs[i].dist < rankedDocs[j].dist
		}
		return rankedDocs[i].id < rankedDocs[j].id
	})

	if len(rankedDocs) > n {
		rankedDocs = rankedDocs[:n]
	}
	out := make([]string, len(rankedDocs))
	for i, r := range rankedDocs {
		out[i] = r.id
	}
	return out
}
