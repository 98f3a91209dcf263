// Package trie provides the concurrent prefix index behind
// autocomplete. A single RWMutex guards the trie and its frequency
// mirror; reads take the read lock, mutations and rebuilds the write
// lock.
package trie

import (
	"sort"
	"strings"
	"sync"
)

type node struct {
	children map[rune]*node
	terminal bool
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// Trie is a frequency-ranked prefix index over query terms. Terms and
// prefixes are normalized (trimmed, lowercased) on every operation, so
// "ATM取款" and "atm取款" address the same entry.
type Trie struct {
	mu    sync.RWMutex
	root  *node
	freqs map[string]int64
}

// Match is a prefix-match result.
type Match struct {
	Term      string `json:"term"`
	Frequency int64  `json:"frequency"`
}

// Stats aggregates the indexed terms.
type Stats struct {
	TermCount      int     `json:"term_count"`
	TotalFrequency int64   `json:"total_frequency"`
	MinFrequency   int64   `json:"min_frequency"`
	MaxFrequency   int64   `json:"max_frequency"`
	AvgFrequency   float64 `json:"avg_frequency"`
}

// New creates an empty trie.
func New() *Trie {
	return &Trie{
		root:  newNode(),
		freqs: make(map[string]int64),
	}
}

// Add inserts a term with the given frequency, replacing any existing
// frequency. Empty terms and non-positive frequencies are ignored.
func (t *Trie) Add(term string, frequency int64) {
	term = normalizeTerm(term)
	if term == "" || frequency <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(term, frequency)
}

// AddAll inserts a batch of term frequencies under one lock
// acquisition. Terms that collapse to the same normalized form merge
// their frequencies.
func (t *Trie) AddAll(terms map[string]int64) {
	normalized := normalizeTerms(terms)
	t.mu.Lock()
	defer t.mu.Unlock()
	for term, freq := range normalized {
		t.insert(term, freq)
	}
}

// insert requires the write lock.
func (t *Trie) insert(term string, frequency int64) {
	cur := t.root
	for _, r := range term {
		next, ok := cur.children[r]
		if !ok {
			next = newNode()
			cur.children[r] = next
		}
		cur = next
	}
	cur.terminal = true
	t.freqs[term] = frequency
}

// Contains reports whether term is indexed.
func (t *Trie) Contains(term string) bool {
	term = normalizeTerm(term)
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.freqs[term]
	return ok
}

// Frequency returns the indexed frequency for term, 0 if absent.
func (t *Trie) Frequency(term string) int64 {
	term = normalizeTerm(term)
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.freqs[term]
}

// Increment bumps term's frequency by one, inserting it at frequency 1
// if absent.
func (t *Trie) Increment(term string) {
	term = normalizeTerm(term)
	if term == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.freqs[term]; ok {
		t.freqs[term] = f + 1
		return
	}
	t.insert(term, 1)
}

// MatchPrefix returns up to limit indexed terms starting with prefix,
// highest frequency first. Ties break by term for determinism.
func (t *Trie) MatchPrefix(prefix string, limit int) []Match {
	if limit <= 0 {
		return nil
	}
	prefix = normalizeTerm(prefix)
	t.mu.RLock()
	defer t.mu.RUnlock()

	cur := t.root
	for _, r := range prefix {
		next, ok := cur.children[r]
		if !ok {
			return nil
		}
		cur = next
	}

	var matches []Match
	collect(cur, []rune(prefix), &matches, t.freqs)

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Frequency != matches[j].Frequency {
			return matches[i].Frequency > matches[j].Frequency
		}
		return matches[i].Term < matches[j].Term
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// collect walks the subtree depth-first accumulating terminal terms.
func collect(n *node, path []rune, out *[]Match, freqs map[string]int64) {
	if n.terminal {
		term := string(path)
		*out = append(*out, Match{Term: term, Frequency: freqs[term]})
	}
	for r, child := range n.children {
		collect(child, append(path, r), out, freqs)
	}
}

// TopTerms returns the n most frequent indexed terms.
func (t *Trie) TopTerms(n int) []Match {
	if n <= 0 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	matches := make([]Match, 0, len(t.freqs))
	for term, freq := range t.freqs {
		matches = append(matches, Match{Term: term, Frequency: freq})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Frequency != matches[j].Frequency {
			return matches[i].Frequency > matches[j].Frequency
		}
		return matches[i].Term < matches[j].Term
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}

// Clear removes every term.
func (t *Trie) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newNode()
	t.freqs = make(map[string]int64)
}

// Replace atomically rebuilds the index from terms. The whole rebuild
// holds the write lock so readers never observe a partial index. Terms
// that collapse to the same normalized form merge their frequencies.
func (t *Trie) Replace(terms map[string]int64) {
	normalized := normalizeTerms(terms)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newNode()
	t.freqs = make(map[string]int64, len(normalized))
	for term, freq := range normalized {
		t.insert(term, freq)
	}
}

// normalizeTerm is applied to every term and prefix entering the index.
func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeTerms normalizes a batch, summing frequencies of terms that
// normalize to the same form and dropping invalid entries.
func normalizeTerms(terms map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(terms))
	for term, freq := range terms {
		term = normalizeTerm(term)
		if term == "" || freq <= 0 {
			continue
		}
		out[term] += freq
	}
	return out
}

// Len returns the number of indexed terms.
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.freqs)
}

// Stats returns aggregate term and frequency counts.
func (t *Trie) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{TermCount: len(t.freqs)}
	if s.TermCount == 0 {
		return s
	}
	first := true
	for _, f := range t.freqs {
		s.TotalFrequency += f
		if first || f < s.MinFrequency {
			s.MinFrequency = f
		}
		if f > s.MaxFrequency {
			s.MaxFrequency = f
		}
		first = false
	}
	s.AvgFrequency = float64(s.TotalFrequency) / float64(s.TermCount)
	return s
}
