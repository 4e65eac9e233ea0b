package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

const (
	DefaultTopK      = 3
	DefaultThreshold = 0.3
)

// Match is a corpus entry scored against a query.
type Match struct {
	MatchText string
	Solution  string
	Score     float64
	Entry     Entry
}

// Index is an in-memory cosine-similarity index over entry descriptions.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []Entry
	vectors [][]float64
}

// Build embeds every entry description and returns the index.
func Build(ctx context.Context, embedder Embedder, entries []Entry) (*Index, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	idx := &Index{embedder: embedder}
	if len(entries) == 0 {
		return idx, nil
	}
	if err := idx.Add(ctx, entries...); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add embeds entries and appends them to the index.
func (i *Index) Add(ctx context.Context, entries ...Entry) error {
	texts := make([]string, len(entries))
	for n, e := range entries {
		texts[n] = e.Description
	}
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus: %w", err)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("embed corpus: got %d vectors for %d entries", len(vectors), len(entries))
	}
	for n := range vectors {
		vectors[n] = normalize(vectors[n])
	}
	i.mu.Lock()
	i.entries = append(i.entries, entries...)
	i.vectors = append(i.vectors, vectors...)
	i.mu.Unlock()
	return nil
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// Lookup returns at most topK matches scoring at least threshold, best first.
// An empty result means nothing in the corpus is close enough.
func (i *Index) Lookup(ctx context.Context, query string, topK int, threshold float64) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if i.Len() == 0 {
		return nil, nil
	}
	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	q := normalize(vectors[0])

	i.mu.RLock()
	matches := make([]Match, 0, topK)
	for n, v := range i.vectors {
		score := dot(q, v)
		if score < threshold {
			continue
		}
		e := i.entries[n]
		matches = append(matches, Match{MatchText: e.Description, Solution: e.Resolution, Score: score, Entry: e})
	}
	i.mu.RUnlock()

	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for n, x := range v {
		out[n] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for n := range a {
		sum += a[n] * b[n]
	}
	return sum
}
