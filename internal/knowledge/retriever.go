package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Generator drafts an answer when the corpus has none.
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Solution is the answer to a problem description. Generated is set when
// the text came from the model rather than the corpus.
type Solution struct {
	Text      string
	Generated bool
	Match     *Match
}

type Retriever struct {
	index     *Index
	generator Generator
	topK      int
	threshold float64
}

func NewRetriever(index *Index, generator Generator, topK int, threshold float64) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Retriever{index: index, generator: generator, topK: topK, threshold: threshold}
}

// Len reports the number of indexed entries.
func (r *Retriever) Len() int {
	if r == nil || r.index == nil {
		return 0
	}
	return r.index.Len()
}

// Lookup queries the index with the configured top-k and threshold.
func (r *Retriever) Lookup(ctx context.Context, query string) ([]Match, error) {
	if r == nil || r.index == nil {
		return nil, nil
	}
	return r.index.Lookup(ctx, query, r.topK, r.threshold)
}

const solutionSystemPrompt = "You are a professional IT problem-solving assistant. Provide a clear, concise and practical solution the user can follow."

// Solve returns the best stored resolution verbatim, or a generated answer
// when no entry clears the threshold. memory carries prior preferences or
// conversation notes for the generator.
func (r *Retriever) Solve(ctx context.Context, query, memory string) (*Solution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	matches, err := r.Lookup(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "knowledge lookup failed, generating instead", "error", err)
	}
	if len(matches) > 0 {
		best := matches[0]
		return &Solution{Text: best.Solution, Match: &best}, nil
	}
	if r == nil || r.generator == nil {
		return nil, errors.New("no stored solution and no generator configured")
	}
	if memory == "" {
		memory = "None"
	}
	prompt := fmt.Sprintf("User query: %s\n\nMemory context: %s", query, memory)
	text, err := r.generator.Complete(ctx, solutionSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate solution: %w", err)
	}
	return &Solution{Text: text, Generated: true}, nil
}

// Remember stores a confirmed problem and solution pair for later lookups.
func (r *Retriever) Remember(ctx context.Context, problem, solution string) error {
	if r == nil || r.index == nil {
		return errors.New("knowledge index unavailable")
	}
	return r.index.Add(ctx, Entry{ID: "confirmed", Category: "confirmed", Description: problem, Resolution: solution})
}
