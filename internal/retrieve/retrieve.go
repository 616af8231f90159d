// Package retrieve ranks chunks from a similarity store for a query.
// Three strategies are available: plain similarity, maximal marginal
// relevance for diversity, and score-threshold filtering.
package retrieve

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/embed"
	"github.com/docchat-ai/docchat/internal/vectorstore"
)

// MaxK caps how many chunks a single retrieval may return. Requests
// above the cap are clamped, not rejected.
const MaxK = 20

// DefaultK is used when a strategy is built with k <= 0.
const DefaultK = 4

const (
	// DefaultMMRLambda balances relevance against diversity. Lower
	// values favor diversity.
	DefaultMMRLambda = 0.25

	// DefaultScoreThreshold is the minimum similarity a chunk must
	// reach under the threshold strategy.
	DefaultScoreThreshold = 0.6
)

// Kind selects the ranking strategy.
type Kind int

const (
	KindSimilarity Kind = iota
	KindMMR
	KindThreshold
)

func (k Kind) String() string {
	switch k {
	case KindSimilarity:
		return "similarity"
	case KindMMR:
		return "mmr"
	case KindThreshold:
		return "threshold"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a user-facing strategy name to its Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "similarity":
		return KindSimilarity, nil
	case "mmr":
		return KindMMR, nil
	case "threshold":
		return KindThreshold, nil
	default:
		return 0, fmt.Errorf("unknown retrieval strategy %q", s)
	}
}

// Strategy describes one fully-parameterized retrieval strategy. Use
// the constructors; they fill in the per-kind defaults.
type Strategy struct {
	Kind Kind

	// K is the number of chunks to return, clamped to MaxK.
	K int

	// FetchK is the candidate pool size for MMR. Defaults to 3*K.
	FetchK int

	// Lambda is the MMR relevance/diversity tradeoff in [0, 1].
	Lambda float32

	// ScoreThreshold is the minimum similarity for the threshold
	// strategy.
	ScoreThreshold float32
}

// Similarity returns the k most similar chunks.
func Similarity(k int) Strategy {
	return Strategy{Kind: KindSimilarity, K: clampK(k)}
}

// MMR returns up to k chunks chosen by maximal marginal relevance from
// a pool of 3k candidates.
func MMR(k int) Strategy {
	k = clampK(k)
	return Strategy{Kind: KindMMR, K: k, FetchK: 3 * k, Lambda: DefaultMMRLambda}
}

// Threshold returns the most similar chunks whose score is at least
// DefaultScoreThreshold, at most k of them.
func Threshold(k int) Strategy {
	return Strategy{Kind: KindThreshold, K: clampK(k), ScoreThreshold: DefaultScoreThreshold}
}

func clampK(k int) int {
	if k <= 0 {
		return DefaultK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}

// ScoredChunk is a retrieved chunk with its similarity to the query.
// Scored is false only when the backend could not provide scores.
type ScoredChunk struct {
	chunk.Chunk
	Score  float32
	Scored bool
}

// Retriever runs a Strategy against one store handle. The provider is
// only consulted for MMR, which needs the raw query embedding.
type Retriever struct {
	handle   vectorstore.Handle
	provider embed.Provider
	strategy Strategy
}

// NewRetriever builds a Retriever. The provider may be nil unless the
// strategy is MMR.
func NewRetriever(handle vectorstore.Handle, provider embed.Provider, strategy Strategy) *Retriever {
	if strategy.K <= 0 {
		strategy.K = DefaultK
	}
	return &Retriever{handle: handle, provider: provider, strategy: strategy}
}

// Retrieve runs the configured strategy for query. Placeholder chunks
// never appear in the results.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]ScoredChunk, error) {
	var (
		results []ScoredChunk
		err     error
	)
	switch r.strategy.Kind {
	case KindSimilarity:
		results, err = r.similarity(ctx, query)
	case KindMMR:
		results, err = r.mmr(ctx, query)
	case KindThreshold:
		results, err = r.threshold(ctx, query)
	default:
		return nil, fmt.Errorf("retrieve: unknown strategy kind %v", r.strategy.Kind)
	}
	if err != nil {
		return nil, err
	}
	return dropPlaceholders(results), nil
}

// similarity returns the top k chunks with their similarity to the
// query. A backend that cannot score degrades to an unscored ranking.
func (r *Retriever) similarity(ctx context.Context, query string) ([]ScoredChunk, error) {
	scored, err := r.handle.SearchWithScore(ctx, query, r.strategy.K)
	if err == nil {
		results := make([]ScoredChunk, len(scored))
		for i, s := range scored {
			results[i] = ScoredChunk{Chunk: s.Chunk, Score: s.Score, Scored: true}
		}
		return results, nil
	}

	chunks, plainErr := r.handle.Search(ctx, query, r.strategy.K)
	if plainErr != nil {
		return nil, fmt.Errorf("similarity search: %w", plainErr)
	}
	results := make([]ScoredChunk, len(chunks))
	for i, c := range chunks {
		results[i] = ScoredChunk{Chunk: c}
	}
	return results, nil
}

// threshold fetches twice the requested count, keeps chunks at or above
// the score bound, and truncates to k. If the scored search itself
// fails, it degrades to a plain similarity search rather than failing
// the request.
func (r *Retriever) threshold(ctx context.Context, query string) ([]ScoredChunk, error) {
	fetch := 2 * r.strategy.K
	scored, err := r.handle.SearchWithScore(ctx, query, fetch)
	if err != nil {
		log.Printf("retrieve: scored search failed, falling back to similarity: %v", err)
		return r.similarity(ctx, query)
	}

	var results []ScoredChunk
	for _, s := range scored {
		if s.Score < r.strategy.ScoreThreshold {
			continue
		}
		results = append(results, ScoredChunk{Chunk: s.Chunk, Score: s.Score, Scored: true})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > r.strategy.K {
		results = results[:r.strategy.K]
	}
	return results, nil
}

func dropPlaceholders(results []ScoredChunk) []ScoredChunk {
	kept := results[:0]
	for _, r := range results {
		if !r.IsPlaceholder {
			kept = append(kept, r)
		}
	}
	return kept
}
