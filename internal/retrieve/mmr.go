package retrieve

import (
	"context"
	"fmt"
	"math"

	"github.com/docchat-ai/docchat/internal/vectorstore"
)

// mmr embeds the query once, pulls a candidate pool with vectors, and
// greedily selects chunks that score high against the query while
// staying dissimilar to what has already been picked.
func (r *Retriever) mmr(ctx context.Context, query string) ([]ScoredChunk, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("mmr: no embedding provider configured")
	}

	queryVec, err := r.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mmr: embed query: %w", err)
	}

	fetch := r.strategy.FetchK
	if fetch < r.strategy.K {
		fetch = 3 * r.strategy.K
	}
	candidates, err := r.handle.SearchVector(ctx, queryVec, fetch)
	if err != nil {
		return nil, fmt.Errorf("mmr: candidate search: %w", err)
	}

	picked := mmrSelect(queryVec, candidates, r.strategy.K, r.strategy.Lambda)
	results := make([]ScoredChunk, len(picked))
	for i, p := range picked {
		results[i] = ScoredChunk{Chunk: p.Chunk, Score: p.Score, Scored: true}
	}
	return results, nil
}

// mmrSelect implements maximal marginal relevance over the candidate
// pool. Each round picks the candidate maximizing
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, picked))
//
// Candidates without a vector cannot be compared and are skipped.
func mmrSelect(queryVec []float32, candidates []vectorstore.SearchResult, k int, lambda float32) []vectorstore.SearchResult {
	pool := make([]vectorstore.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) > 0 {
			pool = append(pool, c)
		}
	}

	var picked []vectorstore.SearchResult
	used := make([]bool, len(pool))

	for len(picked) < k {
		best := -1
		bestScore := float32(math.Inf(-1))

		for i, c := range pool {
			if used[i] {
				continue
			}
			relevance := cosineSimilarity(queryVec, c.Vector)
			redundancy := float32(0)
			for _, p := range picked {
				if s := cosineSimilarity(c.Vector, p.Vector); s > redundancy {
					redundancy = s
				}
			}
			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				best = i
			}
		}

		if best < 0 {
			break
		}
		used[best] = true
		picked = append(picked, pool[best])
	}
	return picked
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
