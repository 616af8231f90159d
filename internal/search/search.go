// Package search exposes query operations over the registered stores.
// It is the layer the CLI, HTTP API, and MCP server share.
package search

import (
	"context"
	"fmt"

	"github.com/docchat-ai/docchat/internal/embed"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/store"
)

// Options control a single search call.
type Options struct {
	// Store names the store to query. Empty means the combined store.
	Store string

	// Strategy selects the ranking strategy.
	Strategy retrieve.Strategy
}

// DefaultOptions returns the default search options.
func DefaultOptions() Options {
	return Options{
		Store:    store.CombinedStore,
		Strategy: retrieve.Similarity(retrieve.DefaultK),
	}
}

// Searcher runs retrieval strategies against stores from a registry.
type Searcher struct {
	registry *store.Registry
	provider embed.Provider
}

// NewSearcher creates a Searcher.
func NewSearcher(registry *store.Registry, provider embed.Provider) *Searcher {
	return &Searcher{registry: registry, provider: provider}
}

// Search queries a store with the configured strategy. The store must
// already exist; missing stores surface store.ErrNotFoundNoSeed, except
// the combined store which is bootstrapped on demand.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]retrieve.ScoredChunk, error) {
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	name := opts.Store
	if name == "" {
		name = store.CombinedStore
	}

	handle, err := s.registry.LoadOrCreate(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	// The handle is pinned against eviction for the duration of the
	// retrieval.
	defer s.registry.Release(name)

	retriever := retrieve.NewRetriever(handle, s.provider, opts.Strategy)
	return retriever.Retrieve(ctx, query)
}

// Stores lists the known store names.
func (s *Searcher) Stores() ([]string, error) {
	return s.registry.ListStores()
}

// StoreExists reports whether a named store exists.
func (s *Searcher) StoreExists(name string) bool {
	return s.registry.StoreExists(name)
}
