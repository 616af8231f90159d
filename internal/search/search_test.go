package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/store"
	"github.com/docchat-ai/docchat/internal/vectorstore"
)

// memBackend is a minimal in-memory vectorstore.Backend for wiring the
// registry under test.
type memBackend struct {
	mu        sync.Mutex
	persisted map[string][]chunk.Chunk
}

func newMemBackend() *memBackend {
	return &memBackend{persisted: make(map[string][]chunk.Chunk)}
}

func (b *memBackend) Create(ctx context.Context, dir string, chunks []chunk.Chunk) (vectorstore.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.persisted[dir] = append([]chunk.Chunk(nil), chunks...)
	return &memHandle{backend: b, dir: dir, chunks: append([]chunk.Chunk(nil), chunks...)}, nil
}

func (b *memBackend) Load(ctx context.Context, dir string) (vectorstore.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	persisted, ok := b.persisted[dir]
	if !ok {
		return nil, vectorstore.ErrStoreMissing
	}
	return &memHandle{backend: b, dir: dir, chunks: append([]chunk.Chunk(nil), persisted...)}, nil
}

func (b *memBackend) Exists(dir string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.persisted[dir]
	return ok
}

type memHandle struct {
	backend *memBackend
	dir     string
	chunks  []chunk.Chunk
}

func (h *memHandle) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	h.chunks = append(h.chunks, chunks...)
	return nil
}

func (h *memHandle) Save(ctx context.Context) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	h.backend.persisted[h.dir] = append([]chunk.Chunk(nil), h.chunks...)
	return nil
}

func (h *memHandle) Search(ctx context.Context, query string, k int) ([]chunk.Chunk, error) {
	var out []chunk.Chunk
	for _, c := range h.chunks {
		if len(out) == k {
			break
		}
		if strings.Contains(strings.ToLower(c.Content), strings.ToLower(query)) || c.IsPlaceholder {
			out = append(out, c)
		}
	}
	return out, nil
}

func (h *memHandle) SearchWithScore(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	chunks, err := h.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	results := make([]vectorstore.SearchResult, len(chunks))
	for i, c := range chunks {
		results[i] = vectorstore.SearchResult{Chunk: c, Score: 0.9}
	}
	return results, nil
}

func (h *memHandle) SearchVector(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	return h.SearchWithScore(ctx, "", k)
}

func (h *memHandle) Count() int { return len(h.chunks) }

func (h *memHandle) Close() error { return nil }

func newTestSearcher(t *testing.T) (*Searcher, *store.Registry) {
	t.Helper()
	registry := store.NewRegistry(newMemBackend(), store.RegistryConfig{Dir: t.TempDir()})
	return NewSearcher(registry, nil), registry
}

func TestSearch_MissingStore(t *testing.T) {
	s, _ := newTestSearcher(t)

	opts := DefaultOptions()
	opts.Store = "nope"
	_, err := s.Search(context.Background(), "query", opts)
	if !errors.Is(err, store.ErrNotFoundNoSeed) {
		t.Errorf("Expected ErrNotFoundNoSeed, got %v", err)
	}
}

func TestSearch_CombinedBootstrapsEmpty(t *testing.T) {
	s, _ := newTestSearcher(t)

	results, err := s.Search(context.Background(), "anything", DefaultOptions())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Fresh combined store should return nothing, got %+v", results)
	}
	if !s.StoreExists(store.CombinedStore) {
		t.Error("Combined store should exist after the first search")
	}
}

func TestSearch_FindsIngestedChunks(t *testing.T) {
	s, registry := newTestSearcher(t)
	ctx := context.Background()

	c := store.NewCoordinator(registry)
	if _, err := c.AddDocument(ctx, "guide.txt", []chunk.Chunk{
		{Source: "guide.txt", Ordinal: 0, Content: "Retries use exponential backoff."},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "exponential backoff", DefaultOptions())
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Source != "guide.txt" {
		t.Errorf("Unexpected results: %+v", results)
	}

	// The per-document store answers the same query.
	opts := DefaultOptions()
	opts.Store = "guide"
	results, err = s.Search(ctx, "exponential backoff", opts)
	if err != nil {
		t.Fatalf("Per-document search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result from individual store, got %d", len(results))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	s, _ := newTestSearcher(t)
	if _, err := s.Search(context.Background(), "", DefaultOptions()); err == nil {
		t.Error("Expected error for empty query")
	}
}

func TestSearch_ThresholdStrategy(t *testing.T) {
	s, registry := newTestSearcher(t)
	ctx := context.Background()

	c := store.NewCoordinator(registry)
	if _, err := c.AddDocument(ctx, "faq.txt", []chunk.Chunk{
		{Source: "faq.txt", Ordinal: 0, Content: "Backoff starts at one second."},
	}); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.Strategy = retrieve.Threshold(4)
	results, err := s.Search(ctx, "backoff", opts)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || !results[0].Scored {
		t.Errorf("Threshold results should be scored, got %+v", results)
	}
}
