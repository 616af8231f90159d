package store

import (
	"context"
	"strings"
	"sync"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/vectorstore"
)

// fakeBackend is an in-memory Backend for registry and coordinator
// tests. "Persisted" stores live in a map keyed by directory, so a
// second registry over the same backend behaves like a process restart.
type fakeBackend struct {
	mu        sync.Mutex
	persisted map[string][]chunk.Chunk
	corrupt   map[string]bool
	fail      map[string]error // any write to this dir fails

	loads   int
	creates int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		persisted: make(map[string][]chunk.Chunk),
		corrupt:   make(map[string]bool),
		fail:      make(map[string]error),
	}
}

func (b *fakeBackend) Create(ctx context.Context, dir string, chunks []chunk.Chunk) (vectorstore.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.fail[dir]; err != nil {
		return nil, err
	}
	b.creates++
	b.persisted[dir] = append([]chunk.Chunk(nil), chunks...)

	return &fakeHandle{backend: b, dir: dir, chunks: append([]chunk.Chunk(nil), chunks...)}, nil
}

func (b *fakeBackend) Load(ctx context.Context, dir string) (vectorstore.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.corrupt[dir] {
		return nil, errUnreadable
	}
	persisted, ok := b.persisted[dir]
	if !ok {
		return nil, vectorstore.ErrStoreMissing
	}
	b.loads++

	return &fakeHandle{backend: b, dir: dir, chunks: append([]chunk.Chunk(nil), persisted...)}, nil
}

func (b *fakeBackend) Exists(dir string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.corrupt[dir] {
		return true // artifacts are present, just unreadable
	}
	_, ok := b.persisted[dir]
	return ok
}

var errUnreadable = &corruptArtifactError{}

type corruptArtifactError struct{}

func (*corruptArtifactError) Error() string { return "artifact unreadable" }

// fakeHandle keeps chunks in memory; Save copies them into the
// backend's persisted map.
type fakeHandle struct {
	backend *fakeBackend
	dir     string
	mu      sync.Mutex
	chunks  []chunk.Chunk
	closed  bool
}

func (h *fakeHandle) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	h.backend.mu.Lock()
	err := h.backend.fail[h.dir]
	h.backend.mu.Unlock()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks = append(h.chunks, chunks...)
	return nil
}

func (h *fakeHandle) Save(ctx context.Context) error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if err := h.backend.fail[h.dir]; err != nil {
		return err
	}

	h.mu.Lock()
	h.backend.persisted[h.dir] = append([]chunk.Chunk(nil), h.chunks...)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Search(ctx context.Context, query string, k int) ([]chunk.Chunk, error) {
	results, err := h.SearchWithScore(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]chunk.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	return chunks, nil
}

// SearchWithScore scores by naive substring match: enough to tell
// whether a known chunk comes back.
func (h *fakeHandle) SearchWithScore(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var results []vectorstore.SearchResult
	for _, c := range h.chunks {
		score := float32(0.3)
		if strings.Contains(strings.ToLower(c.Content), strings.ToLower(query)) {
			score = 0.9
		}
		results = append(results, vectorstore.SearchResult{Chunk: c, Score: score})
	}

	// highest score first
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (h *fakeHandle) SearchVector(ctx context.Context, vector []float32, k int) ([]vectorstore.SearchResult, error) {
	return h.SearchWithScore(ctx, "", k)
}

func (h *fakeHandle) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.chunks)
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
