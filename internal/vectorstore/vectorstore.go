// Package vectorstore adapts a persisted vector index library to the
// store registry. Each store is a directory holding two artifacts: the
// index file itself and a side manifest. Both must be present and
// non-empty for the store to be considered valid.
package vectorstore

import (
	"context"
	"errors"

	"github.com/docchat-ai/docchat/internal/chunk"
)

// ErrStoreMissing indicates that no persisted store exists at the given
// directory. It is distinct from a load failure of a store that does
// exist: callers recover from the former by creating, from the latter by
// alerting or rebuilding.
var ErrStoreMissing = errors.New("no persisted store at path")

// SearchResult is a scored match. Score is a similarity in [0, 1]
// (higher is more relevant). Vector carries the candidate's embedding so
// re-ranking strategies can compare candidates without re-embedding.
type SearchResult struct {
	Chunk  chunk.Chunk
	Score  float32
	Vector []float32
}

// Handle is an open similarity index for a single store.
type Handle interface {
	// AddChunks embeds and indexes the given chunks.
	AddChunks(ctx context.Context, chunks []chunk.Chunk) error

	// Save persists the index and its manifest. The on-disk artifacts
	// are only replaced once the full write succeeds.
	Save(ctx context.Context) error

	// Search returns the k nearest chunks for a query string.
	Search(ctx context.Context, query string, k int) ([]chunk.Chunk, error)

	// SearchWithScore returns the k nearest chunks with scores.
	SearchWithScore(ctx context.Context, query string, k int) ([]SearchResult, error)

	// SearchVector returns the k nearest chunks for a query embedding.
	SearchVector(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Count returns the number of indexed chunks, placeholder included.
	Count() int

	// Close releases the underlying index resources.
	Close() error
}

// Backend creates and loads store indexes rooted at directories.
type Backend interface {
	// Create builds a new index at dir from the given chunks and
	// persists it. The chunks must be non-empty.
	Create(ctx context.Context, dir string, chunks []chunk.Chunk) (Handle, error)

	// Load opens the index persisted at dir. Returns ErrStoreMissing
	// when no valid store exists there; any other error means the store
	// exists but could not be read.
	Load(ctx context.Context, dir string) (Handle, error)

	// Exists reports whether dir holds a complete persisted store.
	Exists(dir string) bool
}
