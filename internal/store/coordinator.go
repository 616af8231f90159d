package store

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docchat-ai/docchat/internal/chunk"
)

// SideResult reports the outcome of one target of a dual write.
type SideResult struct {
	Store   string
	OK      bool
	Created bool
	Err     error
}

// WriteOutcome reports the result of AddDocument. The write as a whole
// succeeded if at least one side did.
type WriteOutcome struct {
	Document    string
	ChunksAdded int
	Individual  SideResult
	Combined    SideResult
}

// Succeeded reports whether at least one write target was updated.
func (o *WriteOutcome) Succeeded() bool {
	return o.Individual.OK || o.Combined.OK
}

// Coordinator updates a document's individual store and the combined
// store together. The two targets are attempted independently: a
// failure on one side never blocks the other, and only a failure of
// both is an error. The individual store is a convenience view for
// per-document queries; the combined store is the store of record.
type Coordinator struct {
	registry *Registry
}

// NewCoordinator creates a Coordinator over the given registry.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{registry: registry}
}

// StoreNameForDocument derives the individual store name for a document
// identifier by taking its base name and stripping the extension.
func StoreNameForDocument(documentID string) string {
	base := filepath.Base(strings.TrimSpace(documentID))
	name := strings.TrimSuffix(base, filepath.Ext(base))
	// A document literally named after the combined store would
	// otherwise write its individual view into the store of record.
	if name == CombinedStore {
		name += "-doc"
	}
	return name
}

// AddDocument writes the document's chunks to its individual store and
// to the combined store. The two writes proceed concurrently; each
// store's own append-then-save sequence is serialized by the registry.
// Returns an *AggregateWriteError only when both sides fail.
func (c *Coordinator) AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*WriteOutcome, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("add document %q: no chunks", documentID)
	}

	individualName := StoreNameForDocument(documentID)
	if individualName == "" || individualName == "." {
		return nil, fmt.Errorf("add document: cannot derive store name from %q", documentID)
	}

	outcome := &WriteOutcome{
		Document:    documentID,
		ChunksAdded: len(chunks),
		Individual:  SideResult{Store: individualName},
		Combined:    SideResult{Store: CombinedStore},
	}

	var wg sync.WaitGroup
	for _, side := range []*SideResult{&outcome.Individual, &outcome.Combined} {
		wg.Add(1)
		go func(side *SideResult) {
			defer wg.Done()
			created, err := c.registry.Append(ctx, side.Store, chunks)
			if err != nil {
				side.Err = &WriteError{Store: side.Store, Err: err}
				return
			}
			side.OK = true
			side.Created = created
		}(side)
	}
	wg.Wait()

	if !outcome.Succeeded() {
		return nil, &AggregateWriteError{
			Individual: outcome.Individual.Err.(*WriteError),
			Combined:   outcome.Combined.Err.(*WriteError),
		}
	}

	// A one-sided failure is absorbed: the document remains queryable
	// through the side that succeeded.
	for _, side := range []SideResult{outcome.Individual, outcome.Combined} {
		if side.Err != nil {
			log.Printf("store: partial write for %q: %v", documentID, side.Err)
		}
	}

	return outcome, nil
}
