// Package store tracks named similarity-search stores: one combined
// store holding every document plus one store per individual document.
// The registry is the single source of truth for which stores exist and
// which are loaded; the coordinator keeps the per-document and combined
// stores in sync on writes.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/vectorstore"
)

// CombinedStore is the name of the store of record that holds chunks
// from every document. It always exists after initialization, seeded
// with a placeholder entry when there is no real content yet.
const CombinedStore = "combined"

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Dir is the directory under which each store gets its own
	// subdirectory. A store's directory never changes after creation.
	Dir string

	// MaxOpenStores bounds the number of handles kept in memory.
	// When exceeded, the least recently used store other than
	// "combined" is closed and evicted. Zero means no eviction.
	MaxOpenStores int
}

// Registry mediates lazy load/create of stores and caches open handles.
// All load/create/append/save sequences for a given store name are
// serialized; distinct names proceed concurrently.
type Registry struct {
	backend vectorstore.Backend
	config  RegistryConfig

	mu      sync.Mutex // guards entries map and every entry's handle field
	entries map[string]*storeEntry
}

// storeEntry holds the cached state for one store name. opMu serializes
// the I/O sequences (load-or-create, append-then-save); the handle
// pointer and refs are guarded by Registry.mu. refs counts handles
// handed out by LoadOrCreate and not yet released; a pinned entry is
// never evicted.
type storeEntry struct {
	opMu     sync.Mutex
	handle   vectorstore.Handle
	refs     int
	lastUsed time.Time
}

// NewRegistry creates a Registry over the given backend.
func NewRegistry(backend vectorstore.Backend, cfg RegistryConfig) *Registry {
	return &Registry{
		backend: backend,
		config:  cfg,
		entries: make(map[string]*storeEntry),
	}
}

// Init ensures the combined store exists, creating it with a placeholder
// seed when needed.
func (r *Registry) Init(ctx context.Context) error {
	_, err := r.LoadOrCreate(ctx, CombinedStore, nil)
	if err != nil {
		return err
	}
	r.Release(CombinedStore)
	return nil
}

// LoadOrCreate returns the handle for name, loading or creating as
// needed. A cached handle is returned without I/O. When the store is
// absent on disk it is created from chunks; with no chunks, only the
// combined store may be bootstrapped (with a placeholder seed) and any
// other name fails with ErrNotFoundNoSeed.
//
// The returned handle is pinned: it stays open until the caller pairs
// this call with Release(name), so eviction cannot close it mid-use.
func (r *Registry) LoadOrCreate(ctx context.Context, name string, chunks []chunk.Chunk) (vectorstore.Handle, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	e := r.entry(name)
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if h := r.cachedHandle(e); h != nil {
		r.pin(e)
		return h, nil
	}

	h, _, err := r.loadOrCreateLocked(ctx, name, e, chunks)
	if err != nil {
		return nil, err
	}
	r.pin(e)
	return h, nil
}

// Release returns a handle obtained from LoadOrCreate, making the store
// eligible for eviction again. It never closes anything; the registry
// owns closing.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && e.refs > 0 {
		e.refs--
	}
}

func (r *Registry) pin(e *storeEntry) {
	r.mu.Lock()
	e.refs++
	r.mu.Unlock()
}

// Append adds chunks to the named store and persists it, creating the
// store when it does not exist yet. The load-append-save sequence holds
// the store's lock so concurrent writers to the same name cannot
// interleave. Returns whether the store was created by this call.
func (r *Registry) Append(ctx context.Context, name string, chunks []chunk.Chunk) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	if len(chunks) == 0 {
		return false, fmt.Errorf("append to %q: no chunks", name)
	}

	e := r.entry(name)
	e.opMu.Lock()
	defer e.opMu.Unlock()

	h := r.cachedHandle(e)
	if h == nil {
		var created bool
		var err error
		h, created, err = r.loadOrCreateLocked(ctx, name, e, chunks)
		if err != nil {
			return false, err
		}
		if created {
			// Creation already indexed and persisted the chunks.
			return true, nil
		}
	}

	if err := h.AddChunks(ctx, chunks); err != nil {
		return false, err
	}
	if err := h.Save(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// loadOrCreateLocked performs the actual load/create. The caller must
// hold e.opMu. The handle is cached only after the operation fully
// succeeds, so an abandoned or failed create never marks the store
// loaded.
func (r *Registry) loadOrCreateLocked(ctx context.Context, name string, e *storeEntry, chunks []chunk.Chunk) (vectorstore.Handle, bool, error) {
	dir := r.storePath(name)

	h, err := r.backend.Load(ctx, dir)
	if err == nil {
		r.cacheHandle(name, e, h)
		return h, false, nil
	}

	if !errors.Is(err, vectorstore.ErrStoreMissing) {
		return nil, false, &LoadError{Name: name, Err: err}
	}

	seed := chunks
	if len(seed) == 0 {
		if name != CombinedStore {
			return nil, false, fmt.Errorf("store %q: %w", name, ErrNotFoundNoSeed)
		}
		seed = []chunk.Chunk{chunk.Placeholder()}
	}

	h, err = r.backend.Create(ctx, dir, seed)
	if err != nil {
		return nil, false, fmt.Errorf("create store %q: %w", name, err)
	}

	r.cacheHandle(name, e, h)
	return h, true, nil
}

// StoreExists reports whether the store is loaded or fully persisted on
// disk (both artifacts present and non-empty).
func (r *Registry) StoreExists(name string) bool {
	if r.IsLoaded(name) {
		return true
	}
	if validateName(name) != nil {
		return false
	}
	return r.backend.Exists(r.storePath(name))
}

// IsLoaded reports whether a handle for name is cached in memory.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.handle != nil
}

// ListStores enumerates store names from the persistent directory
// listing, independent of what is currently cached.
func (r *Registry) ListStores() ([]string, error) {
	dirEntries, err := os.ReadDir(r.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list stores: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		if r.backend.Exists(filepath.Join(r.config.Dir, de.Name())) {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every cached handle and empties the cache.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, e := range r.entries {
		if e.handle != nil {
			if err := e.handle.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("close store %q: %w", name, err)
			}
			e.handle = nil
		}
	}
	return firstErr
}

// entry returns the storeEntry for name, creating it if needed.
func (r *Registry) entry(name string) *storeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		e = &storeEntry{}
		r.entries[name] = e
	}
	return e
}

// cachedHandle returns the entry's handle and refreshes its LRU stamp.
func (r *Registry) cachedHandle(e *storeEntry) vectorstore.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.handle != nil {
		e.lastUsed = time.Now()
	}
	return e.handle
}

// cacheHandle stores the handle for name and applies the eviction bound.
func (r *Registry) cacheHandle(name string, e *storeEntry, h vectorstore.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.handle = h
	e.lastUsed = time.Now()

	if r.config.MaxOpenStores <= 0 {
		return
	}

	loaded := 0
	for _, other := range r.entries {
		if other.handle != nil {
			loaded++
		}
	}

	for loaded > r.config.MaxOpenStores {
		victim := r.pickEvictionVictim(e)
		if victim == nil {
			return
		}
		_ = victim.handle.Close()
		victim.handle = nil
		victim.opMu.Unlock()
		loaded--
	}
}

// pickEvictionVictim returns the least recently used loaded entry other
// than the combined store and the entry just touched, with its opMu
// held. Entries pinned by an unreleased LoadOrCreate and entries with
// an operation in flight are skipped rather than waited on. Caller must
// hold r.mu.
func (r *Registry) pickEvictionVictim(current *storeEntry) *storeEntry {
	var victim *storeEntry
	for name, e := range r.entries {
		if e == current || e.handle == nil || e.refs > 0 || name == CombinedStore {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victim = e
		}
	}
	if victim == nil {
		return nil
	}
	if !victim.opMu.TryLock() {
		return nil
	}
	return victim
}

// storePath returns the backing directory for a store. It never changes
// after creation.
func (r *Registry) storePath(name string) string {
	return filepath.Join(r.config.Dir, name)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("store name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid store name: %q", name)
	}
	return nil
}
