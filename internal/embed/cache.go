package embed

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache is an in-memory LRU cache of embedding vectors keyed by text hash.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // most recently used at the front
	maxSize int
}

type cacheEntry struct {
	key    string
	vector []float32
}

// NewCache creates a Cache holding at most maxSize embeddings.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Get retrieves an embedding from the cache.
func (c *Cache) Get(text string) ([]float32, bool) {
	key := cacheKey(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)

	vector := elem.Value.(*cacheEntry).vector
	result := make([]float32, len(vector))
	copy(result, vector)
	return result, true
}

// Set stores an embedding, evicting the least recently used entry when full.
func (c *Cache) Set(text string, vector []float32) {
	key := cacheKey(text)

	vectorCopy := make([]float32, len(vector))
	copy(vectorCopy, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).vector = vectorCopy
		c.order.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vector: vectorCopy})
}

// Size returns the current number of cached embeddings.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CachedProvider wraps an embedding provider with an LRU cache.
type CachedProvider struct {
	inner Provider
	cache *Cache
}

// WithCache wraps a Provider with a Cache of the given size.
func WithCache(p Provider, cacheSize int) Provider {
	return &CachedProvider{
		inner: p,
		cache: NewCache(cacheSize),
	}
}

// Embed generates an embedding for the given text, using the cache if possible.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, found := c.cache.Get(text); found {
		return cached, nil
	}

	embedding, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, embedding)
	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts, using the cache
// where available and batching only the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if cached, found := c.cache.Get(text); found {
			results[i] = cached
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embeddings, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for i, idx := range missIndices {
		results[idx] = embeddings[i]
		c.cache.Set(missTexts[i], embeddings[i])
	}

	return results, nil
}

// Model returns the name of the embedding model being used.
func (c *CachedProvider) Model() string {
	return c.inner.Model()
}

// Dimensions returns the dimensionality of the embedding vectors.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Ping checks if the underlying provider is available.
func (c *CachedProvider) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}
