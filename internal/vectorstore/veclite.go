package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/veclite"

	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/embed"
)

const (
	// IndexFile is the primary index artifact inside a store directory.
	IndexFile = "vectors.veclite"
	// ManifestFile is the side metadata artifact inside a store directory.
	ManifestFile = "manifest.json"

	collectionName = "chunks"
)

// Manifest is the side metadata persisted next to the index artifact.
type Manifest struct {
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	ChunkCount int       `json:"chunk_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// VecLiteBackend implements Backend using veclite with HNSW indexing.
// Chunk text and provenance are stored in the vector payload.
type VecLiteBackend struct {
	provider embed.Provider
}

// NewVecLiteBackend creates a backend that embeds chunk text through the
// given provider.
func NewVecLiteBackend(provider embed.Provider) *VecLiteBackend {
	return &VecLiteBackend{provider: provider}
}

// Create builds a new index at dir from the given chunks and persists it.
func (b *VecLiteBackend) Create(ctx context.Context, dir string, chunks []chunk.Chunk) (Handle, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot create index without chunks")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := veclite.Open(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	coll, err := db.CreateCollection(collectionName,
		veclite.WithDimension(b.provider.Dimensions()),
		veclite.WithDistanceType(veclite.DistanceCosine),
		veclite.WithHNSW(16, 200), // M=16, efConstruction=200
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create collection: %w", err)
	}

	h := &vecLiteHandle{
		db:       db,
		coll:     coll,
		provider: b.provider,
		dir:      dir,
	}

	if err := h.AddChunks(ctx, chunks); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := h.Save(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return h, nil
}

// Load opens the index persisted at dir.
func (b *VecLiteBackend) Load(ctx context.Context, dir string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !b.Exists(dir) {
		return nil, ErrStoreMissing
	}

	manifest, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if manifest.Dimensions != b.provider.Dimensions() {
		return nil, fmt.Errorf("%w: index has %d, provider has %d",
			embed.ErrDimensionMismatch, manifest.Dimensions, b.provider.Dimensions())
	}

	db, err := veclite.Open(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	coll, err := db.GetCollection(collectionName)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("get collection: %w", err)
	}

	return &vecLiteHandle{
		db:       db,
		coll:     coll,
		provider: b.provider,
		dir:      dir,
	}, nil
}

// Exists reports whether dir holds both artifacts, non-empty.
func (b *VecLiteBackend) Exists(dir string) bool {
	for _, name := range []string{IndexFile, ManifestFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			return false
		}
	}
	return true
}

// vecLiteHandle is an open veclite index for one store.
type vecLiteHandle struct {
	db       *veclite.DB
	coll     *veclite.Collection
	provider embed.Provider
	dir      string
}

// AddChunks embeds and indexes the given chunks.
func (h *vecLiteHandle) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings, err := h.provider.EmbedBatch(ctx, chunk.Texts(chunks))
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := map[string]any{
			"source":         c.Source,
			"ordinal":        c.Ordinal,
			"content":        c.Content,
			"is_placeholder": c.IsPlaceholder,
		}
		if _, err := h.coll.Insert(embeddings[i], payload); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	return nil
}

// Save persists the index, then rewrites the manifest. The manifest is
// written last via rename so a failed save never leaves a manifest that
// describes an index state that was not flushed.
func (h *vecLiteHandle) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := h.db.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}

	manifest := Manifest{
		Dimensions: h.provider.Dimensions(),
		Model:      h.provider.Model(),
		ChunkCount: h.coll.Count(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := writeManifest(filepath.Join(h.dir, ManifestFile), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Search returns the k nearest chunks for a query string.
func (h *vecLiteHandle) Search(ctx context.Context, query string, k int) ([]chunk.Chunk, error) {
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

// SearchWithScore returns the k nearest chunks with similarity scores.
func (h *vecLiteHandle) SearchWithScore(ctx context.Context, query string, k int) ([]SearchResult, error) {
	vector, err := h.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return h.SearchVector(ctx, vector, k)
}

// SearchVector returns the k nearest chunks for a query embedding.
func (h *vecLiteHandle) SearchVector(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := h.coll.Search(vector, veclite.TopK(k))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Chunk:  recordToChunk(r.Record),
			Score:  1 - r.Score, // cosine distance to similarity
			Vector: r.Record.Vector,
		})
	}
	return out, nil
}

// Count returns the number of indexed chunks, placeholder included.
func (h *vecLiteHandle) Count() int {
	return h.coll.Count()
}

// Close closes the underlying veclite database.
func (h *vecLiteHandle) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

func recordToChunk(r *veclite.Record) chunk.Chunk {
	return chunk.Chunk{
		Source:        getStringPayload(r.Payload, "source"),
		Ordinal:       getIntPayload(r.Payload, "ordinal"),
		Content:       getStringPayload(r.Payload, "content"),
		IsPlaceholder: getBoolPayload(r.Payload, "is_placeholder"),
	}
}

func readManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// writeManifest writes the manifest atomically via temp file + rename.
func writeManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Payload extraction helpers

func getStringPayload(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getIntPayload(payload map[string]any, key string) int {
	if v, ok := payload[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func getBoolPayload(payload map[string]any, key string) bool {
	if v, ok := payload[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
