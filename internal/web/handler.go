package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/docchat-ai/docchat/internal/chat"
	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/search"
	"github.com/docchat-ai/docchat/internal/store"
	"github.com/docchat-ai/docchat/internal/version"
)

// SearchService is the query surface the handlers need. Satisfied by
// search.Searcher.
type SearchService interface {
	Search(ctx context.Context, query string, opts search.Options) ([]retrieve.ScoredChunk, error)
	Stores() ([]string, error)
}

// DocumentWriter persists a document's chunks.
type DocumentWriter interface {
	AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*store.WriteOutcome, error)
}

// Splitter turns document content into chunks.
type Splitter interface {
	Split(content, source string) []chunk.Chunk
}

// Asker answers a question over the ingested documents. Nil when no
// chat backend is configured.
type Asker interface {
	Ask(ctx context.Context, question string, prior []history.Message) (*chat.Answer, error)
}

// Handler handles HTTP requests.
type Handler struct {
	searcher SearchService
	writer   DocumentWriter
	splitter Splitter
	asker    Asker
}

// NewHandler creates a Handler. asker may be nil; /api/ask then returns
// 503.
func NewHandler(searcher SearchService, writer DocumentWriter, splitter Splitter, asker Asker) *Handler {
	return &Handler{searcher: searcher, writer: writer, splitter: splitter, asker: asker}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status":  "ok",
		"version": version.Short(),
	})
}

// ListStores returns the known store names.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.searcher.Stores()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if stores == nil {
		stores = []string{}
	}
	h.jsonResponse(w, map[string]any{
		"count":  len(stores),
		"stores": stores,
	})
}

// Status reports server status and store count.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	stores, err := h.searcher.Stores()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]any{
		"version":      version.Full(),
		"store_count":  len(stores),
		"chat_enabled": h.asker != nil,
	})
}

type addDocumentRequest struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
}

// AddDocument splits the posted content and writes it through the
// dual-write coordinator.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		h.jsonError(w, "document_id is required", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		h.jsonError(w, "content is required", http.StatusBadRequest)
		return
	}

	chunks := h.splitter.Split(req.Content, req.DocumentID)
	if len(chunks) == 0 {
		h.jsonError(w, "content produced no chunks", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	outcome, err := h.writer.AddDocument(ctx, req.DocumentID, chunks)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"document_id":  outcome.Document,
		"chunks_added": outcome.ChunksAdded,
		"individual":   outcome.Individual.OK,
		"combined":     outcome.Combined.OK,
	})
}

type searchRequest struct {
	Query    string `json:"query"`
	Store    string `json:"store,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	K        int    `json:"k,omitempty"`
}

type searchResultItem struct {
	Source  string  `json:"source"`
	Ordinal int     `json:"ordinal"`
	Content string  `json:"content"`
	Score   float32 `json:"score,omitempty"`
}

// Search runs a retrieval strategy and returns the matching chunks.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.jsonError(w, "query is required", http.StatusBadRequest)
		return
	}

	kind, err := retrieve.ParseKind(req.Strategy)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var strategy retrieve.Strategy
	switch kind {
	case retrieve.KindMMR:
		strategy = retrieve.MMR(req.K)
	case retrieve.KindThreshold:
		strategy = retrieve.Threshold(req.K)
	default:
		strategy = retrieve.Similarity(req.K)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	results, err := h.searcher.Search(ctx, req.Query, search.Options{Store: req.Store, Strategy: strategy})
	if err != nil {
		if errors.Is(err, store.ErrNotFoundNoSeed) {
			h.jsonError(w, "store not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]searchResultItem, len(results))
	for i, res := range results {
		items[i] = searchResultItem{
			Source:  res.Source,
			Ordinal: res.Ordinal,
			Content: res.Content,
			Score:   res.Score,
		}
	}
	h.jsonResponse(w, map[string]any{
		"query":   req.Query,
		"count":   len(items),
		"results": items,
	})
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask answers a question grounded in the ingested documents.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.asker == nil {
		h.jsonError(w, "chat backend not configured", http.StatusServiceUnavailable)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		h.jsonError(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	answer, err := h.asker.Ask(ctx, req.Question, nil)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []string{}
	}
	h.jsonResponse(w, map[string]any{
		"answer":  answer.Text,
		"sources": sources,
	})
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
