package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docchat-ai/docchat/internal/chat"
	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/search"
	"github.com/docchat-ai/docchat/internal/store"
)

type fakeSearchService struct {
	results  []retrieve.ScoredChunk
	err      error
	stores   []string
	lastOpts search.Options
}

func (f *fakeSearchService) Search(ctx context.Context, query string, opts search.Options) ([]retrieve.ScoredChunk, error) {
	f.lastOpts = opts
	return f.results, f.err
}

func (f *fakeSearchService) Stores() ([]string, error) { return f.stores, nil }

type fakeWriter struct {
	lastDoc string
	chunks  int
	err     error
}

func (f *fakeWriter) AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*store.WriteOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastDoc = documentID
	f.chunks = len(chunks)
	return &store.WriteOutcome{
		Document:    documentID,
		ChunksAdded: len(chunks),
		Individual:  store.SideResult{OK: true},
		Combined:    store.SideResult{OK: true},
	}, nil
}

type fakeAsker struct {
	answer *chat.Answer
	err    error
}

func (f *fakeAsker) Ask(ctx context.Context, question string, prior []history.Message) (*chat.Answer, error) {
	return f.answer, f.err
}

func newTestServer(searcher SearchService, writer DocumentWriter, asker Asker) *Server {
	h := NewHandler(searcher, writer, chunk.NewSplitter(chunk.SplitterConfig{}), asker)
	return NewServer(ServerConfig{Host: "localhost", Port: 0}, h)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	if decode(t, rec)["status"] != "ok" {
		t.Error("Expected ok status")
	}
}

func TestListStores(t *testing.T) {
	srv := newTestServer(&fakeSearchService{stores: []string{"combined", "guide"}}, &fakeWriter{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/stores", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}
}

func TestAddDocument(t *testing.T) {
	writer := &fakeWriter{}
	srv := newTestServer(&fakeSearchService{}, writer, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/documents",
		`{"document_id": "guide.txt", "content": "Retries use exponential backoff."}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
	}
	if writer.lastDoc != "guide.txt" {
		t.Errorf("Document = %q", writer.lastDoc)
	}
	if writer.chunks == 0 {
		t.Error("Expected chunks to be written")
	}
}

func TestAddDocument_Validation(t *testing.T) {
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{}, nil)

	for _, body := range []string{
		`not json`,
		`{"content": "x"}`,
		`{"document_id": "a.txt"}`,
	} {
		rec := doJSON(t, srv, http.MethodPost, "/api/documents", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestAddDocument_WriterFailure(t *testing.T) {
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{err: fmt.Errorf("both sides failed")}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/documents",
		`{"document_id": "a.txt", "content": "text"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	svc := &fakeSearchService{results: []retrieve.ScoredChunk{
		{Chunk: chunk.Chunk{Source: "guide.txt", Content: "backoff"}, Score: 0.8, Scored: true},
	}}
	srv := newTestServer(svc, &fakeWriter{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/search",
		`{"query": "backoff", "store": "guide", "strategy": "threshold", "k": 3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := decode(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
	if svc.lastOpts.Store != "guide" {
		t.Errorf("Store = %q", svc.lastOpts.Store)
	}
	if svc.lastOpts.Strategy.Kind != retrieve.KindThreshold {
		t.Errorf("Strategy = %v", svc.lastOpts.Strategy.Kind)
	}
	if svc.lastOpts.Strategy.K != 3 {
		t.Errorf("K = %d", svc.lastOpts.Strategy.K)
	}
}

func TestSearchEndpoint_UnknownStore(t *testing.T) {
	svc := &fakeSearchService{err: fmt.Errorf("store %q: %w", "nope", store.ErrNotFoundNoSeed)}
	srv := newTestServer(svc, &fakeWriter{}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/search", `{"query": "q", "store": "nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestSearchEndpoint_BadStrategy(t *testing.T) {
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/search", `{"query": "q", "strategy": "bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestAsk(t *testing.T) {
	asker := &fakeAsker{answer: &chat.Answer{Text: "It retries.", Sources: []string{"guide.txt"}}}
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{}, asker)

	rec := doJSON(t, srv, http.MethodPost, "/api/ask", `{"question": "How do retries work?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["answer"] != "It retries." {
		t.Errorf("answer = %v", body["answer"])
	}
}

func TestAsk_NoBackend(t *testing.T) {
	srv := newTestServer(&fakeSearchService{}, &fakeWriter{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/ask", `{"question": "q"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", rec.Code)
	}
}
