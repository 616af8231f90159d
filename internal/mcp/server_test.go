package mcp

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docchat-ai/docchat/internal/chat"
	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/search"
	"github.com/docchat-ai/docchat/internal/store"
)

type fakeSearcher struct {
	results []retrieve.ScoredChunk
	err     error
	stores  []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) ([]retrieve.ScoredChunk, error) {
	return f.results, f.err
}

func (f *fakeSearcher) Stores() ([]string, error) { return f.stores, nil }

type fakeWriter struct {
	lastDoc string
	err     error
}

func (f *fakeWriter) AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*store.WriteOutcome, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastDoc = documentID
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

func resultText(t *testing.T, res *sdkmcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("Result has no content")
	}
	tc, ok := res.Content[0].(*sdkmcp.TextContent)
	if !ok {
		t.Fatalf("Content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestHandleIngest(t *testing.T) {
	writer := &fakeWriter{}
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: writer})

	res, _, err := s.handleIngest(context.Background(), nil, IngestInput{
		DocumentID: "guide.txt",
		Content:    "Retries use exponential backoff.",
	})
	if err != nil {
		t.Fatalf("handleIngest returned error: %v", err)
	}
	if res.IsError {
		t.Fatalf("Unexpected tool error: %s", resultText(t, res))
	}
	if writer.lastDoc != "guide.txt" {
		t.Errorf("Document = %q", writer.lastDoc)
	}
	if !strings.Contains(resultText(t, res), "guide.txt") {
		t.Errorf("Result should name the document: %s", resultText(t, res))
	}
}

func TestHandleIngest_Validation(t *testing.T) {
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: &fakeWriter{}})

	for _, input := range []IngestInput{
		{Content: "text"},
		{DocumentID: "a.txt"},
		{DocumentID: "a.txt", Content: "   "},
	} {
		res, _, err := s.handleIngest(context.Background(), nil, input)
		if err != nil {
			t.Fatal(err)
		}
		if !res.IsError {
			t.Errorf("Input %+v should produce a tool error", input)
		}
	}
}

func TestHandleSearch(t *testing.T) {
	searcher := &fakeSearcher{results: []retrieve.ScoredChunk{
		{Chunk: chunk.Chunk{Source: "guide.txt", Ordinal: 2, Content: "backoff details"}, Score: 0.82, Scored: true},
	}}
	s := NewServer(ServerConfig{Searcher: searcher, Writer: &fakeWriter{}})

	res, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "backoff", Strategy: "threshold"})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "guide.txt") || !strings.Contains(text, "backoff details") {
		t.Errorf("Result missing chunk info: %s", text)
	}
	if !strings.Contains(text, "score=0.820") {
		t.Errorf("Scored result should show its score: %s", text)
	}
}

func TestHandleSearch_UnknownStore(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("store %q: %w", "nope", store.ErrNotFoundNoSeed)}
	s := NewServer(ServerConfig{Searcher: searcher, Writer: &fakeWriter{}})

	res, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "q", Store: "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("Missing store should produce a tool error")
	}
	if !strings.Contains(resultText(t, res), "does not exist") {
		t.Errorf("Error should explain the missing store: %s", resultText(t, res))
	}
}

func TestHandleSearch_NoResults(t *testing.T) {
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: &fakeWriter{}})
	res, _, err := s.handleSearch(context.Background(), nil, SearchInput{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Error("Empty results are not an error")
	}
}

func TestHandleAsk(t *testing.T) {
	asker := &fakeAsker{answer: &chat.Answer{Text: "It retries.", Sources: []string{"guide.txt"}}}
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: &fakeWriter{}, Asker: asker})

	res, _, err := s.handleAsk(context.Background(), nil, AskInput{Question: "How do retries work?"})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "It retries.") || !strings.Contains(text, "guide.txt") {
		t.Errorf("Answer missing content or sources: %s", text)
	}
}

func TestHandleAsk_NoBackend(t *testing.T) {
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: &fakeWriter{}})
	res, _, err := s.handleAsk(context.Background(), nil, AskInput{Question: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("Missing chat backend should produce a tool error")
	}
}

func TestHandleStores(t *testing.T) {
	s := NewServer(ServerConfig{
		Searcher: &fakeSearcher{stores: []string{"combined", "guide"}},
		Writer:   &fakeWriter{},
	})
	res, _, err := s.handleStores(context.Background(), nil, StoresInput{})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "combined") || !strings.Contains(text, "guide") {
		t.Errorf("Stores missing from listing: %s", text)
	}
}

func TestHandleStores_Empty(t *testing.T) {
	s := NewServer(ServerConfig{Searcher: &fakeSearcher{}, Writer: &fakeWriter{}})
	res, _, err := s.handleStores(context.Background(), nil, StoresInput{})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Error("Empty store list is not an error")
	}
}
