// Package mcp exposes docchat operations as MCP tools over stdio,
// using the official SDK.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docchat-ai/docchat/internal/chat"
	"github.com/docchat-ai/docchat/internal/chunk"
	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/retrieve"
	"github.com/docchat-ai/docchat/internal/search"
	"github.com/docchat-ai/docchat/internal/store"
	"github.com/docchat-ai/docchat/internal/version"
)

// IngestInput is the input for docchat_ingest.
type IngestInput struct {
	DocumentID string `json:"document_id" jsonschema:"Identifier for the document, typically its file name."`
	Content    string `json:"content" jsonschema:"Full text content of the document to ingest."`
}

// SearchInput is the input for docchat_search.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"Natural language search query."`
	Store    string `json:"store,omitempty" jsonschema:"Store to search. Defaults to the combined store holding all documents."`
	Strategy string `json:"strategy,omitempty" jsonschema:"Ranking strategy: similarity, mmr, or threshold."`
	K        int    `json:"k,omitempty" jsonschema:"Number of chunks to return."`
}

// AskInput is the input for docchat_ask.
type AskInput struct {
	Question string `json:"question" jsonschema:"Question to answer from the ingested documents."`
}

// StoresInput is the input for docchat_stores (empty).
type StoresInput struct{}

// SearchService is the query surface the tools need.
type SearchService interface {
	Search(ctx context.Context, query string, opts search.Options) ([]retrieve.ScoredChunk, error)
	Stores() ([]string, error)
}

// DocumentWriter persists a document's chunks.
type DocumentWriter interface {
	AddDocument(ctx context.Context, documentID string, chunks []chunk.Chunk) (*store.WriteOutcome, error)
}

// Asker answers questions over the ingested documents. May be nil.
type Asker interface {
	Ask(ctx context.Context, question string, prior []history.Message) (*chat.Answer, error)
}

// ServerConfig contains dependencies for the MCP server.
type ServerConfig struct {
	Searcher SearchService
	Writer   DocumentWriter
	Splitter *chunk.Splitter
	Asker    Asker
}

// Server wraps the official MCP SDK server.
type Server struct {
	server   *sdkmcp.Server
	searcher SearchService
	writer   DocumentWriter
	splitter *chunk.Splitter
	asker    Asker
}

// NewServer creates the MCP server and registers the docchat tools.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		searcher: cfg.Searcher,
		writer:   cfg.Writer,
		splitter: cfg.Splitter,
		asker:    cfg.Asker,
	}
	if s.splitter == nil {
		s.splitter = chunk.NewSplitter(chunk.SplitterConfig{})
	}

	s.server = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "docchat",
		Version: version.Version,
	}, &sdkmcp.ServerOptions{
		Instructions: "docchat answers questions about ingested documents using vector retrieval. " +
			"Use docchat_ingest to add documents, docchat_search to find relevant chunks, " +
			"docchat_ask to get a grounded answer, and docchat_stores to list the available stores.",
	})

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "docchat_ingest",
		Description: "Ingest a document. The content is chunked and written to both the document's own store and the combined store.",
	}, s.handleIngest)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "docchat_search",
		Description: "Semantic search over ingested documents. Returns the most relevant chunks with their source documents.",
	}, s.handleSearch)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "docchat_ask",
		Description: "Answer a question using retrieved document context. Requires a configured chat backend.",
	}, s.handleAsk)

	sdkmcp.AddTool(s.server, &sdkmcp.Tool{
		Name:        "docchat_stores",
		Description: "List the available stores: one per ingested document plus the combined store.",
	}, s.handleStores)

	return s
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) handleIngest(ctx context.Context, req *sdkmcp.CallToolRequest, input IngestInput) (*sdkmcp.CallToolResult, any, error) {
	if input.DocumentID == "" {
		return errorResult("'document_id' is required"), nil, nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return errorResult("'content' is required"), nil, nil
	}

	chunks := s.splitter.Split(input.Content, input.DocumentID)
	outcome, err := s.writer.AddDocument(ctx, input.DocumentID, chunks)
	if err != nil {
		return errorResult(fmt.Sprintf("Ingest failed: %v", err)), nil, nil
	}

	text := fmt.Sprintf("Ingested %q: %d chunks added.", outcome.Document, outcome.ChunksAdded)
	if !outcome.Individual.OK {
		text += " Note: the per-document store update failed; the combined store was updated."
	}
	return textResult(text), nil, nil
}

func (s *Server) handleSearch(ctx context.Context, req *sdkmcp.CallToolRequest, input SearchInput) (*sdkmcp.CallToolResult, any, error) {
	if input.Query == "" {
		return errorResult("'query' is required"), nil, nil
	}

	kind, err := retrieve.ParseKind(input.Strategy)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	var strategy retrieve.Strategy
	switch kind {
	case retrieve.KindMMR:
		strategy = retrieve.MMR(input.K)
	case retrieve.KindThreshold:
		strategy = retrieve.Threshold(input.K)
	default:
		strategy = retrieve.Similarity(input.K)
	}

	results, err := s.searcher.Search(ctx, input.Query, search.Options{Store: input.Store, Strategy: strategy})
	if err != nil {
		if errors.Is(err, store.ErrNotFoundNoSeed) {
			return errorResult(fmt.Sprintf("Store %q does not exist. Use docchat_stores to list stores.", input.Store)), nil, nil
		}
		return errorResult(fmt.Sprintf("Search failed: %v", err)), nil, nil
	}
	if len(results) == 0 {
		return textResult("No matching chunks found."), nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d chunks:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (chunk %d)", i+1, r.Source, r.Ordinal)
		if r.Scored {
			fmt.Fprintf(&b, " score=%.3f", r.Score)
		}
		fmt.Fprintf(&b, "\n%s\n\n", r.Content)
	}
	return textResult(b.String()), nil, nil
}

func (s *Server) handleAsk(ctx context.Context, req *sdkmcp.CallToolRequest, input AskInput) (*sdkmcp.CallToolResult, any, error) {
	if s.asker == nil {
		return errorResult("No chat backend is configured. Set an OpenAI API key to enable docchat_ask."), nil, nil
	}
	if input.Question == "" {
		return errorResult("'question' is required"), nil, nil
	}

	answer, err := s.asker.Ask(ctx, input.Question, nil)
	if err != nil {
		return errorResult(fmt.Sprintf("Ask failed: %v", err)), nil, nil
	}

	text := answer.Text
	if len(answer.Sources) > 0 {
		text += "\n\nSources: " + strings.Join(answer.Sources, ", ")
	}
	return textResult(text), nil, nil
}

func (s *Server) handleStores(ctx context.Context, req *sdkmcp.CallToolRequest, input StoresInput) (*sdkmcp.CallToolResult, any, error) {
	stores, err := s.searcher.Stores()
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list stores: %v", err)), nil, nil
	}
	if len(stores) == 0 {
		return textResult("No stores yet. Ingest a document to create one."), nil, nil
	}
	return textResult("Stores:\n" + strings.Join(stores, "\n")), nil, nil
}

func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
		IsError: true,
	}
}
