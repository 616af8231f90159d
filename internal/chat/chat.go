// Package chat answers questions about ingested documents by feeding
// retrieved chunks to a chat completion model.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docchat-ai/docchat/internal/history"
	"github.com/docchat-ai/docchat/internal/retrieve"
)

// NoContentAnswer is returned without consulting the model when
// retrieval produces nothing to ground an answer on.
const NoContentAnswer = "I don't have any documents to answer from yet. Ingest some documents first."

const systemPrompt = `You are a documentation assistant. Answer the user's question using only the provided context. If the context does not contain the answer, say so plainly instead of guessing. Cite the source file names you used.`

// Generator produces a chat completion for a conversation.
type Generator interface {
	Complete(ctx context.Context, system string, messages []history.Message) (string, error)
	ModelName() string
}

// Retriever fetches context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieve.ScoredChunk, error)
}

// Answer is the result of one question.
type Answer struct {
	Text    string
	Sources []string
	Chunks  []retrieve.ScoredChunk
}

// Engine wires retrieval and generation together.
type Engine struct {
	retriever Retriever
	generator Generator
}

// NewEngine creates an Engine.
func NewEngine(retriever Retriever, generator Generator) *Engine {
	return &Engine{retriever: retriever, generator: generator}
}

// Ask retrieves context for the question and generates an answer.
// Earlier turns of the conversation, if any, are passed through to the
// model so follow-up questions work.
func (e *Engine) Ask(ctx context.Context, question string, prior []history.Message) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("chat: empty question")
	}

	chunks, err := e.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("chat: retrieve context: %w", err)
	}
	if len(chunks) == 0 {
		return &Answer{Text: NoContentAnswer}, nil
	}

	messages := make([]history.Message, 0, len(prior)+1)
	messages = append(messages, prior...)
	messages = append(messages, history.Message{
		Role:    history.RoleUser,
		Content: buildPrompt(question, chunks),
	})

	text, err := e.generator.Complete(ctx, systemPrompt, messages)
	if err != nil {
		return nil, fmt.Errorf("chat: generate answer: %w", err)
	}

	return &Answer{
		Text:    strings.TrimSpace(text),
		Sources: sourceList(chunks),
		Chunks:  chunks,
	}, nil
}

// buildPrompt assembles the context block and the question.
func buildPrompt(question string, chunks []retrieve.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- %s (chunk %d) ---\n%s\n", c.Source, c.Ordinal, c.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// sourceList returns the distinct source names in the chunk order.
func sourceList(chunks []retrieve.ScoredChunk) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, c := range chunks {
		if !seen[c.Source] {
			seen[c.Source] = true
			sources = append(sources, c.Source)
		}
	}
	sort.Strings(sources)
	return sources
}
