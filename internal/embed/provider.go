// Package embed provides embedding generation for document retrieval.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for embedding providers.
var (
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrModelNotFound       = errors.New("embedding model not found")
	ErrEmptyText           = errors.New("cannot embed empty text")
	ErrContextCanceled     = errors.New("embedding operation canceled")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Provider defines the interface for embedding backends.
type Provider interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts.
	// Returns embeddings in the same order as input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int

	// Ping checks if the provider is available and the model is loaded.
	Ping(ctx context.Context) error
}

// ProviderError wraps errors with provider context.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, op string, err error) error {
	return &ProviderError{
		Provider: provider,
		Op:       op,
		Err:      err,
	}
}

// ProviderType identifies an embedding provider implementation.
type ProviderType string

const (
	// ProviderOllama is the local Ollama embedding provider.
	ProviderOllama ProviderType = "ollama"
	// ProviderOpenAI is the OpenAI embedding provider.
	ProviderOpenAI ProviderType = "openai"
)

// Options configures provider construction via NewProvider.
type Options struct {
	Type       ProviderType
	Model      string
	Dimensions int
	OllamaURL  string
	APIKey     string
	BaseURL    string
	CacheSize  int
}

// NewProvider constructs a Provider from options. The returned provider is
// wrapped with an in-memory cache when CacheSize > 0.
func NewProvider(opts Options) (Provider, error) {
	var p Provider

	switch opts.Type {
	case ProviderOllama, "":
		p = NewOllamaProvider(OllamaConfig{
			URL:        opts.OllamaURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})
	case ProviderOpenAI:
		p = NewOpenAIProvider(OpenAIConfig{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Type)
	}

	if opts.CacheSize > 0 {
		p = WithCache(p, opts.CacheSize)
	}

	return p, nil
}
