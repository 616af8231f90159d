package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultOpenAIDims  = 1536

	openAITimeout    = 60 * time.Second
	openAIRetries    = 3
	openAIRetryDelay = time.Second
	openAIBatchLimit = 2048 // maximum inputs per embeddings request
)

// OpenAIConfig holds settings for the OpenAI embedding provider. The
// API key and base URL fall back to the environment when unset.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// OpenAIProvider generates embeddings through the OpenAI API.
type OpenAIProvider struct {
	config OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI embedding provider, filling in
// defaults for unset fields.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.APIKey == "" {
		cfg.APIKey = firstEnv("DOCCHAT_OPENAI_API_KEY", "OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = firstEnv("DOCCHAT_OPENAI_BASE_URL", "OPENAI_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = defaultOpenAIDims
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: openAITimeout},
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vecs, err := p.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, NewProviderError("openai", "embed", err)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// API-sized batches as needed.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, NewProviderError("openai", "embedBatch", fmt.Errorf("text %d: %w", i, ErrEmptyText))
		}
	}

	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIBatchLimit {
		end := min(start+openAIBatchLimit, len(texts))
		batch, err := p.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, NewProviderError("openai", "embedBatch", err)
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

// openAIStatusError carries the HTTP status so retries can distinguish
// rate limits and server errors from hard failures.
type openAIStatusError struct {
	status  int
	message string
}

func (e *openAIStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.message)
}

func (p *OpenAIProvider) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	var lastErr error
	for attempt := 0; attempt < openAIRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ErrContextCanceled
			case <-time.After(openAIRetryDelay * time.Duration(1<<uint(attempt-1))):
			}
		}

		vecs, err := p.request(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// retryable reports whether a request is worth repeating: transport
// failures, rate limits, and server errors are; canceled contexts and
// other API rejections are not.
func retryable(err error) bool {
	if errors.Is(err, ErrContextCanceled) {
		return false
	}
	var statusErr *openAIStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	return true
}

func (p *OpenAIProvider) request(ctx context.Context, texts []string) ([][]float32, error) {
	body := map[string]any{
		"model": p.config.Model,
		"input": texts,
	}
	// Only text-embedding-3-* models accept an explicit dimensions
	// parameter.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") {
		body["dimensions"] = p.config.Dimensions
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrContextCanceled
		}
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		message := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return nil, &openAIStatusError{status: resp.StatusCode, message: message}
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	// Responses carry an index per item; reassemble in input order.
	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return vecs, nil
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string { return p.config.Model }

// Dimensions returns the embedding vector dimensions.
func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

// Ping verifies the API key works by embedding a short fixed text.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if p.config.APIKey == "" {
		return NewProviderError("openai", "ping", fmt.Errorf("API key not configured"))
	}
	if _, err := p.Embed(ctx, "ping"); err != nil {
		return NewProviderError("openai", "ping", err)
	}
	return nil
}
