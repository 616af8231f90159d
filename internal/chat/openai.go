package chat

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/docchat-ai/docchat/internal/history"
)

// DefaultChatModel is used when no model is configured.
const DefaultChatModel = "gpt-4o-mini"

// OpenAIConfig holds settings for the OpenAI chat backend.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional, for compatible APIs and tests
	Model       string
	Temperature float64
}

// OpenAIGenerator implements Generator using the OpenAI Chat
// Completions API.
type OpenAIGenerator struct {
	client openaisdk.Client
	config OpenAIConfig
}

// NewOpenAIGenerator creates a generator. The API key is required.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{client: openaisdk.NewClient(opts...), config: cfg}, nil
}

func (g *OpenAIGenerator) ModelName() string { return g.config.Model }

// Complete sends the conversation to the model and returns the text of
// the first choice.
func (g *OpenAIGenerator) Complete(ctx context.Context, system string, messages []history.Message) (string, error) {
	msgs, err := convertMessages(system, messages)
	if err != nil {
		return "", err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.config.Model),
		Messages: msgs,
	}
	if g.config.Temperature > 0 {
		params.Temperature = param.NewOpt(g.config.Temperature)
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}

func convertMessages(system string, messages []history.Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		result = append(result, openaisdk.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case history.RoleUser:
			result = append(result, openaisdk.UserMessage(m.Content))
		case history.RoleAssistant:
			result = append(result, openaisdk.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return result, nil
}
