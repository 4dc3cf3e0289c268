package ai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/pagepilot/internal/dom"
)

const (
	defaultOllamaURL   = "http://localhost:11434/v1"
	defaultOllamaModel = "gemma3"
)

// OpenAIProvider implements Interpreter against the OpenAI chat completions
// API. It also serves Ollama, which exposes the same API locally.
type OpenAIProvider struct {
	client    *openai.Client
	name      string
	model     string
	maxTokens int
	jsonMode  bool
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PAGEPILOT_OPENAI_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("PAGEPILOT_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	config := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(config),
		name:      "OpenAI",
		model:     model,
		maxTokens: maxTokensOrDefault(cfg.MaxTokens),
	}, nil
}

// NewOllamaProvider creates a provider for a local Ollama server. Ollama
// ignores the API key, and JSON output is requested explicitly.
func NewOllamaProvider(cfg Config) (*OpenAIProvider, error) {
	config := openai.DefaultConfig("ollama")
	config.BaseURL = defaultOllamaURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(config),
		name:      "Ollama",
		model:     model,
		maxTokens: maxTokensOrDefault(cfg.MaxTokens),
		jsonMode:  true,
	}, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// Interpret asks the model for a structured action.
func (p *OpenAIProvider) Interpret(ctx context.Context, transcript string, page dom.PageContext) (string, error) {
	userPrompt, err := buildUserPrompt(transcript, page)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		MaxTokens: p.maxTokens,
	}
	if p.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
