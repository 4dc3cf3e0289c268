package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/pagepilot/internal/dom"
)

// ClaudeProvider implements Interpreter using Anthropic's Claude.
type ClaudeProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeProvider creates a new Claude provider.
func NewClaudeProvider(cfg Config) (*ClaudeProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PAGEPILOT_ANTHROPIC_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("PAGEPILOT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &ClaudeProvider{
		client:    &client,
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

// Interpret asks Claude for a structured action.
func (p *ClaudeProvider) Interpret(ctx context.Context, transcript string, page dom.PageContext) (string, error) {
	userPrompt, err := buildUserPrompt(transcript, page)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("claude: %w", ErrEmptyResponse)
}
