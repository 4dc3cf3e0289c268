package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/v0xg/pagepilot/internal/dom"
)

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from provider")

// Interpreter turns a user command and the current page context into the raw
// text of a structured action. Parsing the text is left to the caller.
type Interpreter interface {
	Interpret(ctx context.Context, transcript string, page dom.PageContext) (string, error)
}

// Config selects and configures a provider. Empty fields fall back to the
// provider's defaults and, for API keys, to the environment.
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

const defaultMaxTokens = 1024

// NewProvider creates a new interpretation provider based on cfg.Provider.
func NewProvider(cfg Config) (Interpreter, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch cfg.Provider {
	case "claude", "anthropic":
		return NewClaudeProvider(cfg)
	case "openai", "gpt":
		return NewOpenAIProvider(cfg)
	case "ollama", "":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai, ollama)", cfg.Provider)
	}
}
