package runtime

import (
	"context"
	"fmt"
)

// Message is one turn in the provider conversation.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ProviderRequest is the provider-agnostic call shape.
type ProviderRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
}

// ProviderResponse is the provider-agnostic reply shape.
type ProviderResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Provider is a model backend capable of one conversation turn.
type Provider interface {
	Call(ctx context.Context, request ProviderRequest) (*ProviderResponse, error)
	Name() string
}

// NewProvider builds a backend for the named provider.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return newAnthropicProvider(apiKey), nil
	case "openai":
		return newOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
