// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

// Message is one chat message sent to a backend.
type Message struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// System, User and Assistant build messages of the matching role.
func System(content string) Message    { return Message{Role: model.RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: model.RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: model.RoleAssistant, Content: content} }

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Options tunes a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
	// Purpose labels the call in logs and metrics, e.g. "classify".
	Purpose string
}

// Generator is the text-generation capability the orchestrator depends on.
type Generator interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderNone      Provider = "none"
)

// ClientConfig carries provider credentials.
type ClientConfig struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
}

// NewClient creates a client for provider. ProviderNone yields a nil client,
// which a Gateway reports as unavailable.
func NewClient(provider Provider, cfg ClientConfig) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		c, err := NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		c, err := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
