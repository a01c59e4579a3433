package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-20241022"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return string(ProviderAnthropic)
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	turns := foldSystem(req.Messages)
	messages := make([]anthropic.MessageParam, len(turns))
	for i, msg := range turns {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.F(modelName),
		MaxTokens:   anthropic.F(int64(maxTokens)),
		Temperature: anthropic.F(req.Temperature),
		Messages:    anthropic.F(messages),
	})
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// foldSystem rewrites a chat transcript into the strictly alternating
// user/assistant form the Messages API accepts. System text is prepended to
// the first user message and consecutive same-role messages are joined.
func foldSystem(in []Message) []Message {
	var system []string
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if m.Role == model.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}

	if len(out) == 0 || out[0].Role != model.RoleUser {
		out = append([]Message{{Role: model.RoleUser}}, out...)
	}
	if len(system) > 0 {
		prefix := strings.Join(system, "\n\n")
		if out[0].Content == "" {
			out[0].Content = prefix
		} else {
			out[0].Content = prefix + "\n\n" + out[0].Content
		}
	}
	return out
}
