package llm

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

// AnthropicClient drives the Anthropic Messages API. The Messages API takes
// the system prompt as a top-level field, so system messages are hoisted out
// of the conversation here rather than in the orchestrator.
type AnthropicClient struct {
	client  anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		breaker: breakerFor("anthropic"),
		logger:  logger.Component("anthropic_client"),
	}
}

func (c *AnthropicClient) Model() string { return c.model }

// Generate performs one message turn under the provider breaker and the 120s
// request budget.
func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	var out *Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, RequestTimeout, func(ctx context.Context) error {
			var err error
			out, err = c.generate(ctx, messages, opts)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnthropicClient) generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	system, conversation := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range conversation {
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, errors.Newf(errors.CodeLLMError, "llm", "no completion received")
	}

	return &Response{
		Content:      content,
		Model:        string(msg.Model),
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
		Metadata: map[string]interface{}{
			"input_tokens":  int(msg.Usage.InputTokens),
			"output_tokens": int(msg.Usage.OutputTokens),
		},
	}, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.New(errors.CodeAuthenticationFailed, "llm", "Anthropic API key rejected", err)
		case http.StatusTooManyRequests:
			return errors.New(errors.CodeRateLimited, "llm", "Anthropic rate limit exceeded", err)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "llm", "Anthropic request timed out", err)
	}
	return errors.New(errors.CodeLLMError, "llm", "Anthropic request failed", err)
}
