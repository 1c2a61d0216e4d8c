// Package llm abstracts chat-style LLM providers behind one client interface.
package llm

import (
	"context"
	"time"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation.
type Message struct {
	Role    Role
	Content string
}

// Options tunes a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// DefaultOptions is the generation default used by the orchestrator.
func DefaultOptions() Options {
	return Options{Temperature: 0.2, MaxTokens: 2000}
}

// Response is the provider-agnostic generation result.
type Response struct {
	Content      string
	Model        string
	TokensUsed   int
	FinishReason string
	Metadata     map[string]interface{}
}

// RequestTimeout is the per-request budget for LLM calls.
const RequestTimeout = 120 * time.Second

// Client drives a chat-style LLM API. Generate fails with a structured error
// carrying AUTHENTICATION_FAILED, RATE_LIMITED, TIMEOUT or LLM_ERROR.
type Client interface {
	// Model returns the configured model identifier.
	Model() string
	// Generate performs one chat completion.
	Generate(ctx context.Context, messages []Message, opts Options) (*Response, error)
}

// GenerateWithRetry wraps Generate with the standard backoff schedule.
// Rate-limit and timeout failures back off after every attempt, so three
// retries wait 5/10/20s and 2/4/8s respectively; other errors wait 1/2/4s
// between attempts and return without a final wait. Authentication errors
// are never retried.
func GenerateWithRetry(ctx context.Context, c Client, messages []Message, opts Options, maxRetries int) (*Response, error) {
	var resp *Response

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		resp, err = c.Generate(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.HasCode(err, errors.CodeAuthenticationFailed) {
			return nil, err
		}

		var base time.Duration
		switch {
		case errors.HasCode(err, errors.CodeRateLimited):
			base = 5 * time.Second
		case errors.HasCode(err, errors.CodeTimeout):
			base = 2 * time.Second
		default:
			if attempt == maxRetries-1 {
				continue
			}
			base = time.Second
		}
		delay := resilience.CalculateDelay(attempt, resilience.RetryPolicy{
			BaseDelay: base,
			MaxDelay:  60 * time.Second,
			Strategy:  resilience.StrategyExponential,
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, errors.New(errors.CodeMaxRetriesExceeded, "llm", "generation failed after retries", lastErr)
}

// splitSystem lifts system messages out of a conversation; providers that take
// the system prompt as a top-level field use this.
func splitSystem(messages []Message) (system string, rest []Message) {
	rest = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// breakerFor returns the per-provider circuit breaker.
func breakerFor(provider string) *resilience.CircuitBreaker {
	return resilience.GetCircuitBreaker("llm:"+provider, resilience.DefaultBreakerConfig())
}
