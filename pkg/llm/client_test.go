package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleSystem, Content: "be safe"},
		{Role: RoleUser, Content: "bye"},
	})

	assert.Equal(t, "be terse\nbe safe", system)
	require.Len(t, rest, 3)
	assert.Equal(t, RoleUser, rest[0].Role)
	assert.Equal(t, RoleAssistant, rest[1].Role)
	assert.Equal(t, RoleUser, rest[2].Role)
}

func TestSplitSystem_NoSystemMessage(t *testing.T) {
	system, rest := splitSystem([]Message{{Role: RoleUser, Content: "hello"}})
	assert.Empty(t, system)
	assert.Len(t, rest, 1)
}

// scriptedClient fails a fixed number of times before succeeding.
type scriptedClient struct {
	failures int
	err      error
	calls    int
}

func (s *scriptedClient) Model() string { return "scripted" }

func (s *scriptedClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.err
	}
	return &Response{Content: "ok", Model: "scripted"}, nil
}

func TestGenerateWithRetry_AuthNotRetried(t *testing.T) {
	client := &scriptedClient{
		failures: 10,
		err:      errors.Newf(errors.CodeAuthenticationFailed, "llm", "bad key"),
	}
	_, err := GenerateWithRetry(context.Background(), client, nil, DefaultOptions(), 3)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeAuthenticationFailed))
	assert.Equal(t, 1, client.calls)
}

func TestGenerateWithRetry_ExhaustionWraps(t *testing.T) {
	client := &scriptedClient{
		failures: 10,
		err:      errors.Newf(errors.CodeLLMError, "llm", "flaky"),
	}
	_, err := GenerateWithRetry(context.Background(), client, nil, DefaultOptions(), 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeMaxRetriesExceeded))
	assert.Equal(t, 1, client.calls)
}

func TestGenerateWithRetry_EventualSuccess(t *testing.T) {
	client := &scriptedClient{
		failures: 1,
		err:      errors.Newf(errors.CodeLLMError, "llm", "transient"),
	}
	resp, err := GenerateWithRetry(context.Background(), client, nil, DefaultOptions(), 3)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateWithRetry_CancelledDuringBackoff(t *testing.T) {
	client := &scriptedClient{
		failures: 10,
		err:      errors.Newf(errors.CodeRateLimited, "llm", "slow down"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GenerateWithRetry(ctx, client, nil, DefaultOptions(), 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.calls)
}

func TestNewClient_Factory(t *testing.T) {
	_, err := NewClient(ProviderConfig{Provider: "nonsense"})
	assert.Error(t, err)

	client, err := NewClient(ProviderConfig{Provider: "anthropic", APIKey: "key"})
	require.NoError(t, err)
	assert.NotEmpty(t, client.Model())

	_, err = NewClient(ProviderConfig{Provider: "openai", APIKey: "key"})
	assert.Error(t, err, "openai provider requires an endpoint")

	client, err = NewClient(ProviderConfig{Provider: "openai", APIKey: "key", Endpoint: "https://example.openai.azure.com", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", client.Model())
}
