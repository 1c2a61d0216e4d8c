package llm

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/rs/zerolog"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/resilience"
)

// AzOpenAIClient drives an OpenAI-style Chat Completions deployment through
// the Azure OpenAI SDK.
type AzOpenAIClient struct {
	client       *azopenai.Client
	deploymentID string
	breaker      *resilience.CircuitBreaker
	logger       zerolog.Logger
}

var _ Client = (*AzOpenAIClient)(nil)

// NewAzOpenAIClient creates a client against an Azure OpenAI endpoint.
func NewAzOpenAIClient(endpoint, apiKey, deploymentID string) (*AzOpenAIClient, error) {
	keyCredential := azcore.NewKeyCredential(apiKey)
	client, err := azopenai.NewClientWithKeyCredential(endpoint, keyCredential, nil)
	if err != nil {
		return nil, errors.New(errors.CodeConfigurationInvalid, "llm", "error creating Azure OpenAI client", err)
	}
	return &AzOpenAIClient{
		client:       client,
		deploymentID: deploymentID,
		breaker:      breakerFor("openai"),
		logger:       logger.Component("azopenai_client"),
	}, nil
}

func (c *AzOpenAIClient) Model() string { return c.deploymentID }

// Generate performs one chat completion under the provider breaker and the
// 120s request budget.
func (c *AzOpenAIClient) Generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
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

func (c *AzOpenAIClient) generate(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	chatMessages := make([]azopenai.ChatRequestMessageClassification, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			chatMessages = append(chatMessages, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(m.Content),
			})
		case RoleAssistant:
			chatMessages = append(chatMessages, &azopenai.ChatRequestAssistantMessage{
				Content: azopenai.NewChatRequestAssistantMessageContent(m.Content),
			})
		default:
			chatMessages = append(chatMessages, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(m.Content),
			})
		}
	}

	body := azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(c.deploymentID),
		Messages:       chatMessages,
		Temperature:    to.Ptr(float32(opts.Temperature)),
		MaxTokens:      to.Ptr(int32(opts.MaxTokens)),
	}

	resp, err := c.client.GetChatCompletions(ctx, body, nil)
	if err != nil {
		return nil, classifyAzureError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, errors.Newf(errors.CodeLLMError, "llm", "no completion received")
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:  *choice.Message.Content,
		Model:    c.deploymentID,
		Metadata: map[string]interface{}{},
	}
	if resp.Model != nil {
		out.Model = *resp.Model
	}
	if choice.FinishReason != nil {
		out.FinishReason = string(*choice.FinishReason)
	}
	if resp.Usage != nil {
		if resp.Usage.TotalTokens != nil {
			out.TokensUsed = int(*resp.Usage.TotalTokens)
		}
		if resp.Usage.PromptTokens != nil {
			out.Metadata["prompt_tokens"] = int(*resp.Usage.PromptTokens)
		}
		if resp.Usage.CompletionTokens != nil {
			out.Metadata["completion_tokens"] = int(*resp.Usage.CompletionTokens)
		}
	}
	return out, nil
}

func classifyAzureError(err error) error {
	var respErr *azcore.ResponseError
	if stderrors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.New(errors.CodeAuthenticationFailed, "llm", "OpenAI API key rejected", err)
		case http.StatusTooManyRequests:
			return errors.New(errors.CodeRateLimited, "llm", "OpenAI rate limit exceeded", err)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeTimeout, "llm", "OpenAI request timed out", err)
	}
	return errors.New(errors.CodeLLMError, "llm", "OpenAI request failed", err)
}
