package llm

import (
	"strings"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// ProviderConfig selects and configures an LLM provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	Model    string
	// Endpoint is required for the Azure OpenAI provider.
	Endpoint string
}

// NewClient builds the configured provider adapter.
func NewClient(cfg ProviderConfig) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "azure-openai":
		model := cfg.Model
		if model == "" {
			model = "gpt-4o"
		}
		if cfg.Endpoint == "" {
			return nil, errors.Newf(errors.CodeConfigurationInvalid, "llm",
				"openai provider requires an endpoint")
		}
		return NewAzOpenAIClient(cfg.Endpoint, cfg.APIKey, model)
	case "anthropic":
		model := cfg.Model
		if model == "" {
			model = "claude-sonnet-4-5"
		}
		return NewAnthropicClient(cfg.APIKey, model), nil
	default:
		return nil, errors.Newf(errors.CodeConfigurationInvalid, "llm",
			"unsupported LLM provider %q (use openai or anthropic)", cfg.Provider)
	}
}
