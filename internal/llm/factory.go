package llm

import (
	"fmt"

	"github.com/mirfaizal/ai-finance-assistant/internal/config"
)

// New builds the client for the configured provider, wrapped with retries
func New(cfg config.ModelConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model.api_key is not configured for provider %q", cfg.Provider)
	}

	var c Client
	switch cfg.Provider {
	case config.ProviderDeepSeek, config.ProviderOpenAICompatible, "":
		c = NewCompatClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	case config.ProviderOpenAI:
		c = NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	case config.ProviderAnthropic:
		c = NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
	return WithRetry(c, cfg.MaxRetries), nil
}
