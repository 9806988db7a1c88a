package llm

import (
	"fmt"

	"github.com/ananyateklu/second-brain-go/internal/config"
)

// NewProvider builds the chat provider named by cfg.Provider.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key not configured")
		}
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.ThinkingBudget)
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai api key not configured")
		}
		return NewOpenAICompatProvider(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, "openai"), nil
	case "gemini":
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "ollama":
		if cfg.Ollama.Model == "" {
			return nil, fmt.Errorf("ollama model not configured")
		}
		return NewOpenAICompatProvider(cfg.Ollama.BaseURL, "", cfg.Ollama.Model, "ollama"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
