package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/ananyateklu/second-brain-go/internal/config"
)

// EmbeddingResult contains the embeddings and metadata from an API call
type EmbeddingResult struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings []Embedding `json:"embeddings"`
	Usage      *UsageInfo  `json:"usage,omitempty"`
}

// Embedding holds a single text's embedding vector
type Embedding struct {
	Text   string    `json:"text"`
	Index  int       `json:"index"`
	Vector []float64 `json:"vector"`
}

// UsageInfo contains token usage information
type UsageInfo struct {
	PromptTokens int64 `json:"prompt_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// EmbedRequest contains parameters for generating embeddings
type EmbedRequest struct {
	Texts      []string // Input texts to embed
	Model      string   // Model override (empty = provider default)
	Dimensions int      // Custom dimensions (0 = model default)
}

// EmbeddingProvider is the interface for embedding providers
type EmbeddingProvider interface {
	// Name returns the provider name for display
	Name() string

	// DefaultModel returns the default embedding model for this provider
	DefaultModel() string

	// Embed generates embeddings for the given texts
	Embed(ctx context.Context, req EmbedRequest) (*EmbeddingResult, error)
}

// NewEmbeddingProvider creates an embedding provider based on config
func NewEmbeddingProvider(cfg *config.Config) (EmbeddingProvider, error) {
	switch cfg.Embed.Provider {
	case "openai":
		apiKey := cfg.Embed.OpenAI.APIKey
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not configured. Set environment variable or add to embed.openai.api_key in config")
		}
		p := NewOpenAIProvider(apiKey)
		if cfg.Embed.OpenAI.Model != "" {
			p.model = cfg.Embed.OpenAI.Model
		}
		return p, nil

	case "ollama":
		baseURL := cfg.Embed.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		p := NewOllamaProvider(baseURL)
		if cfg.Embed.Ollama.Model != "" {
			p.model = cfg.Embed.Ollama.Model
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid: openai, ollama)", cfg.Embed.Provider)
	}
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dotProduct / denom
}
