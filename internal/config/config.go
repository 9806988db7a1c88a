package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Provider  string          `mapstructure:"provider"`
	Server    ServerConfig    `mapstructure:"server"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Data      DataConfig      `mapstructure:"data"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type AnthropicConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	ThinkingBudget int64  `mapstructure:"thinking_budget"` // 0 = thinking disabled
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OllamaConfig configures the Ollama provider (OpenAI-compatible).
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"` // Default: http://localhost:11434/v1
	Model   string `mapstructure:"model"`
}

// EmbedConfig configures embedding generation for note retrieval.
type EmbedConfig struct {
	Provider string            `mapstructure:"provider"` // "openai" or "ollama"
	OpenAI   EmbedOpenAIConfig `mapstructure:"openai"`
	Ollama   EmbedOllamaConfig `mapstructure:"ollama"`
}

type EmbedOpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type EmbedOllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// RAGConfig configures automatic note retrieval.
type RAGConfig struct {
	SimilarityFloor float64 `mapstructure:"similarity_floor"` // Chunks scoring below are dropped
	MaxChunks       int     `mapstructure:"max_chunks"`       // Chunks considered before dedupe
	MaxNotes        int     `mapstructure:"max_notes"`        // Distinct notes injected per turn
}

// AgentConfig bounds a single conversation turn.
type AgentConfig struct {
	MaxToolCalls     int `mapstructure:"max_tool_calls"`     // Tool invocations before the turn fails closed
	MaxResponseChars int `mapstructure:"max_response_chars"` // Response ceiling before truncation
	MaxOutputTokens  int `mapstructure:"max_output_tokens"`
}

// DataConfig locates the sqlite databases.
type DataConfig struct {
	Dir string `mapstructure:"dir"` // Defaults to XDG data dir
}

// GetConfigDir returns the XDG config directory for second-brain.
func GetConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "second-brain"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "second-brain"), nil
}

// GetDataDir returns the XDG data directory for second-brain.
func GetDataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "second-brain"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "second-brain"), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	viper.SetDefault("provider", "anthropic")
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8085)
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ollama.base_url", "http://localhost:11434/v1")
	viper.SetDefault("embed.provider", "openai")
	viper.SetDefault("embed.openai.model", "text-embedding-3-small")
	viper.SetDefault("embed.ollama.base_url", "http://localhost:11434")
	viper.SetDefault("embed.ollama.model", "nomic-embed-text")
	viper.SetDefault("rag.similarity_floor", 0.30)
	viper.SetDefault("rag.max_chunks", 24)
	viper.SetDefault("rag.max_notes", 5)
	viper.SetDefault("agent.max_tool_calls", 20)
	viper.SetDefault("agent.max_response_chars", 120000)

	// Read config file (optional - won't error if missing)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolveCredentials(&cfg)

	if cfg.Data.Dir == "" {
		dataDir, err := GetDataDir()
		if err != nil {
			return nil, err
		}
		cfg.Data.Dir = dataDir
	}

	return &cfg, nil
}

// resolveCredentials fills API keys from the environment when the config file
// leaves them blank.
func resolveCredentials(cfg *Config) {
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Embed.OpenAI.APIKey == "" {
		cfg.Embed.OpenAI.APIKey = cfg.OpenAI.APIKey
	}
}

// ConversationsDBPath returns the sqlite path for the conversation store.
func (c *Config) ConversationsDBPath() string {
	return filepath.Join(c.Data.Dir, "conversations.db")
}

// NotesDBPath returns the sqlite path for the note store.
func (c *Config) NotesDBPath() string {
	return filepath.Join(c.Data.Dir, "notes.db")
}
