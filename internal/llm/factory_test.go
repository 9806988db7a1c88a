package llm

import (
	"testing"

	"github.com/ananyateklu/second-brain-go/internal/config"
)

func TestNewProvider(t *testing.T) {
	cfg := &config.Config{Provider: "anthropic"}
	if _, err := NewProvider(cfg); err == nil {
		t.Error("anthropic without key should fail")
	}

	cfg = &config.Config{Provider: "anthropic"}
	cfg.Anthropic.APIKey = "sk-ant-test"
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if p.Name() != "Anthropic (claude-sonnet-4-5)" {
		t.Errorf("Name = %q", p.Name())
	}
	if !p.Capabilities().ToolCalls {
		t.Error("anthropic should support tool calls")
	}

	cfg = &config.Config{Provider: "ollama"}
	cfg.Ollama.BaseURL = "http://localhost:11434/v1"
	cfg.Ollama.Model = "llama3"
	p, err = NewProvider(cfg)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if p.Name() != "ollama (llama3)" {
		t.Errorf("Name = %q", p.Name())
	}

	cfg = &config.Config{Provider: "gemini"}
	if _, err := NewProvider(cfg); err == nil {
		t.Error("gemini without key should fail")
	}

	cfg = &config.Config{Provider: "gemini"}
	cfg.Gemini.APIKey = "test-key"
	cfg.Gemini.Model = "gemini-2.5-flash"
	p, err = NewProvider(cfg)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if p.Name() != "Gemini (gemini-2.5-flash)" {
		t.Errorf("Name = %q", p.Name())
	}
	if !p.Capabilities().ToolCalls {
		t.Error("gemini should support tool calls")
	}

	cfg = &config.Config{Provider: "bard"}
	if _, err := NewProvider(cfg); err == nil {
		t.Error("unknown provider should fail")
	}
}
