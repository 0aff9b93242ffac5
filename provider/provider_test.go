package provider

import (
	"testing"

	"github.com/mohammad-safakhou/waypoint/config"
)

func TestSetResolvesByCapability(t *testing.T) {
	set, err := NewSet(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"oa":     {Type: "openai", APIKey: "sk-test"},
		"claude": {Type: "anthropic", APIKey: "sk-ant"},
		"local":  {Type: "hash"},
	}}, 32)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	if _, model, err := set.Structured("oa:gpt-4o-mini"); err != nil || model != "gpt-4o-mini" {
		t.Fatalf("Structured: model=%q err=%v", model, err)
	}
	if _, _, err := set.Streamer("claude:claude-sonnet-4-5"); err != nil {
		t.Fatalf("Streamer: %v", err)
	}
	if _, _, err := set.Embedder("local"); err != nil {
		t.Fatalf("Embedder: %v", err)
	}
	if _, _, err := set.Streamer("local"); err == nil {
		t.Fatalf("hash provider must not stream")
	}
	if _, _, err := set.Structured("claude:x"); err == nil {
		t.Fatalf("anthropic provider has no structured output")
	}
	if _, _, err := set.Completer("missing:x"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestNewSetRejectsUnknownType(t *testing.T) {
	_, err := NewSet(config.LLMConfig{Providers: map[string]config.LLMProvider{"x": {Type: "gemini"}}}, 8)
	if err == nil {
		t.Fatalf("expected error")
	}
}
