package provider

import (
	"fmt"

	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/mohammad-safakhou/waypoint/internal/agent/core"
	"github.com/mohammad-safakhou/waypoint/internal/memory/embedder"
	anthropic_provider "github.com/mohammad-safakhou/waypoint/provider/anthropic"
	openai_provider "github.com/mohammad-safakhou/waypoint/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Hash      Client = "hash"
)

// Set holds the configured provider clients keyed by config name and
// resolves "provider:model" references to a concrete capability.
type Set struct {
	clients map[string]any
}

// NewSet creates a client for every configured provider.
func NewSet(cfg config.LLMConfig, embeddingDimensions int) (*Set, error) {
	s := &Set{clients: make(map[string]any, len(cfg.Providers))}
	for name, p := range cfg.Providers {
		switch Client(p.Type) {
		case OpenAI:
			s.clients[name] = openai_provider.New(openai_provider.Options{
				APIKey:     p.APIKey,
				BaseURL:    p.BaseURL,
				Timeout:    p.Timeout,
				Dimensions: embeddingDimensions,
			})
		case Anthropic:
			s.clients[name] = anthropic_provider.New(p.APIKey, p.BaseURL, p.Timeout)
		case Hash:
			s.clients[name] = embedder.NewHash(embeddingDimensions)
		default:
			return nil, fmt.Errorf("provider %s: unsupported type %q", name, p.Type)
		}
	}
	return s, nil
}

// Register adds or replaces a named client. Used by tests and embedders.
func (s *Set) Register(name string, client any) {
	if s.clients == nil {
		s.clients = make(map[string]any)
	}
	s.clients[name] = client
}

func (s *Set) lookup(ref string) (any, string, error) {
	name, model := config.SplitModelRef(ref)
	c, ok := s.clients[name]
	if !ok {
		return nil, "", fmt.Errorf("unknown provider %q", name)
	}
	return c, model, nil
}

// Completer resolves ref to a completion-capable client and model name.
func (s *Set) Completer(ref string) (core.Completer, string, error) {
	c, model, err := s.lookup(ref)
	if err != nil {
		return nil, "", err
	}
	impl, ok := c.(core.Completer)
	if !ok {
		return nil, "", fmt.Errorf("provider for %q cannot complete", ref)
	}
	return impl, model, nil
}

// Streamer resolves ref to a streaming-capable client and model name.
func (s *Set) Streamer(ref string) (core.Streamer, string, error) {
	c, model, err := s.lookup(ref)
	if err != nil {
		return nil, "", err
	}
	impl, ok := c.(core.Streamer)
	if !ok {
		return nil, "", fmt.Errorf("provider for %q cannot stream", ref)
	}
	return impl, model, nil
}

// Structured resolves ref to a structured-output client and model name.
func (s *Set) Structured(ref string) (core.StructuredGenerator, string, error) {
	c, model, err := s.lookup(ref)
	if err != nil {
		return nil, "", err
	}
	impl, ok := c.(core.StructuredGenerator)
	if !ok {
		return nil, "", fmt.Errorf("provider for %q cannot generate structured output", ref)
	}
	return impl, model, nil
}

// Embedder resolves ref to an embedding client and model name.
func (s *Set) Embedder(ref string) (core.Embedder, string, error) {
	c, model, err := s.lookup(ref)
	if err != nil {
		return nil, "", err
	}
	impl, ok := c.(core.Embedder)
	if !ok {
		return nil, "", fmt.Errorf("provider for %q cannot embed", ref)
	}
	return impl, model, nil
}
