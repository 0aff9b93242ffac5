package capability

import (
	"fmt"

	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/mohammad-safakhou/waypoint/provider"
)

// FromConfig builds the registry described by the orchestrator section,
// resolving each capability's model through providers.
func FromConfig(cfg config.OrchestratorConfig, providers *provider.Set) (*Registry, error) {
	caps := make([]Capability, 0, len(cfg.Capabilities))
	for _, cc := range cfg.Capabilities {
		streamer, model, err := providers.Streamer(cc.Model)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", cc.Name, err)
		}
		var tool *HTTPTool
		if cc.Tool != nil {
			name := cc.Tool.Name
			if name == "" {
				name = cc.Name + "_lookup"
			}
			tool = NewHTTPTool(name, cc.Tool.URL, cc.Tool.QueryParam, cc.Tool.Headers, cc.Tool.Timeout)
			tool.Retries = cc.Tool.Retries
		}
		caps = append(caps, NewLLM(LLMOptions{
			Descriptor:     Descriptor{Name: cc.Name, Description: cc.Description, Instructions: cc.Instructions},
			Streamer:       streamer,
			Model:          model,
			MaxTokens:      cc.MaxTokens,
			ThinkingBudget: cc.Thinking,
			Tool:           tool,
		}))
	}
	return NewRegistry(caps, cfg.DefaultCapability)
}
