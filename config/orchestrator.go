package config

import (
	"fmt"
	"strings"
	"time"
)

// OrchestratorConfig declares the capability set and the routing rule table.
type OrchestratorConfig struct {
	Instructions      string             `mapstructure:"instructions"`
	Capabilities      []CapabilityConfig `mapstructure:"capabilities"`
	Rules             []RoutingRule      `mapstructure:"rules"`
	DefaultCapability string             `mapstructure:"default_capability"`
	PolicyFile        string             `mapstructure:"policy_file"`
	CapabilityTimeout time.Duration      `mapstructure:"capability_timeout"`
	SanitizerTimeout  time.Duration      `mapstructure:"sanitizer_timeout"`
}

// CapabilityConfig describes one specialist.
type CapabilityConfig struct {
	Name         string      `mapstructure:"name"`
	Description  string      `mapstructure:"description"`
	Instructions string      `mapstructure:"instructions"`
	Model        string      `mapstructure:"model"` // provider:model
	MaxTokens    int         `mapstructure:"max_tokens"`
	Thinking     int         `mapstructure:"thinking_budget"`
	Tool         *ToolConfig `mapstructure:"tool"`
}

// ToolConfig is an optional external API a capability calls before answering.
type ToolConfig struct {
	Name       string            `mapstructure:"name"`
	URL        string            `mapstructure:"url"`
	QueryParam string            `mapstructure:"query_param"`
	Headers    map[string]string `mapstructure:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Retries    int               `mapstructure:"retries"` // extra attempts after a retryable failure
}

// RoutingRule maps message content to a capability. Rules are evaluated in
// order; the first rule with a matching keyword or pattern wins.
type RoutingRule struct {
	Capability string   `mapstructure:"capability" json:"capability"`
	Keywords   []string `mapstructure:"keywords" json:"keywords"`
	Patterns   []string `mapstructure:"patterns" json:"patterns"`
}

// Normalize applies defaults for unset orchestrator values.
func (o OrchestratorConfig) Normalize() OrchestratorConfig {
	if o.CapabilityTimeout <= 0 {
		o.CapabilityTimeout = 3 * time.Minute
	}
	if o.SanitizerTimeout <= 0 {
		o.SanitizerTimeout = 60 * time.Second
	}
	for i := range o.Capabilities {
		o.Capabilities[i].Name = strings.TrimSpace(o.Capabilities[i].Name)
		if o.Capabilities[i].MaxTokens <= 0 {
			o.Capabilities[i].MaxTokens = 4096
		}
		if t := o.Capabilities[i].Tool; t != nil {
			if t.QueryParam == "" {
				t.QueryParam = "q"
			}
			if t.Timeout <= 0 {
				t.Timeout = 30 * time.Second
			}
		}
	}
	if o.DefaultCapability == "" && len(o.Capabilities) > 0 {
		o.DefaultCapability = o.Capabilities[0].Name
	}
	return o
}

// Validate checks capabilities and rules reference each other consistently.
func (o OrchestratorConfig) Validate(llm LLMConfig) error {
	if len(o.Capabilities) == 0 {
		return fmt.Errorf("orchestrator.capabilities must not be empty")
	}
	names := make(map[string]struct{}, len(o.Capabilities))
	for i, c := range o.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("orchestrator.capabilities[%d].name required", i)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("orchestrator.capabilities: duplicate name %q", c.Name)
		}
		names[c.Name] = struct{}{}
		provider, _ := SplitModelRef(c.Model)
		if _, ok := llm.Providers[provider]; !ok {
			return fmt.Errorf("orchestrator.capabilities[%s].model references unknown provider %q", c.Name, provider)
		}
		if c.Tool != nil && strings.TrimSpace(c.Tool.URL) == "" {
			return fmt.Errorf("orchestrator.capabilities[%s].tool.url required", c.Name)
		}
	}
	if _, ok := names[o.DefaultCapability]; !ok {
		return fmt.Errorf("orchestrator.default_capability %q is not a capability", o.DefaultCapability)
	}
	for i, r := range o.Rules {
		if _, ok := names[r.Capability]; !ok {
			return fmt.Errorf("orchestrator.rules[%d] references unknown capability %q", i, r.Capability)
		}
		if len(r.Keywords) == 0 && len(r.Patterns) == 0 {
			return fmt.Errorf("orchestrator.rules[%d] needs keywords or patterns", i)
		}
	}
	return nil
}
