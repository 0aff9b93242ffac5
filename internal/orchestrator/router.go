package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mohammad-safakhou/waypoint/config"
	"github.com/open-policy-agent/opa/rego"
)

// DefaultPolicy routes by the configured rule table: the first rule whose
// keyword occurs in the lower-cased message, or whose pattern matches it,
// names the capability.
const DefaultPolicy = `
package routing

default capability = ""

matched[i] {
	rule := input.rules[i]
	kw := rule.keywords[_]
	contains(input.text, lower(kw))
}

matched[i] {
	rule := input.rules[i]
	p := rule.patterns[_]
	regex.match(p, input.text)
}

capability = input.rules[i].capability {
	count(matched) > 0
	i := min(matched)
}
`

// Router makes the single routing decision of a run.
type Router struct {
	query    rego.PreparedEvalQuery
	rules    []any
	fallback string
	logger   *log.Logger
}

// NewRouter prepares the routing policy. An empty policy selects
// DefaultPolicy. Messages no rule claims go to fallback.
func NewRouter(ctx context.Context, rules []config.RoutingRule, fallback, policy string, logger *log.Logger) (*Router, error) {
	if strings.TrimSpace(policy) == "" {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	query, err := rego.New(
		rego.Query("data.routing.capability"),
		rego.Module("routing.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare routing policy: %w", err)
	}
	return &Router{query: query, rules: ruleInput(rules), fallback: fallback, logger: logger}, nil
}

// NewRouterFromConfig loads the policy file named by cfg, if any.
func NewRouterFromConfig(ctx context.Context, cfg config.OrchestratorConfig, logger *log.Logger) (*Router, error) {
	policy := ""
	if cfg.PolicyFile != "" {
		b, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read routing policy: %w", err)
		}
		policy = string(b)
	}
	return NewRouter(ctx, cfg.Rules, cfg.DefaultCapability, policy, logger)
}

// Route returns the capability for message.
func (r *Router) Route(ctx context.Context, message string) (string, error) {
	results, err := r.query.Eval(ctx, rego.EvalInput(map[string]any{
		"text":  strings.ToLower(message),
		"rules": r.rules,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate routing policy: %w", err)
	}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if name, ok := results[0].Expressions[0].Value.(string); ok && name != "" {
			return name, nil
		}
	}
	return r.fallback, nil
}

// ruleInput converts rules to plain JSON-like values for policy input.
func ruleInput(rules []config.RoutingRule) []any {
	out := make([]any, 0, len(rules))
	for _, rule := range rules {
		kws := make([]any, 0, len(rule.Keywords))
		for _, k := range rule.Keywords {
			kws = append(kws, k)
		}
		pats := make([]any, 0, len(rule.Patterns))
		for _, p := range rule.Patterns {
			pats = append(pats, p)
		}
		out = append(out, map[string]any{
			"capability": rule.Capability,
			"keywords":   kws,
			"patterns":   pats,
		})
	}
	return out
}
