// Package capability defines the specialist answering units a run is
// dispatched to and the registry that holds them.
package capability

import (
	"context"
	"fmt"
)

// Descriptor is the static, configuration-time identity of a capability.
type Descriptor struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"-"`
}

// Request is one invocation. Instructions is the fully rendered system
// prompt for this run only.
type Request struct {
	Instructions string
	Query        string
	Images       []string
}

// ToolCall identifies one external call made while answering.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Sink receives a capability's output in the order it is produced. A
// non-nil error from any method aborts the invocation.
type Sink interface {
	Reasoning(text string) error
	Content(text string) error
	ToolStarted(call ToolCall) error
	ToolCompleted(call ToolCall, result string, callErr error) error
}

// Capability answers a natural-language query.
type Capability interface {
	Descriptor() Descriptor
	// Invoke streams fragments to sink and returns the complete answer.
	Invoke(ctx context.Context, req Request, sink Sink) (string, error)
}

// ErrCapabilityMissing indicates a required capability is not registered.
var ErrCapabilityMissing = fmt.Errorf("required capability missing")

// Registry holds capabilities by name. It is built once at start-up and
// read-only afterwards.
type Registry struct {
	byName map[string]Capability
	order  []string
}

// NewRegistry registers caps and ensures every name in required exists.
func NewRegistry(caps []Capability, required ...string) (*Registry, error) {
	reg := &Registry{byName: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		name := c.Descriptor().Name
		if name == "" {
			return nil, fmt.Errorf("capability without a name")
		}
		if _, dup := reg.byName[name]; dup {
			return nil, fmt.Errorf("capability %s registered twice", name)
		}
		reg.byName[name] = c
		reg.order = append(reg.order, name)
	}
	for _, r := range required {
		if _, ok := reg.byName[r]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, r)
		}
	}
	return reg, nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byName[name]
	return c, ok
}

// Descriptors lists capabilities in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor())
	}
	return out
}
