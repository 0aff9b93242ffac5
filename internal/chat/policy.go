package chat

import "fmt"

// Dependency names an external call made while serving a request.
type Dependency string

const (
	DepRecentHistory   Dependency = "recent_history"
	DepEpisodicRecall  Dependency = "episodic_recall"
	DepNextSequenceID  Dependency = "next_sequence_id"
	DepSanitizer       Dependency = "sanitizer"
	DepTurnPersistence Dependency = "turn_persistence"
)

// Mode is how a failure of a dependency is handled.
type Mode int

const (
	// Degrade absorbs the failure, logs it and continues with a fallback.
	Degrade Mode = iota
	// Propagate fails the request with an explicit error.
	Propagate
)

func (m Mode) String() string {
	if m == Propagate {
		return "propagate"
	}
	return "degrade"
}

// Policy maps each dependency of the chat path to its failure mode.
type Policy map[Dependency]Mode

// FailurePolicy is the default table. The live chat stream degrades wherever
// a fallback exists. Capability runs, summarization and user registration
// have no fallback and are not listed, so they propagate.
var FailurePolicy = Policy{
	DepRecentHistory:   Degrade, // run without recent turns
	DepEpisodicRecall:  Degrade, // run without recalled memories
	DepNextSequenceID:  Degrade, // preview number 1; persistence assigns the real one
	DepSanitizer:       Degrade, // raw answer, blank lines tidied
	DepTurnPersistence: Degrade, // saved_to_db=false in the end payload
}

// Mode returns the mode for d. Unknown dependencies propagate.
func (p Policy) Mode(d Dependency) Mode {
	if m, ok := p[d]; ok {
		return m
	}
	return Propagate
}

// With returns a copy of p with d set to m.
func (p Policy) With(d Dependency, m Mode) Policy {
	out := make(Policy, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[d] = m
	return out
}

// ModeOf returns the default policy for d.
func ModeOf(d Dependency) Mode {
	return FailurePolicy.Mode(d)
}

// ParsePolicy applies overrides (dependency name -> "degrade" or
// "propagate") to the default table.
func ParsePolicy(overrides map[string]string) (Policy, error) {
	p := FailurePolicy
	for name, mode := range overrides {
		dep := Dependency(name)
		if _, ok := FailurePolicy[dep]; !ok {
			return nil, fmt.Errorf("failure policy: unknown dependency %q", name)
		}
		switch mode {
		case "degrade":
			p = p.With(dep, Degrade)
		case "propagate":
			p = p.With(dep, Propagate)
		default:
			return nil, fmt.Errorf("failure policy: %s: unknown mode %q", name, mode)
		}
	}
	return p, nil
}
