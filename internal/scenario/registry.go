package scenario

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrUnknownScenario is returned when a scenario id has no entry in the
// registry. Callers log it and answer with a sentinel value; it never
// terminates the engine.
var ErrUnknownScenario = errors.New("scenario: unknown scenario id")

// Registry supplies [Matrix] records by id and full-library enumeration.
// It is an explicit constructed instance — consumers receive it by injection
// rather than through package-level state. Immutable after construction, so
// safe for concurrent reads.
type Registry struct {
	byID  map[string]*Matrix
	order []string
}

// NewRegistry builds a [Registry] from a parsed library, compiling every
// rule's trigger pattern. Trigger patterns are matched case-insensitively
// against the lower-cased utterance.
func NewRegistry(lib *Library) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Matrix, len(lib.Scenarios))}

	for i := range lib.Scenarios {
		m := &lib.Scenarios[i]
		if m.ID == "" {
			return nil, fmt.Errorf("scenario: entry %d has no id", i)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("scenario: duplicate id %q", m.ID)
		}
		for j := range m.Rules {
			rule := &m.Rules[j]
			re, err := regexp.Compile("(?i)" + rule.TriggerPattern)
			if err != nil {
				return nil, fmt.Errorf("scenario: %s rule %d: compile %q: %w",
					m.ID, j, rule.TriggerPattern, err)
			}
			rule.trigger = re
		}
		r.byID[m.ID] = m
		r.order = append(r.order, m.ID)
	}
	return r, nil
}

// Get returns the scenario with the given id, or [ErrUnknownScenario].
func (r *Registry) Get(id string) (*Matrix, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return m, nil
}

// All returns every scenario in library definition order.
func (r *Registry) All() []*Matrix {
	out := make([]*Matrix, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
