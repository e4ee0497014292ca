package scenario

import (
	"log/slog"
	"strings"
)

// ResponsePrefix marks every simulator reply so the UI can distinguish
// offline responses from live agent output.
const ResponsePrefix = "[SIM] "

// defaultResponse is returned when no rule in the scenario matches.
const defaultResponse = "I need to consider that. What else can you offer?"

// Simulator is the deterministic scripted responder used while the live link
// is unavailable. It holds no mutable state; safe for concurrent use.
type Simulator struct {
	registry *Registry
}

// NewSimulator creates a [Simulator] reading from registry.
func NewSimulator(registry *Registry) *Simulator {
	return &Simulator{registry: registry}
}

// Respond answers utterance within the named scenario. Rules are scanned in
// definition order and the first trigger that matches the lower-cased
// utterance wins — not the best match. If nothing matches, a fixed default
// is returned. All replies carry [ResponsePrefix].
//
// An unknown scenario id returns [ErrUnknownScenario] (wrapped); the engine
// keeps operating.
func (s *Simulator) Respond(scenarioID, utterance string) (string, error) {
	m, err := s.registry.Get(scenarioID)
	if err != nil {
		slog.Error("offline responder: scenario lookup failed",
			"scenario_id", scenarioID,
			"err", err)
		return "", err
	}

	lowered := strings.ToLower(utterance)
	for i := range m.Rules {
		rule := &m.Rules[i]
		if rule.trigger.MatchString(lowered) {
			return ResponsePrefix + rule.SyntheticResponse, nil
		}
	}
	return ResponsePrefix + defaultResponse, nil
}
