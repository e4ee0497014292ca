package scenario

import (
	"errors"
	"strings"
	"testing"
)

const testLibrary = `
scenarios:
  - id: salary-hardline
    designation: "Hardline Salary Negotiation"
    target_rhetoric_pattern: "I believe my contribution justifies this figure"
    difficulty_level: 3
    rules:
      - trigger_pattern: "reject"
        synthetic_response: "Rejection noted. My position stands."
        outcome_yield: -0.2
      - trigger_pattern: "agree"
        synthetic_response: "Good. Let us formalize the terms."
        outcome_yield: 0.5
  - id: vendor-renewal
    designation: "Vendor Contract Renewal"
    target_rhetoric_pattern: "our volume warrants a discount"
    difficulty_level: 2
    rules:
      - trigger_pattern: "discount|percent"
        synthetic_response: "Volume alone does not justify a discount."
        outcome_yield: 0.1
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	lib, err := LoadLibraryFromReader(strings.NewReader(testLibrary))
	if err != nil {
		t.Fatalf("parse library: %v", err)
	}
	reg, err := NewRegistry(lib)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestRegistry_GetAndAll(t *testing.T) {
	reg := testRegistry(t)

	m, err := reg.Get("salary-hardline")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.DifficultyLevel != 3 || len(m.Rules) != 2 {
		t.Fatalf("scenario fields not loaded: %+v", m)
	}

	all := reg.All()
	if len(all) != 2 || all[0].ID != "salary-hardline" || all[1].ID != "vendor-renewal" {
		t.Fatalf("All() = %v, want definition order", all)
	}
}

func TestRegistry_UnknownID(t *testing.T) {
	reg := testRegistry(t)
	_, err := reg.Get("no-such-scenario")
	if !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("err = %v, want ErrUnknownScenario", err)
	}
}

func TestRegistry_RejectsBadPattern(t *testing.T) {
	lib := &Library{Scenarios: []Matrix{{
		ID:    "broken",
		Rules: []Rule{{TriggerPattern: "(unclosed"}},
	}}}
	if _, err := NewRegistry(lib); err == nil {
		t.Fatal("expected error for invalid trigger pattern")
	}
}

func TestSimulator_FirstMatchWins(t *testing.T) {
	sim := NewSimulator(testRegistry(t))

	// Both "reject" and "agree" are present; the first rule wins.
	got, err := sim.Respond("salary-hardline", "I reject and agree")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ResponsePrefix+"Rejection noted. My position stands." {
		t.Fatalf("response = %q, want the first matching rule's response", got)
	}
}

func TestSimulator_CaseInsensitive(t *testing.T) {
	sim := NewSimulator(testRegistry(t))
	got, err := sim.Respond("salary-hardline", "We AGREE to the terms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "formalize") {
		t.Fatalf("response = %q, want the agree rule", got)
	}
}

func TestSimulator_DefaultResponse(t *testing.T) {
	sim := NewSimulator(testRegistry(t))
	got, err := sim.Respond("salary-hardline", "no match here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != ResponsePrefix+defaultResponse {
		t.Fatalf("response = %q, want the marker-prefixed default", got)
	}
}

func TestSimulator_UnknownScenario(t *testing.T) {
	sim := NewSimulator(testRegistry(t))
	_, err := sim.Respond("missing", "anything")
	if !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("err = %v, want ErrUnknownScenario", err)
	}
}
