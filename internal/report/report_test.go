package report

import (
	"context"
	"strings"
	"testing"

	"github.com/jmichaelis/parley/internal/dialogue"
	"github.com/jmichaelis/parley/internal/telemetry"
)

func TestRenderSession_IncludesAllSections(t *testing.T) {
	session := Session{
		ScenarioDesignation: "Salary Hardline",
		TargetPattern:       "collaborative framing",
		Dialogue: []dialogue.Vector{
			{Origin: dialogue.OriginOperator, Payload: "I believe 90k is fair"},
			{Origin: dialogue.OriginAgent, Payload: "Our budget tops out at 80k"},
		},
		Metrics: []telemetry.Metric{
			{VerbalVelocity: 142, HesitationMarkers: 2, ConfidenceScore: 0.7, AggressionIndex: 1.5},
		},
	}

	got := renderSession(session)
	for _, want := range []string{
		"Scenario: Salary Hardline",
		"Target rhetoric pattern: collaborative framing",
		"Operator: I believe 90k is fair",
		"Counterpart: Our budget tops out at 80k",
		"142 / 2 / 0.70 / 1.5",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered session missing %q:\n%s", want, got)
		}
	}
}

func TestRenderSession_OmitsEmptyHeaders(t *testing.T) {
	got := renderSession(Session{
		Dialogue: []dialogue.Vector{{Origin: dialogue.OriginOperator, Payload: "hi"}},
	})
	if strings.Contains(got, "Scenario:") || strings.Contains(got, "Target rhetoric") {
		t.Errorf("rendered session contains headers for unset fields:\n%s", got)
	}
	if strings.Contains(got, "metrics") {
		t.Errorf("rendered session contains metrics section without metrics:\n%s", got)
	}
}

func TestGenerate_EmptySessionRejected(t *testing.T) {
	g, err := NewOpenAIGenerator("test-key", "gpt-4o")
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	if _, err := g.Generate(context.Background(), Session{}); err != ErrEmptySession {
		t.Fatalf("err = %v, want ErrEmptySession", err)
	}
}

func TestNewOpenAIGenerator_Validation(t *testing.T) {
	if _, err := NewOpenAIGenerator("", "gpt-4o"); err == nil {
		t.Error("empty apiKey accepted")
	}
	if _, err := NewOpenAIGenerator("key", ""); err == nil {
		t.Error("empty model accepted")
	}
}

func TestFirstLine(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Strong session overall.\nDetails follow.", "Strong session overall."},
		{"\n\n  Leading blanks.\nmore", "Leading blanks."},
		{"", ""},
		{"single", "single"},
	}
	for _, tc := range cases {
		if got := firstLine(tc.in); got != tc.want {
			t.Errorf("firstLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
