package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jmichaelis/parley/internal/dialogue"
)

const reportInstructions = `You are a negotiation coach reviewing a practice session transcript.
Write a concise debrief: what the operator did well, where they drifted from
the target rhetoric pattern, and two concrete suggestions. Start with a
one-sentence summary on its own line.`

// OpenAIGenerator implements [Generator] against the OpenAI chat completions
// API.
type OpenAIGenerator struct {
	client oai.Client
	model  string
}

// NewOpenAIGenerator constructs an [OpenAIGenerator].
func NewOpenAIGenerator(apiKey, model string, opts ...option.RequestOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("report: openai apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("report: openai model must not be empty")
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIGenerator{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Generate implements [Generator].
func (g *OpenAIGenerator) Generate(ctx context.Context, session Session) (*Report, error) {
	if len(session.Dialogue) == 0 {
		return nil, ErrEmptySession
	}

	resp, err := g.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(reportInstructions),
			oai.UserMessage(renderSession(session)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("report: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("report: empty choices in response")
	}

	content := resp.Choices[0].Message.Content
	return &Report{
		Summary:     firstLine(content),
		Content:     content,
		ModelUsed:   g.model,
		GeneratedAt: time.Now(),
	}, nil
}

// renderSession flattens the session into the prompt text sent to the model.
func renderSession(session Session) string {
	var b strings.Builder
	if session.ScenarioDesignation != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", session.ScenarioDesignation)
	}
	if session.TargetPattern != "" {
		fmt.Fprintf(&b, "Target rhetoric pattern: %s\n", session.TargetPattern)
	}

	b.WriteString("\nTranscript:\n")
	for _, v := range session.Dialogue {
		role := "Operator"
		if v.Origin == dialogue.OriginAgent {
			role = "Counterpart"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, v.Payload)
	}

	if len(session.Metrics) > 0 {
		b.WriteString("\nPer-utterance metrics (velocity wpm / hesitations / confidence / aggression):\n")
		for i, m := range session.Metrics {
			fmt.Fprintf(&b, "%d: %.0f / %d / %.2f / %.1f\n",
				i+1, m.VerbalVelocity, m.HesitationMarkers, m.ConfidenceScore, m.AggressionIndex)
		}
	}
	return b.String()
}

// firstLine extracts the leading non-empty line of the generated content.
func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ Generator = (*OpenAIGenerator)(nil)
