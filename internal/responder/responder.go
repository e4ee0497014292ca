// Package responder generates negotiation counterpart replies through a
// remote language-model backend, with bounded retries and a terminal
// fallback reply once the retry budget runs out.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmichaelis/parley/internal/dialogue"
	"github.com/jmichaelis/parley/internal/observe"
	"github.com/jmichaelis/parley/internal/resilience"
)

// ErrEmptyPrompt is returned when a generation request carries no prompt
// text. Empty prompts are rejected up front and never consume retry budget.
var ErrEmptyPrompt = errors.New("responder: prompt must not be empty")

// TerminalResponse is handed back after the retry budget is exhausted so
// the conversation can continue on the offline path instead of surfacing
// an error to the operator.
const TerminalResponse = "I'm having trouble responding right now. Give me a moment and let's pick this back up."

// Request carries a single generation call to the backend.
type Request struct {
	// Prompt is the operator utterance driving the reply.
	Prompt string

	// History is the prior conversation in append order.
	History []dialogue.Vector

	// Instructions is an optional system-level framing for the backend.
	Instructions string
}

// Reply is the backend's answer plus model bookkeeping.
type Reply struct {
	Text             string
	ModelUsed        string
	TokenConsumption int
}

// Backend produces one reply per request. Implementations must be safe for
// concurrent use and must respect context cancellation.
type Backend interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Responder wraps a [Backend] with retry accounting. Transient backend
// failures are retried with exponential backoff; once the budget is spent,
// generation degrades to [TerminalResponse] until [Responder.Reset].
type Responder struct {
	backend Backend
	breaker *resilience.Breaker
	metrics *observe.Metrics
}

// Config holds construction parameters for a [Responder].
type Config struct {
	Backend Backend

	// MaxAttempts bounds consecutive backend failures. Default: 3.
	MaxAttempts int

	// Backoff overrides the delay schedule between attempts.
	Backoff resilience.BackoffFunc

	// Metrics receives request instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// New constructs a [Responder].
func New(cfg Config) *Responder {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Responder{
		backend: cfg.Backend,
		metrics: cfg.Metrics,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "responder",
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
		}),
	}
}

// Generate produces the agent's reply to req. The returned meta records how
// long the backend took and what it consumed; it is nil for the terminal
// fallback reply.
func (r *Responder) Generate(ctx context.Context, req Request) (string, *dialogue.GenerationMeta, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", nil, ErrEmptyPrompt
	}

	started := time.Now()
	reply, err := resilience.ExecuteWithResult(ctx, r.breaker, func() (*Reply, error) {
		return r.backend.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrBreakerOpen) {
			slog.Warn("responder exhausted retry budget, serving terminal reply", "err", err)
			r.metrics.RecordResponderRequest(ctx, "terminal")
			return TerminalResponse, nil, nil
		}
		r.metrics.RecordResponderRequest(ctx, "failure")
		return "", nil, fmt.Errorf("responder: generate: %w", err)
	}
	r.metrics.RecordResponderRequest(ctx, "success")

	meta := &dialogue.GenerationMeta{
		ThinkingDuration: time.Since(started),
		ModelUsed:        reply.ModelUsed,
		TokenConsumption: reply.TokenConsumption,
	}
	return reply.Text, meta, nil
}

// Reset clears failure accounting so a responder that went terminal can be
// used again, typically after the operator re-establishes the live link.
func (r *Responder) Reset() {
	r.breaker.Reset()
}
