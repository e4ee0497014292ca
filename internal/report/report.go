// Package report generates post-session debrief reports from the dialogue
// log and metric history. The engine treats report contents as opaque text;
// interpretation and rendering belong to the caller.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/jmichaelis/parley/internal/dialogue"
	"github.com/jmichaelis/parley/internal/telemetry"
)

// ErrEmptySession is returned when a report is requested for a session with
// no logged dialogue.
var ErrEmptySession = errors.New("report: session has no dialogue to analyze")

// Session is the input to report generation: everything recorded during one
// negotiation run.
type Session struct {
	// ScenarioDesignation names the scenario that was run, if any.
	ScenarioDesignation string

	// TargetPattern is the rhetoric pattern the operator was coached toward.
	TargetPattern string

	// Dialogue is the full message history in append order.
	Dialogue []dialogue.Vector

	// Metrics is the per-utterance metric history in append order.
	Metrics []telemetry.Metric
}

// Report is the generated debrief. Content is opaque prose; Summary is a
// short extract suitable for list views.
type Report struct {
	Summary     string
	Content     string
	ModelUsed   string
	GeneratedAt time.Time
}

// Generator produces a debrief report for a completed session.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, session Session) (*Report, error)
}
