// Package app assembles the negotiation engine: the live link, the metric
// pipeline, the dialogue log, the offline simulator and the remote responder,
// behind one orchestrating [Engine].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmichaelis/parley/internal/dialogue"
	"github.com/jmichaelis/parley/internal/link"
	"github.com/jmichaelis/parley/internal/observe"
	"github.com/jmichaelis/parley/internal/report"
	"github.com/jmichaelis/parley/internal/resilience"
	"github.com/jmichaelis/parley/internal/responder"
	"github.com/jmichaelis/parley/internal/scenario"
	"github.com/jmichaelis/parley/internal/telemetry"
	"github.com/jmichaelis/parley/pkg/audio"
	"github.com/jmichaelis/parley/pkg/provider/live"
)

// ErrEmptyUtterance is returned when an utterance with no content is
// submitted. Rejected synchronously, never retried.
var ErrEmptyUtterance = errors.New("app: utterance must not be empty")

// ErrNoScenario is returned when an offline reply is needed but no scenario
// is active and no remote responder is configured.
var ErrNoScenario = errors.New("app: no active scenario and no responder configured")

// Config wires the engine's collaborators. Provider, Capture and Scheduler
// are required; the rest degrade gracefully when absent.
type Config struct {
	Provider  live.Provider
	Capture   audio.CaptureSource
	Scheduler *audio.Scheduler

	// Registry supplies scenarios for the offline simulator. May be nil.
	Registry *scenario.Registry

	// Responder generates replies when the link is down and no scenario rule
	// applies. May be nil.
	Responder *responder.Responder

	// Reporter produces the post-session debrief. May be nil.
	Reporter report.Generator

	// Session is the live session configuration.
	Session live.SessionConfig

	// MaxReconnectAttempts and Backoff tune link recovery.
	MaxReconnectAttempts int
	Backoff              resilience.BackoffFunc

	// RingCapacity is forwarded to the capture encoder.
	RingCapacity int

	// OnAmplitude mirrors capture amplitude events to the UI. May be nil.
	OnAmplitude func(rms float64)

	// OnReply receives every agent reply produced while offline. May be nil.
	OnReply func(text string)

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Engine owns one negotiation session end to end. All exported methods are
// safe for concurrent use.
type Engine struct {
	link      *link.Link
	simulator *scenario.Simulator
	registry  *scenario.Registry
	responder *responder.Responder
	reporter  report.Generator
	metrics   *observe.Metrics

	window *telemetry.Window
	log    *dialogue.Log

	onAmplitude func(float64)
	onReply     func(string)

	mu           sync.Mutex
	active       *scenario.Matrix
	segmentStart time.Time
	segmentPeak  float64
	closed       bool
}

// New assembles an [Engine] from cfg.
func New(cfg Config) *Engine {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	e := &Engine{
		registry:    cfg.Registry,
		responder:   cfg.Responder,
		reporter:    cfg.Reporter,
		metrics:     cfg.Metrics,
		window:      telemetry.NewWindow(telemetry.DefaultWindowSize),
		log:         dialogue.NewLog(),
		onAmplitude: cfg.OnAmplitude,
		onReply:     cfg.OnReply,
	}
	if cfg.Registry != nil {
		e.simulator = scenario.NewSimulator(cfg.Registry)
	}
	e.link = link.New(link.Config{
		Provider:     cfg.Provider,
		Capture:      cfg.Capture,
		Scheduler:    cfg.Scheduler,
		Session:      cfg.Session,
		MaxAttempts:  cfg.MaxReconnectAttempts,
		Backoff:      cfg.Backoff,
		RingCapacity: cfg.RingCapacity,
		Metrics:      cfg.Metrics,
		OnAmplitude:  e.handleAmplitude,
		OnTranscript: e.handleTranscript,
		OnTerminal: func(err error) {
			slog.Warn("live link closed terminally, offline fallback active", "err", err)
		},
	})
	return e
}

// Connect brings the live link up. See [link.Link.Connect] for semantics.
func (e *Engine) Connect(ctx context.Context) error {
	return e.link.Connect(ctx)
}

// Sever tears the live link down. Idempotent.
func (e *Engine) Sever() {
	e.link.Sever()
}

// LinkState reports the live link's lifecycle state.
func (e *Engine) LinkState() link.State {
	return e.link.State()
}

// SetCaptureActive flips payload transmission without pausing amplitude
// reporting.
func (e *Engine) SetCaptureActive(active bool) {
	e.link.SetCaptureActive(active)
}

// SetScenario activates the scenario with the given id and clears the
// dialogue log and metric window for the new run.
func (e *Engine) SetScenario(id string) error {
	if e.registry == nil {
		return fmt.Errorf("app: no scenario registry configured")
	}
	m, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.active = m
	e.mu.Unlock()

	e.log.Clear()
	e.window.Clear()
	slog.Info("scenario activated", "id", m.ID, "designation", m.Designation)
	return nil
}

// ActiveScenario returns the currently active scenario, or nil.
func (e *Engine) ActiveScenario() *scenario.Matrix {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Scenarios enumerates the full scenario library in definition order.
func (e *Engine) Scenarios() []*scenario.Matrix {
	if e.registry == nil {
		return nil
	}
	return e.registry.All()
}

// SubmitUtterance records a completed operator utterance: it is appended to
// the dialogue log, scored into the metric window, and — when the live link
// is not active — answered through the scenario simulator or the remote
// responder. The agent's reply (empty while the live link is active) is
// returned.
func (e *Engine) SubmitUtterance(ctx context.Context, utterance string) (string, error) {
	if strings.TrimSpace(utterance) == "" {
		return "", ErrEmptyUtterance
	}

	e.log.Append(dialogue.OriginOperator, utterance, nil)
	e.analyze(utterance)

	if e.link.State() == link.StateActive {
		// The live agent answers over the link.
		return "", nil
	}
	return e.offlineReply(ctx, utterance)
}

// offlineReply produces the agent's answer while the link is down: the
// active scenario's rules first, the remote responder otherwise.
func (e *Engine) offlineReply(ctx context.Context, utterance string) (string, error) {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	if active != nil && e.simulator != nil {
		reply, err := e.simulator.Respond(active.ID, utterance)
		if err != nil {
			return "", err
		}
		e.deliverReply(reply, nil)
		return reply, nil
	}

	if e.responder != nil {
		reply, meta, err := e.responder.Generate(ctx, responder.Request{
			Prompt:  utterance,
			History: e.log.Snapshot(),
		})
		if err != nil {
			return "", err
		}
		e.deliverReply(reply, meta)
		return reply, nil
	}

	return "", ErrNoScenario
}

// deliverReply logs an agent reply and mirrors it to the UI callback.
func (e *Engine) deliverReply(text string, meta *dialogue.GenerationMeta) {
	e.log.Append(dialogue.OriginAgent, text, meta)
	if e.onReply != nil {
		e.onReply(text)
	}
}

// analyze scores one utterance into the metric window using the acoustic
// context accumulated since the previous utterance.
func (e *Engine) analyze(utterance string) {
	e.mu.Lock()
	peak := e.segmentPeak
	var elapsed float64
	if !e.segmentStart.IsZero() {
		elapsed = time.Since(e.segmentStart).Seconds()
	}
	e.segmentPeak = 0
	e.segmentStart = time.Time{}
	target := ""
	if e.active != nil {
		target = e.active.TargetRhetoricPattern
	}
	e.mu.Unlock()

	started := time.Now()
	m := telemetry.Analyze(utterance, target, peak, elapsed)
	e.metrics.AnalysisDuration.Record(context.Background(), time.Since(started).Seconds())
	e.window.Append(m)
}

// handleAmplitude tracks the peak intensity of the current spoken segment
// and mirrors the event to the UI.
func (e *Engine) handleAmplitude(rms float64) {
	e.mu.Lock()
	if e.segmentStart.IsZero() {
		e.segmentStart = time.Now()
	}
	if rms > e.segmentPeak {
		e.segmentPeak = min(rms, 1)
	}
	e.mu.Unlock()

	if e.onAmplitude != nil {
		e.onAmplitude(rms)
	}
}

// handleTranscript routes live transcription: final operator fragments run
// the same scoring path as typed utterances, final agent fragments land in
// the dialogue log.
func (e *Engine) handleTranscript(f live.Fragment) {
	if !f.Final || strings.TrimSpace(f.Text) == "" {
		return
	}
	switch f.Origin {
	case live.OriginAgent:
		e.log.Append(dialogue.OriginAgent, f.Text, nil)
	default:
		e.log.Append(dialogue.OriginOperator, f.Text, nil)
		e.analyze(f.Text)
	}
}

// MetricsSnapshot returns the metric window contents, oldest first.
func (e *Engine) MetricsSnapshot() []telemetry.Metric {
	return e.window.Snapshot()
}

// DialogueSnapshot returns the dialogue log in append order.
func (e *Engine) DialogueSnapshot() []dialogue.Vector {
	return e.log.Snapshot()
}

// GenerateReport produces the post-session debrief through the configured
// report collaborator. The engine passes its histories along verbatim and
// does not interpret the result.
func (e *Engine) GenerateReport(ctx context.Context) (*report.Report, error) {
	if e.reporter == nil {
		return nil, fmt.Errorf("app: no report generator configured")
	}

	session := report.Session{
		Dialogue: e.log.Snapshot(),
		Metrics:  e.window.Snapshot(),
	}
	e.mu.Lock()
	if e.active != nil {
		session.ScenarioDesignation = e.active.Designation
		session.TargetPattern = e.active.TargetRhetoricPattern
	}
	e.mu.Unlock()

	return e.reporter.Generate(ctx, session)
}

// Close severs the link and releases the engine. Safe to call multiple
// times.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.link.Sever()
}
