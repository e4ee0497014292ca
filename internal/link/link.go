// Package link owns the live session lifecycle: the state machine that
// connects capture audio to the remote agent, routes the agent's reply into
// playback, and recovers from transport failures with circuit-broken
// reconnection.
//
// A [Link] moves through Idle → Connecting → Active ⇄ Degraded → Closed.
// Sever tears the link down from any state, idempotently. Every connect
// cycle carries a fresh generation token; async completions and error
// callbacks from a previous generation are discarded, so neither a sever
// issued mid-connect nor a stale session failing late can disturb the
// cycle that replaced it.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmichaelis/parley/internal/observe"
	"github.com/jmichaelis/parley/internal/resilience"
	"github.com/jmichaelis/parley/pkg/audio"
	"github.com/jmichaelis/parley/pkg/provider/live"
)

// ErrCaptureUnavailable indicates the capture device could not be acquired.
// This is a configuration failure: it is surfaced immediately and never
// retried.
var ErrCaptureUnavailable = errors.New("link: capture device unavailable")

// ErrConnectInFlight is returned by [Link.Connect] while another connect
// attempt is still outstanding.
var ErrConnectInFlight = errors.New("link: connect already in progress")

// State is the lifecycle state of a [Link].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDegraded
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// defaultSendBuffer is the depth of the outbound envelope queue between the
// capture callback and the network sender goroutine.
const defaultSendBuffer = 16

// Config configures a [Link].
type Config struct {
	// Provider establishes live sessions. Required.
	Provider live.Provider

	// Capture is the audio input device. Required.
	Capture audio.CaptureSource

	// Scheduler receives the agent's decoded reply audio. Required.
	Scheduler *audio.Scheduler

	// Session is passed to Provider.Connect on every attempt.
	Session live.SessionConfig

	// MaxAttempts bounds consecutive reconnection attempts before the link
	// closes terminally. Defaults to 3 if zero.
	MaxAttempts int

	// Backoff computes the retry delay. Defaults to 2^attempt seconds.
	Backoff resilience.BackoffFunc

	// RingCapacity is forwarded to the capture encoder. Zero means default.
	RingCapacity int

	// OnAmplitude receives the RMS amplitude of every capture block,
	// regardless of the capture-active flag. Must not block. May be nil.
	OnAmplitude func(rms float64)

	// OnTranscript receives transcript fragments from the session. May be nil.
	OnTranscript func(f live.Fragment)

	// OnStateChange is invoked after every state transition. May be nil.
	OnStateChange func(s State)

	// OnTerminal is invoked once when retry attempts are exhausted and the
	// link closes. May be nil.
	OnTerminal func(err error)

	// Metrics receives link instrumentation. Defaults to
	// [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Link is the voice link state machine. It exclusively owns the session
// handle, the generation token and the retry timer; no other component
// mutates them. All exported methods are safe for concurrent use.
type Link struct {
	provider   live.Provider
	capture    audio.CaptureSource
	scheduler  *audio.Scheduler
	sessionCfg live.SessionConfig
	breaker    *resilience.Breaker
	encoder    *audio.CaptureEncoder
	metrics    *observe.Metrics

	onAmplitude  func(float64)
	onTranscript func(live.Fragment)
	onTerminal   func(error)
	notifyCh     chan State

	mu            sync.Mutex
	state         State
	generation    uint64
	session       live.SessionHandle
	retryTimer    *time.Timer
	captureActive bool
	capturing     bool
	outCh         chan audio.TransportEnvelope
	stopSend      chan struct{}
}

// New creates a [Link] in the idle state.
func New(cfg Config) *Link {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = resilience.ExponentialBackoff(time.Second, 0)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	l := &Link{
		provider:   cfg.Provider,
		capture:    cfg.Capture,
		scheduler:  cfg.Scheduler,
		sessionCfg: cfg.Session,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "link-reconnect",
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     backoff,
		}),
		onAmplitude:  cfg.OnAmplitude,
		onTranscript: cfg.OnTranscript,
		onTerminal:   cfg.OnTerminal,
		metrics:      cfg.Metrics,
	}
	if cfg.OnStateChange != nil {
		// A single notifier goroutine keeps observed transitions in the
		// order they happened. It lives as long as the link does.
		l.notifyCh = make(chan State, 32)
		go func() {
			for s := range l.notifyCh {
				cfg.OnStateChange(s)
			}
		}()
	}
	l.encoder = audio.NewCaptureEncoder(audio.CaptureEncoderConfig{
		RingCapacity: cfg.RingCapacity,
		OnAmplitude:  l.handleAmplitude,
		OnEnvelope:   l.handleEnvelope,
		OnDropped: func() {
			l.metrics.FramesDropped.Add(context.Background(), 1)
		},
	})
	return l
}

// State returns the current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetCaptureActive flips the externally-controlled capture flag. While
// false, encoded envelopes are still computed (amplitude reporting continues)
// but payload transmission to the agent is suppressed.
func (l *Link) SetCaptureActive(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.captureActive = active
}

// Connect starts a connect cycle: acquire the capture device, then request a
// remote session asynchronously. Allowed from Idle and Closed (a manual
// reconnect after exhaustion resets the retry budget). Returns
// [ErrConnectInFlight] if an attempt is already outstanding and
// [ErrCaptureUnavailable] if the capture device cannot be acquired.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateConnecting:
		l.mu.Unlock()
		return ErrConnectInFlight
	case StateActive, StateDegraded:
		l.mu.Unlock()
		return fmt.Errorf("link: connect from %s state", l.state)
	}

	// Manual reconnect after terminal closure restores the attempt budget.
	if l.state == StateClosed {
		l.breaker.Reset()
	}

	if !l.capturing {
		if err := l.capture.Start(l.handleFrame); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
		}
		l.capturing = true
	}

	l.captureActive = true
	l.setStateLocked(StateConnecting)
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	go l.connectAttempt(ctx, gen)
	return nil
}

// connectAttempt performs one asynchronous session request for generation
// gen. A completion whose generation no longer matches is discarded.
func (l *Link) connectAttempt(ctx context.Context, gen uint64) {
	sess, err := l.provider.Connect(ctx, l.sessionCfg)

	if sess != nil {
		// Registered before the session is exposed: an error fired during
		// the hand-off must not land on a nil handler.
		sess.OnError(func(err error) {
			l.degrade(gen, fmt.Errorf("link: session error: %w", err))
		})
	}

	l.mu.Lock()
	if l.generation != gen || l.state != StateConnecting {
		l.mu.Unlock()
		// The link was severed, or the session already errored, while this
		// attempt was in flight.
		if sess != nil {
			_ = sess.Close()
		}
		return
	}

	if err != nil {
		l.mu.Unlock()
		l.degrade(gen, fmt.Errorf("link: connect: %w", err))
		return
	}

	l.session = sess
	l.outCh = make(chan audio.TransportEnvelope, defaultSendBuffer)
	l.stopSend = make(chan struct{})
	l.breaker.Success()
	l.setStateLocked(StateActive)
	l.metrics.RecordReconnect(ctx, "success")
	l.metrics.ActiveLinks.Add(ctx, 1)

	outCh, stopSend := l.outCh, l.stopSend
	l.mu.Unlock()

	go l.sendLoop(gen, sess, outCh, stopSend)
	go l.forwardAudio(gen, sess)
	go l.forwardTranscripts(gen, sess)

	slog.Info("link active", "generation", gen)
}

// degrade moves generation gen into the degraded state and consults the
// breaker: if attempts remain, a cancellable retry timer is armed; otherwise
// the link closes terminally.
func (l *Link) degrade(gen uint64, cause error) {
	l.mu.Lock()
	if l.generation != gen || l.state == StateDegraded || l.state == StateClosed {
		l.mu.Unlock()
		return
	}

	sess := l.teardownSessionLocked()
	l.setStateLocked(StateDegraded)
	l.metrics.RecordReconnect(context.Background(), "failure")

	delay, retry := l.breaker.Failure(cause)
	if !retry {
		l.metrics.RecordReconnect(context.Background(), "exhausted")
		l.setStateLocked(StateClosed)
		onTerminal := l.onTerminal
		l.mu.Unlock()

		if sess != nil {
			_ = sess.Close()
		}
		slog.Error("link closed: retry attempts exhausted", "err", cause)
		if onTerminal != nil {
			onTerminal(fmt.Errorf("%w: %w", resilience.ErrBreakerOpen, cause))
		}
		return
	}

	slog.Warn("link degraded, scheduling reconnect",
		"err", cause,
		"delay", delay,
		"attempt", l.breaker.Attempt(),
	)

	// The timer is keyed to the failed generation: a sever cancels it, and
	// even a lost cancellation race is harmless because the fire callback
	// re-checks the generation under the lock. The new attempt gets a fresh
	// generation so late callbacks from the dead session cannot touch it.
	l.retryTimer = time.AfterFunc(delay, func() {
		l.mu.Lock()
		if l.generation != gen || l.state != StateDegraded {
			l.mu.Unlock()
			return
		}
		l.generation++
		next := l.generation
		l.setStateLocked(StateConnecting)
		l.mu.Unlock()
		l.connectAttempt(context.Background(), next)
	})
	l.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
}

// Sever tears the link down from any state: the retry timer is cancelled,
// the capture device released, the session closed, and the generation token
// bumped so in-flight connect completions are discarded. Safe to call
// multiple times and without a prior Connect.
func (l *Link) Sever() {
	l.mu.Lock()
	l.generation++

	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}

	sess := l.teardownSessionLocked()

	if l.capturing {
		if err := l.capture.Stop(); err != nil {
			slog.Warn("link: capture stop", "err", err)
		}
		l.capturing = false
	}
	l.encoder.Reset()
	l.scheduler.Reset()
	l.breaker.Reset()

	alreadyIdle := l.state == StateIdle
	l.setStateLocked(StateIdle)
	l.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if !alreadyIdle {
		slog.Info("link severed")
	}
}

// teardownSessionLocked detaches the current session and stops the sender
// goroutine. Must be called with l.mu held. The returned session, if any,
// must be closed by the caller outside the lock: closing it also unblocks
// the forward goroutines reading its channels.
func (l *Link) teardownSessionLocked() live.SessionHandle {
	if l.stopSend != nil {
		close(l.stopSend)
		l.stopSend = nil
	}
	sess := l.session
	l.session = nil
	l.outCh = nil
	if sess != nil {
		l.metrics.ActiveLinks.Add(context.Background(), -1)
	}
	return sess
}

// setStateLocked records a state transition and queues the observer
// notification. Must be called with l.mu held. Notifications are delivered
// in transition order by the notifier goroutine; a lagging observer loses
// notifications rather than stalling the state machine.
func (l *Link) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.state = s
	if l.notifyCh != nil {
		select {
		case l.notifyCh <- s:
		default:
			slog.Warn("link: state observer lagging, notification dropped", "state", s)
		}
	}
}

// ── capture path ───────────────────────────────────────────────────────────────

// handleFrame runs on the capture goroutine for every sample block. It only
// feeds the encoder — no blocking I/O happens here.
func (l *Link) handleFrame(frame audio.Frame) {
	l.encoder.Ingest(frame)
}

// handleAmplitude forwards RMS events. Amplitude reporting is independent of
// the capture-active flag.
func (l *Link) handleAmplitude(rms float64) {
	if l.onAmplitude != nil {
		l.onAmplitude(rms)
	}
}

// handleEnvelope hands a full envelope to the sender goroutine. It runs on
// the capture goroutine, so the hand-off is non-blocking: if the queue is
// full the envelope is dropped rather than stalling capture.
func (l *Link) handleEnvelope(env audio.TransportEnvelope) {
	l.mu.Lock()
	ch := l.outCh
	suppressed := !l.captureActive || l.state != StateActive
	l.mu.Unlock()

	l.metrics.FramesEncoded.Add(context.Background(), 1)
	if suppressed || ch == nil {
		return
	}

	select {
	case ch <- env:
	default:
		slog.Warn("link: outbound queue full, dropping envelope")
	}
}

// sendLoop delivers queued envelopes to the session. Delivery is
// fire-and-forget; a send failure degrades the link.
func (l *Link) sendLoop(gen uint64, sess live.SessionHandle, ch <-chan audio.TransportEnvelope, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case env := <-ch:
			if err := sess.SendEnvelope(env); err != nil {
				l.degrade(gen, fmt.Errorf("link: send: %w", err))
				return
			}
		}
	}
}

// ── inbound path ───────────────────────────────────────────────────────────────

// forwardAudio routes the agent's reply audio into the playback scheduler.
// A malformed payload is logged and skipped; the session keeps running.
// Channel closure means the inbound stream is gone: the transport read
// failed or the remote hung up. Either way the session is dead, so the
// closure is reported as a transport failure; degrade discards it when this
// generation no longer owns the link.
func (l *Link) forwardAudio(gen uint64, sess live.SessionHandle) {
	for data := range sess.Audio() {
		if err := l.scheduler.EnqueuePCM(data); err != nil {
			slog.Error("link: dropping malformed audio payload", "err", err)
		}
	}
	l.degrade(gen, receiveFailure(sess))
}

// forwardTranscripts routes transcript fragments to the registered callback.
func (l *Link) forwardTranscripts(gen uint64, sess live.SessionHandle) {
	for f := range sess.Transcripts() {
		if l.onTranscript != nil {
			l.onTranscript(f)
		}
	}
	l.degrade(gen, receiveFailure(sess))
}

// receiveFailure describes why the inbound stream ended.
func receiveFailure(sess live.SessionHandle) error {
	if err := sess.Err(); err != nil {
		return fmt.Errorf("link: session receive: %w", err)
	}
	return errors.New("link: session terminated by remote")
}
