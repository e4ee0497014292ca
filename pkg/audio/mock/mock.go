// Package mock provides in-memory mock implementations of the audio package
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
package mock

import (
	"sync"
	"time"

	"github.com/jmichaelis/parley/pkg/audio"
)

// ─── CaptureSource ────────────────────────────────────────────────────────────

// CaptureSource is a mock implementation of [audio.CaptureSource].
// Feed blocks through [CaptureSource.Emit] after Start has been called.
type CaptureSource struct {
	mu sync.Mutex

	// StartError is returned by [CaptureSource.Start].
	StartError error

	// StopError is returned by [CaptureSource.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	fn func(audio.Frame)
}

// Start implements [audio.CaptureSource].
func (c *CaptureSource) Start(fn func(audio.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.fn = fn
	return nil
}

// Stop implements [audio.CaptureSource].
func (c *CaptureSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.fn = nil
	return c.StopError
}

// Emit delivers a sample block to the registered callback, simulating one
// capture tick. It is a no-op if Start has not been called.
func (c *CaptureSource) Emit(frame audio.Frame) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// ─── Clock ────────────────────────────────────────────────────────────────────

// Clock is a mock [audio.PlaybackClock] whose position is set by the test.
type Clock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now implements [audio.PlaybackClock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to position d.
func (c *Clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Scheduled records a single [audio.PlaybackSink.ScheduleAt] call.
type Scheduled struct {
	Samples []float32
	Start   time.Duration
}

// Sink is a mock [audio.PlaybackSink] that records every scheduled buffer.
type Sink struct {
	mu    sync.Mutex
	calls []Scheduled
}

// ScheduleAt implements [audio.PlaybackSink].
func (s *Sink) ScheduleAt(samples []float32, start time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Scheduled{Samples: samples, Start: start})
}

// Calls returns a copy of all recorded ScheduleAt calls in order.
func (s *Sink) Calls() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Scheduled, len(s.calls))
	copy(out, s.calls)
	return out
}
