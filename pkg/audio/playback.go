package audio

import (
	"sync"
	"time"
)

// PlaybackClock reports the current position of the playback timeline.
// Implementations are typically backed by the output device's own clock.
type PlaybackClock interface {
	Now() time.Duration
}

// PlaybackSink receives decoded sample buffers with an absolute start time on
// the playback timeline. Implementations must tolerate being called from
// multiple goroutines; ordering is guaranteed by the [Scheduler].
type PlaybackSink interface {
	ScheduleAt(samples []float32, start time.Duration)
}

// Scheduler lines up decoded remote audio buffers for gapless sequential
// playback. It owns a single monotonic cursor — the start time of the next
// buffer — and serializes all enqueue operations against it, so concurrent
// decode completions cannot interleave their read-modify-write of the cursor.
type Scheduler struct {
	clock PlaybackClock
	sink  PlaybackSink

	mu        sync.Mutex
	nextStart time.Duration
}

// NewScheduler creates a [Scheduler] that reads the playback position from
// clock and hands scheduled buffers to sink.
func NewScheduler(clock PlaybackClock, sink PlaybackSink) *Scheduler {
	return &Scheduler{clock: clock, sink: sink}
}

// Enqueue schedules samples to start immediately after the previously
// enqueued buffer. If the cursor has fallen behind the playback clock (after
// silence or a pause), it snaps forward to the clock first so playback does
// not drift into the past.
func (s *Scheduler) Enqueue(samples []float32, duration time.Duration) {
	s.mu.Lock()
	if now := s.clock.Now(); s.nextStart < now {
		s.nextStart = now
	}
	start := s.nextStart
	s.nextStart += duration
	s.mu.Unlock()

	s.sink.ScheduleAt(samples, start)
}

// EnqueuePCM decodes a base64 PCM16 payload at the playback sample rate
// (24 kHz mono) and enqueues it. The buffer duration is derived from the
// sample count. Malformed payloads return [ErrMalformedPayload] (wrapped)
// and schedule nothing.
func (s *Scheduler) EnqueuePCM(data string) error {
	samples, err := DecodePCM16(data)
	if err != nil {
		return err
	}
	duration := time.Duration(len(samples)) * time.Second / PlaybackSampleRate
	s.Enqueue(samples, duration)
	return nil
}

// Reset snaps the cursor back to the current playback position, dropping any
// accumulated lead. Used when a session is severed so a new session starts
// scheduling from "now".
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextStart = s.clock.Now()
}
