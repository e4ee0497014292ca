package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// defaultStreamBlock is the number of samples per capture block read from a
// stream source. At 16 kHz this is 64 ms per block.
const defaultStreamBlock = 1024

// StreamSource is a [CaptureSource] that reads raw little-endian PCM16 from
// an io.Reader, typically a pipe fed by an external recorder such as arecord
// or sox. Blocks are delivered on a dedicated goroutine; EOF ends capture
// silently.
type StreamSource struct {
	r         io.Reader
	blockSize int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewStreamSource creates a [StreamSource] reading blockSize samples per
// block. A non-positive blockSize uses a 1024-sample default.
func NewStreamSource(r io.Reader, blockSize int) *StreamSource {
	if blockSize <= 0 {
		blockSize = defaultStreamBlock
	}
	return &StreamSource{r: r, blockSize: blockSize}
}

// Start begins reading the stream and delivering frames to fn.
func (s *StreamSource) Start(fn func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("audio: stream source already started")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.readLoop(fn, s.stop, s.done)
	return nil
}

// Stop ends capture and waits for the read goroutine to exit. Idempotent.
func (s *StreamSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

func (s *StreamSource) readLoop(fn func(Frame), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, s.blockSize*2)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			// A trailing partial block is truncated to whole samples.
			fn(Frame{
				Samples:   samplesFromPCM16(buf[:n-n%2]),
				Timestamp: time.Now(),
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Warn("audio: stream source read", "err", err)
			}
			return
		}
	}
}

var _ CaptureSource = (*StreamSource)(nil)

// WallClock is a [PlaybackClock] measuring elapsed wall time from its
// construction.
type WallClock struct {
	start time.Time
}

// NewWallClock creates a [WallClock] starting now.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now returns the elapsed time since construction.
func (c *WallClock) Now() time.Duration {
	return time.Since(c.start)
}

var _ PlaybackClock = (*WallClock)(nil)

// StreamSink is a [PlaybackSink] that writes scheduled buffers as raw
// little-endian PCM16 to an io.Writer in schedule order. The scheduler's
// cursor already serializes and orders buffers, so the sink writes
// sequentially and ignores the absolute start times.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamSink creates a [StreamSink] writing to w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// ScheduleAt implements [PlaybackSink].
func (s *StreamSink) ScheduleAt(samples []float32, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(quantizePCM16(samples)); err != nil {
		slog.Warn("audio: stream sink write", "err", err)
	}
}

var _ PlaybackSink = (*StreamSink)(nil)
