package audio

import (
	"math"
)

// defaultRingCapacity is the number of samples accumulated before an
// encoder flush. At 16 kHz this is 256 ms of audio per envelope.
const defaultRingCapacity = 4096

// CaptureEncoder turns raw microphone sample blocks into fixed-size
// [TransportEnvelope] values and per-block amplitude events.
//
// The encoder is driven from the capture callback and performs no blocking
// work itself: both callbacks fire synchronously on the capture goroutine and
// must hand off quickly. The encoder owns its ring buffer exclusively; it is
// not safe for concurrent Ingest calls.
type CaptureEncoder struct {
	onAmplitude func(rms float64)
	onEnvelope  func(TransportEnvelope)
	onDropped   func()

	ring []float32
	fill int
}

// CaptureEncoderConfig configures a [CaptureEncoder].
type CaptureEncoderConfig struct {
	// RingCapacity is the number of samples buffered before an envelope is
	// emitted. Defaults to 4096 if zero.
	RingCapacity int

	// OnAmplitude receives the RMS amplitude of every ingested block,
	// regardless of mute state. Must not block.
	OnAmplitude func(rms float64)

	// OnEnvelope receives one envelope each time the ring buffer fills.
	// Must not block.
	OnEnvelope func(TransportEnvelope)

	// OnDropped is called once per block discarded for non-finite samples.
	// Must not block.
	OnDropped func()
}

// NewCaptureEncoder creates a [CaptureEncoder] with the given configuration.
func NewCaptureEncoder(cfg CaptureEncoderConfig) *CaptureEncoder {
	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &CaptureEncoder{
		onAmplitude: cfg.OnAmplitude,
		onEnvelope:  cfg.OnEnvelope,
		onDropped:   cfg.OnDropped,
		ring:        make([]float32, capacity),
	}
}

// Ingest processes one captured sample block. It always emits an amplitude
// event for the block; samples are appended to the ring buffer and, when the
// buffer fills, quantized to PCM16, base64-encoded and emitted as a single
// envelope before the buffer resets.
//
// A block containing a non-finite sample is reported as zero amplitude and
// dropped without touching the ring buffer. Ingest never fails.
func (e *CaptureEncoder) Ingest(frame Frame) {
	rms, finite := blockRMS(frame.Samples)
	if e.onAmplitude != nil {
		e.onAmplitude(rms)
	}
	if !finite {
		if e.onDropped != nil {
			e.onDropped()
		}
		return
	}

	for _, s := range frame.Samples {
		e.ring[e.fill] = s
		e.fill++
		if e.fill == len(e.ring) {
			e.flush()
		}
	}
}

// Reset discards any buffered samples without emitting an envelope.
func (e *CaptureEncoder) Reset() {
	e.fill = 0
}

// flush emits the full ring buffer as one envelope and resets the fill mark.
func (e *CaptureEncoder) flush() {
	if e.onEnvelope != nil {
		e.onEnvelope(TransportEnvelope{
			MIMEType: CaptureMIMEType,
			Data:     EncodePCM16(e.ring),
		})
	}
	e.fill = 0
}

// blockRMS computes the root-mean-square amplitude of a sample block.
// finite is false if any sample is NaN or ±Inf, in which case rms is zero.
func blockRMS(samples []float32) (rms float64, finite bool) {
	if len(samples) == 0 {
		return 0, true
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples))), true
}
