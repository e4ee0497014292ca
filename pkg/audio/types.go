package audio

import "time"

// Wire formats used on the live link. Captured audio is sent upstream as
// 16 kHz mono PCM16; the remote agent replies with 24 kHz mono PCM16.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// CaptureMIMEType is the mimeType attached to every outbound envelope.
	CaptureMIMEType = "audio/pcm;rate=16000"
)

// Frame is a single block of captured microphone audio: normalized float
// samples in [-1, 1] plus the capture timestamp. Frames are ephemeral — one
// is produced per capture callback tick and never retained.
type Frame struct {
	Samples   []float32
	Timestamp time.Time
}

// TransportEnvelope is the unit sent over the live link: base64-encoded
// little-endian PCM16 plus format metadata. Immutable once built.
type TransportEnvelope struct {
	MIMEType string
	Data     string // base64(int16-LE PCM)
}

// CaptureSource delivers successive fixed-size sample blocks from an audio
// input device. Implementations invoke the registered callback on a dedicated
// capture goroutine driven by the device's block cadence.
type CaptureSource interface {
	// Start begins capture, delivering sample blocks to fn until Stop is
	// called. fn must never perform blocking I/O.
	Start(fn func(Frame)) error

	// Stop releases the capture device. Safe to call multiple times.
	Stop() error
}
