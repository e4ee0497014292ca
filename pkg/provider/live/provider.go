// Package live defines the Provider interface for real-time conversational
// agent backends.
//
// A live provider wraps a bidirectional, low-latency voice service: the
// operator's encoded audio goes up, the agent's synthesised audio and
// transcript fragments come back, all multiplexed over one stateful session.
// The central abstraction is SessionHandle; sessions are long-lived and are
// owned exclusively by the link state machine.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/jmichaelis/parley/pkg/audio"
)

// Speaker origins carried by [Fragment].
const (
	OriginOperator = "operator"
	OriginAgent    = "agent"
)

// Fragment is one piece of transcript text received from the session.
// Partial fragments stream in while the speaker talks; the closing fragment
// of an utterance carries Final = true.
type Fragment struct {
	// Origin identifies the speaker: [OriginOperator] for recognised user
	// speech, [OriginAgent] for the model's own output transcription.
	Origin string

	// Text is the transcript text of this fragment.
	Text string

	// Final marks the last fragment of an utterance.
	Final bool
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Instructions is the system-level prompt framing the agent's negotiation
	// persona and scenario context.
	Instructions string

	// Voice selects the agent's synthesised voice. Empty uses the provider
	// default.
	Voice string
}

// SessionHandle represents an open live session. It is an interface so that
// tests can substitute the mock implementation in [live/mock].
type SessionHandle interface {
	// SendEnvelope delivers one encoded capture envelope to the agent.
	// Delivery is fire-and-forget: there is no acknowledgement and no
	// backpressure signal. A send error means the transport is broken.
	SendEnvelope(env audio.TransportEnvelope) error

	// Audio returns the channel carrying the agent's reply audio as base64
	// PCM16 payloads at 24 kHz mono. The channel closes when the session
	// terminates.
	Audio() <-chan string

	// Transcripts returns the channel carrying transcript fragments for both
	// sides of the conversation. The channel closes when the session
	// terminates.
	Transcripts() <-chan Fragment

	// OnError registers a callback for asynchronous transport errors. The
	// callback may be invoked from the session's receive goroutine and must
	// not block.
	OnError(func(error))

	// Err returns the first error that caused the session to terminate, or
	// nil while the session is healthy.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	Close() error
}

// Provider establishes live sessions with a remote conversational agent.
type Provider interface {
	// Connect opens a new session. The returned handle is ready to accept
	// envelopes immediately.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
