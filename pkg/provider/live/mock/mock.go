// Package mock provides in-memory mock implementations of the live.Provider
// and live.SessionHandle interfaces for use in unit tests.
//
// The mocks record every call so that tests can assert on call counts and
// arguments, and expose exported fields the test sets to control behaviour.
package mock

import (
	"context"
	"sync"

	"github.com/jmichaelis/parley/pkg/audio"
	"github.com/jmichaelis/parley/pkg/provider/live"
)

// Compile-time interface assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*Session)(nil)

// Provider is a mock [live.Provider]. Each Connect call returns a fresh
// [Session] unless ConnectError is set.
type Provider struct {
	mu sync.Mutex

	// ConnectError, when non-nil, is returned by every Connect call.
	ConnectError error

	// ConnectHook, when non-nil, runs inside Connect before a session is
	// created. It can block (to simulate a slow dial) or flip ConnectError.
	ConnectHook func(ctx context.Context)

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	// Sessions holds every session handed out, in creation order.
	Sessions []*Session
}

// ConnectCount returns how many times Connect was called.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountConnect
}

// SessionList returns a copy of every session handed out so far.
func (p *Provider) SessionList() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.Sessions))
	copy(out, p.Sessions)
	return out
}

// SetConnectError atomically replaces ConnectError.
func (p *Provider) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectError = err
}

// Connect implements [live.Provider].
func (p *Provider) Connect(ctx context.Context, _ live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.CallCountConnect++
	hook := p.ConnectHook
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	sess := NewSession()
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Session is a mock [live.SessionHandle]. Tests drive the inbound side with
// [Session.EmitAudio], [Session.EmitFragment], [Session.Fail] and
// [Session.Terminate], and inspect the outbound side via
// [Session.SentEnvelopes].
type Session struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by every SendEnvelope call.
	SendError error

	sent         []audio.TransportEnvelope
	audioCh      chan string
	transcripts  chan live.Fragment
	errorHandler func(error)
	errVal       error
	closed       bool
	closeOnce    sync.Once

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSession creates a ready-to-use mock session.
func NewSession() *Session {
	return &Session{
		audioCh:     make(chan string, 16),
		transcripts: make(chan live.Fragment, 16),
	}
}

// SendEnvelope implements [live.SessionHandle].
func (s *Session) SendEnvelope(env audio.TransportEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendError != nil {
		return s.SendError
	}
	s.sent = append(s.sent, env)
	return nil
}

// SentEnvelopes returns a copy of everything sent so far.
func (s *Session) SentEnvelopes() []audio.TransportEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.TransportEnvelope, len(s.sent))
	copy(out, s.sent)
	return out
}

// Audio implements [live.SessionHandle].
func (s *Session) Audio() <-chan string { return s.audioCh }

// Transcripts implements [live.SessionHandle].
func (s *Session) Transcripts() <-chan live.Fragment { return s.transcripts }

// OnError implements [live.SessionHandle].
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

// Err implements [live.SessionHandle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements [live.SessionHandle]. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// EmitAudio delivers an inbound audio payload to the session's consumers.
func (s *Session) EmitAudio(data string) {
	s.audioCh <- data
}

// EmitFragment delivers an inbound transcript fragment.
func (s *Session) EmitFragment(f live.Fragment) {
	s.transcripts <- f
}

// Terminate records err and closes the inbound channels without invoking the
// error handler, simulating a transport read failure that consumers only
// observe through stream closure.
func (s *Session) Terminate(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
}

// HandlerRegistered reports whether OnError has been called.
func (s *Session) HandlerRegistered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorHandler != nil
}

// Fail records err as the session's terminal error and invokes the
// registered error handler, simulating an asynchronous transport failure.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.errVal == nil {
		s.errVal = err
	}
	handler := s.errorHandler
	s.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}
