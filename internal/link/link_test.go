package link

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmichaelis/parley/pkg/audio"
	audiomock "github.com/jmichaelis/parley/pkg/audio/mock"
	"github.com/jmichaelis/parley/pkg/provider/live"
	livemock "github.com/jmichaelis/parley/pkg/provider/live/mock"
)

func fastBackoff(int) time.Duration { return time.Millisecond }

type fixture struct {
	provider *livemock.Provider
	capture  *audiomock.CaptureSource
	clock    *audiomock.Clock
	sink     *audiomock.Sink
	link     *Link
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		provider: &livemock.Provider{},
		capture:  &audiomock.CaptureSource{},
		clock:    &audiomock.Clock{},
		sink:     &audiomock.Sink{},
	}
	cfg.Provider = f.provider
	cfg.Capture = f.capture
	cfg.Scheduler = audio.NewScheduler(f.clock, f.sink)
	if cfg.Backoff == nil {
		cfg.Backoff = fastBackoff
	}
	f.link = New(cfg)
	t.Cleanup(f.link.Sever)
	return f
}

// waitState polls until the link reaches want or the deadline passes.
func waitState(t *testing.T, l *Link, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", l.State(), want)
}

// session returns the most recent mock session handed out by the provider.
func (f *fixture) session(t *testing.T) *livemock.Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions := f.provider.SessionList(); len(sessions) > 0 {
			return sessions[len(sessions)-1]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("provider never handed out a session")
	return nil
}

func TestConnect_ReachesActive(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	if f.capture.CallCountStart != 1 {
		t.Fatalf("capture started %d times, want 1", f.capture.CallCountStart)
	}
}

func TestConnect_RejectsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, Config{})
	f.provider.ConnectHook = func(context.Context) { <-release }

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.link.Connect(context.Background()); !errors.Is(err, ErrConnectInFlight) {
		t.Fatalf("second Connect err = %v, want ErrConnectInFlight", err)
	}
	close(release)
}

func TestConnect_CaptureFailureIsFatal(t *testing.T) {
	f := newFixture(t, Config{})
	f.capture.StartError = errors.New("device busy")

	err := f.link.Connect(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable", err)
	}
	if f.link.State() != StateIdle {
		t.Fatalf("state = %v after capture failure, want idle (no retry)", f.link.State())
	}
	if f.provider.ConnectCount() != 0 {
		t.Fatal("no session request should be made without a capture device")
	}
}

func TestCaptureFlow_EnvelopesAndAmplitude(t *testing.T) {
	var amplitudes atomic.Int64
	f := newFixture(t, Config{
		RingCapacity: 4,
		OnAmplitude:  func(float64) { amplitudes.Add(1) },
	})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)
	sess := f.session(t)

	f.capture.Emit(audio.Frame{Samples: make([]float32, 4)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sess.SentEnvelopes()) == 0 {
		time.Sleep(time.Millisecond)
	}
	sent := sess.SentEnvelopes()
	if len(sent) != 1 {
		t.Fatalf("envelopes sent = %d, want 1", len(sent))
	}
	if sent[0].MIMEType != audio.CaptureMIMEType {
		t.Errorf("mimeType = %q, want %q", sent[0].MIMEType, audio.CaptureMIMEType)
	}
	if amplitudes.Load() != 1 {
		t.Errorf("amplitude events = %d, want 1", amplitudes.Load())
	}
}

func TestCaptureFlow_SuppressedWhenInactive(t *testing.T) {
	var amplitudes atomic.Int64
	f := newFixture(t, Config{
		RingCapacity: 4,
		OnAmplitude:  func(float64) { amplitudes.Add(1) },
	})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)
	sess := f.session(t)

	f.link.SetCaptureActive(false)
	f.capture.Emit(audio.Frame{Samples: make([]float32, 4)})

	time.Sleep(20 * time.Millisecond)
	if n := len(sess.SentEnvelopes()); n != 0 {
		t.Fatalf("envelopes sent = %d while capture inactive, want 0", n)
	}
	// Amplitude reporting is never suppressed.
	if amplitudes.Load() != 1 {
		t.Fatalf("amplitude events = %d, want 1", amplitudes.Load())
	}
}

func TestInbound_AudioScheduledAndTranscriptsForwarded(t *testing.T) {
	var mu sync.Mutex
	var fragments []live.Fragment
	f := newFixture(t, Config{
		OnTranscript: func(frag live.Fragment) {
			mu.Lock()
			fragments = append(fragments, frag)
			mu.Unlock()
		},
	})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)
	sess := f.session(t)

	sess.EmitAudio(audio.EncodePCM16(make([]float32, 240)))
	sess.EmitFragment(live.Fragment{Origin: "agent", Text: "noted", Final: true})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(fragments)
		mu.Unlock()
		if got > 0 && len(f.sink.Calls()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if calls := f.sink.Calls(); len(calls) != 1 || len(calls[0].Samples) != 240 {
		t.Fatalf("scheduled buffers = %v, want one 240-sample buffer", calls)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(fragments) != 1 || fragments[0].Text != "noted" {
		t.Fatalf("fragments = %v, want the emitted fragment", fragments)
	}
}

func TestDegrade_ReconnectsAfterSessionFailure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	f.session(t).Fail(errors.New("stream reset"))
	waitState(t, f.link, StateActive)

	if f.provider.ConnectCount() < 2 {
		t.Fatalf("connect attempts = %d, want a reconnect", f.provider.ConnectCount())
	}
}

func TestDegrade_RemoteTerminationTriggersReconnect(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	// The inbound stream ends without an error callback, as when the
	// transport read fails mid-session.
	f.session(t).Terminate(errors.New("connection reset"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.provider.ConnectCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	if f.provider.ConnectCount() < 2 {
		t.Fatalf("connect attempts = %d after remote termination, want a reconnect",
			f.provider.ConnectCount())
	}
	waitState(t, f.link, StateActive)
}

func TestDegrade_StaleSessionErrorIgnoredAfterReconnect(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 5})
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	first := f.session(t)
	first.Fail(errors.New("stream reset"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.provider.ConnectCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	if f.provider.ConnectCount() < 2 {
		t.Fatalf("connect attempts = %d, want a reconnect", f.provider.ConnectCount())
	}
	waitState(t, f.link, StateActive)
	second := f.session(t)

	// A late error callback from the replaced session must not tear down
	// its replacement.
	first.Fail(errors.New("late teardown"))
	time.Sleep(20 * time.Millisecond)
	if f.link.State() != StateActive {
		t.Fatalf("state = %v after stale session error, want active", f.link.State())
	}
	if second.Closed() {
		t.Fatal("replacement session was closed by a stale error callback")
	}
}

func TestDegrade_ExhaustionClosesTerminally(t *testing.T) {
	var terminal atomic.Int64
	f := newFixture(t, Config{
		MaxAttempts: 2,
		OnTerminal:  func(error) { terminal.Add(1) },
	})
	f.provider.SetConnectError(errors.New("endpoint down"))

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateClosed)

	if terminal.Load() != 1 {
		t.Fatalf("terminal advisories = %d, want 1", terminal.Load())
	}

	// No further automatic attempts fire after closure.
	attempts := f.provider.ConnectCount()
	time.Sleep(20 * time.Millisecond)
	if f.provider.ConnectCount() != attempts {
		t.Fatal("automatic attempts continued after terminal closure")
	}
	if attempts != 2 {
		t.Fatalf("connect attempts = %d, want exactly MaxAttempts (2)", attempts)
	}
}

func TestConnect_ManualReconnectAfterClosure(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 1})
	f.provider.SetConnectError(errors.New("endpoint down"))

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateClosed)

	// Manual reconnect resets the breaker budget.
	f.provider.SetConnectError(nil)
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("manual reconnect: %v", err)
	}
	waitState(t, f.link, StateActive)
}

func TestSever_MidConnectDiscardsLateSuccess(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, Config{})
	f.provider.ConnectHook = func(context.Context) { <-release }

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	f.link.Sever()
	close(release) // the in-flight attempt now completes successfully

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(f.provider.SessionList()) == 0 {
		time.Sleep(time.Millisecond)
	}
	if len(f.provider.SessionList()) == 0 {
		t.Fatal("the in-flight attempt never completed")
	}

	// The late success must not resurrect the severed link.
	sess := f.provider.SessionList()[0]
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sess.Closed() {
		time.Sleep(time.Millisecond)
	}
	if !sess.Closed() {
		t.Fatal("stale session from a severed generation was not closed")
	}
	if f.link.State() != StateIdle {
		t.Fatalf("state = %v after sever, want idle", f.link.State())
	}
}

func TestSever_IdempotentAndSafeWithoutConnect(t *testing.T) {
	f := newFixture(t, Config{})

	// No prior connect.
	f.link.Sever()
	f.link.Sever()
	if f.link.State() != StateIdle {
		t.Fatalf("state = %v, want idle", f.link.State())
	}

	// After a connect.
	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)
	f.link.Sever()
	f.link.Sever()
	if f.link.State() != StateIdle {
		t.Fatalf("state = %v, want idle", f.link.State())
	}
	if f.capture.CallCountStop == 0 {
		t.Fatal("capture device was not released")
	}
}

func TestSever_CancelsPendingRetryTimer(t *testing.T) {
	f := newFixture(t, Config{
		MaxAttempts: 5,
		Backoff:     func(int) time.Duration { return 50 * time.Millisecond },
	})
	f.provider.SetConnectError(errors.New("endpoint down"))

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateDegraded)

	attempts := f.provider.ConnectCount()
	f.link.Sever()

	// The armed timer must never fire once cancelled.
	time.Sleep(100 * time.Millisecond)
	if f.provider.ConnectCount() != attempts {
		t.Fatalf("retry fired after sever: attempts %d → %d",
			attempts, f.provider.ConnectCount())
	}
	if f.link.State() != StateIdle {
		t.Fatalf("state = %v, want idle", f.link.State())
	}
}

func TestStateTransitions_Observed(t *testing.T) {
	var mu sync.Mutex
	var states []State
	f := newFixture(t, Config{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != StateConnecting || states[1] != StateActive {
		t.Fatalf("observed transitions = %v, want [connecting active]", states)
	}
}

func TestStateTransitions_OrderedUnderRapidChange(t *testing.T) {
	var mu sync.Mutex
	var states []State
	f := newFixture(t, Config{
		MaxAttempts: 1,
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	f.provider.SetConnectError(errors.New("endpoint down"))

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateClosed)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	// Degraded and Closed happen back to back; the observer must still see
	// them in transition order.
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateDegraded, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("observed transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("observed transitions = %v, want %v", states, want)
		}
	}
}

func TestConnect_ErrorHandlerRegisteredBeforeActive(t *testing.T) {
	var missing atomic.Int64
	var f *fixture
	f = newFixture(t, Config{
		OnStateChange: func(s State) {
			if s != StateActive {
				return
			}
			sessions := f.provider.SessionList()
			if len(sessions) == 0 || !sessions[len(sessions)-1].HandlerRegistered() {
				missing.Add(1)
			}
		},
	})

	if err := f.link.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitState(t, f.link, StateActive)

	time.Sleep(20 * time.Millisecond) // let the observer drain
	if missing.Load() != 0 {
		t.Fatal("session went active before its error handler was registered")
	}
}
