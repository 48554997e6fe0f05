package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wagate/internal/eventbus"
	"wagate/internal/ledger"
	"wagate/internal/runtime/supervisor"
	"wagate/internal/transport"
	"wagate/pkg/logx"
)

// fakeProvider records calls and lets the test drive transport events.
type fakeProvider struct {
	mu        sync.Mutex
	initCalls int
	downCalls int
	sent      []string
	initErr   error
	ev        transport.Events
}

func (f *fakeProvider) Initialize(_ context.Context, ev transport.Events) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return f.initErr
	}
	f.ev = ev
	return nil
}

func (f *fakeProvider) Send(_ context.Context, recipient, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient)
	return nil
}

func (f *fakeProvider) Teardown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls++
	return nil
}

func (f *fakeProvider) inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func (f *fakeProvider) events() transport.Events {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ev
}

func testConfig() Config {
	return Config{
		ReconnectDelay:  20 * time.Millisecond,
		ErrorRetryDelay: 20 * time.Millisecond,
		ManualDelay:     10 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, fp *fakeProvider) (*Session, eventbus.Bus) {
	t.Helper()
	store, err := ledger.Open(ledger.Config{Path: filepath.Join(t.TempDir(), "session.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.New()
	sup := supervisor.New(context.Background(), supervisor.WithLogger(logx.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})

	return New(fp, store, bus, sup, logx.Nop(), testConfig()), bus
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPairingArtifactFlow(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, bus := newTestSession(t, fp)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")

	fp.events().PairingCode("qr-artifact-1")

	state, artifact := s.Status()
	assert.Equal(t, StateQRGenerated, state)
	assert.Equal(t, "qr-artifact-1", artifact)
	assert.False(t, s.Sendable())

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeQRCode, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no qr_code event published")
	}

	// Codes rotate; the newer artifact replaces the old one.
	fp.events().PairingCode("qr-artifact-2")
	_, artifact = s.Status()
	assert.Equal(t, "qr-artifact-2", artifact)
}

func TestEstablishedClearsArtifact(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, bus := newTestSession(t, fp)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")

	fp.events().PairingCode("qr-artifact")
	fp.events().Established()

	state, artifact := s.Status()
	assert.Equal(t, StateConnected, state)
	assert.Empty(t, artifact)
	assert.True(t, s.Sendable())

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected qr_code then connection_status, got %v", got)
		}
	}
	assert.Equal(t, []string{eventbus.TypeQRCode, eventbus.TypeConnectionStatus}, got)
}

func TestRecoverableCloseSchedulesOneReconnect(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, _ := newTestSession(t, fp)

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")
	fp.events().Established()

	fp.events().Closed("stream error", true)
	state, _ := s.Status()
	assert.Equal(t, StateDisconnected, state)
	assert.False(t, s.Sendable())

	// A second close before the timer fires must not stack another attempt.
	fp.events().Closed("stream error", true)

	waitFor(t, func() bool { return fp.inits() == 2 }, "no reconnect attempt")
	time.Sleep(3 * testConfig().ReconnectDelay)
	assert.Equal(t, 2, fp.inits())
}

func TestUnrecoverableCloseStaysDown(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, _ := newTestSession(t, fp)

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")
	fp.events().Established()

	fp.events().Closed("logged out", false)

	time.Sleep(3 * testConfig().ReconnectDelay)
	assert.Equal(t, 1, fp.inits())
	state, _ := s.Status()
	assert.Equal(t, StateDisconnected, state)
}

func TestInitFailureRetries(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{initErr: errors.New("boom")}
	s, _ := newTestSession(t, fp)

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")
	waitFor(t, func() bool {
		state, _ := s.Status()
		return state == StateError
	}, "state never reached error")

	fp.mu.Lock()
	fp.initErr = nil
	fp.mu.Unlock()

	waitFor(t, func() bool { return fp.inits() >= 2 }, "no retry after init failure")
}

func TestManualReconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, _ := newTestSession(t, fp)

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")
	fp.events().Established()

	s.Reconnect()
	s.Reconnect()
	assert.False(t, s.Sendable())

	waitFor(t, func() bool { return fp.inits() == 2 }, "manual reconnect never ran")
	time.Sleep(3 * testConfig().ManualDelay)
	assert.Equal(t, 2, fp.inits())
}

func TestIncomingMessageRecorded(t *testing.T) {
	t.Parallel()
	fp := &fakeProvider{}
	s, bus := newTestSession(t, fp)
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s.Start()
	waitFor(t, func() bool { return fp.inits() == 1 }, "transport never initialized")
	fp.events().Established()

	fp.events().Incoming(transport.IncomingMessage{
		Sender:    "15551234567",
		Content:   "hello",
		Timestamp: time.Now(),
	})

	var saw bool
	deadline := time.After(time.Second)
	for !saw {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeIncomingMessage {
				saw = true
			}
		case <-deadline:
			t.Fatal("no incoming_message event published")
		}
	}

	msgs, err := s.store.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ledger.MessageReceived, msgs[0].Status)
	assert.Equal(t, "me", msgs[0].Recipient)
	assert.Equal(t, "15551234567", msgs[0].Sender)
}
