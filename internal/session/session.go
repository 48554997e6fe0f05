// Package session owns the lifecycle of the transport connection: pairing,
// connect, disconnect, error, reconnect-with-backoff. It is the only writer
// of the connection state and the pairing artifact, and it gates all sends
// through Sendable().
package session

import (
	"context"
	"sync"
	"time"

	"wagate/internal/eventbus"
	"wagate/internal/ledger"
	"wagate/internal/runtime/supervisor"
	"wagate/internal/transport"
	"wagate/pkg/logx"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateQRGenerated  State = "qr_generated"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Config tunes the reconnect timers. Zero values fall back to the defaults
// below.
type Config struct {
	// ReconnectDelay runs after a recoverable link close.
	ReconnectDelay time.Duration
	// ErrorRetryDelay runs after a failed transport initialization.
	ErrorRetryDelay time.Duration
	// ManualDelay runs after an operator-requested reconnect.
	ManualDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ErrorRetryDelay <= 0 {
		c.ErrorRetryDelay = 10 * time.Second
	}
	if c.ManualDelay <= 0 {
		c.ManualDelay = time.Second
	}
}

type Session struct {
	provider transport.Provider
	store    ledger.Store
	bus      eventbus.Bus
	log      logx.Logger
	sup      *supervisor.Supervisor
	cfg      Config

	mu         sync.Mutex
	state      State
	artifact   string
	connecting bool
	pending    bool
	live       bool
}

func New(provider transport.Provider, store ledger.Store, bus eventbus.Bus, sup *supervisor.Supervisor, log logx.Logger, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		provider: provider,
		store:    store,
		bus:      bus,
		log:      log,
		sup:      sup,
		cfg:      cfg,
		state:    StateDisconnected,
	}
}

// AttachSupervisor sets the goroutine owner. Must be called before Start
// when the supervisor does not exist yet at construction time.
func (s *Session) AttachSupervisor(sup *supervisor.Supervisor) {
	s.sup = sup
}

// Start kicks off the first connection attempt in the background.
func (s *Session) Start() {
	s.sup.Go0("session.init", func(ctx context.Context) {
		s.initialize(ctx)
	})
}

// Stop tears the live transport down. The supervisor owns the goroutines.
func (s *Session) Stop() {
	if err := s.provider.Teardown(); err != nil {
		s.log.Warn("transport teardown failed", logx.Err(err))
	}
}

// Status returns the current state and the pairing artifact, which is
// non-empty only while state is qr_generated.
func (s *Session) Status() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.artifact
}

// Sendable reports whether the session is connected with a live transport
// handle. The dispatch engine consults this before every send and fails
// fast instead of waiting for connectivity.
func (s *Session) Sendable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.live
}

// Send forwards to the live transport. Callers are expected to have checked
// Sendable(); the provider still errors if the link dropped in between.
func (s *Session) Send(ctx context.Context, recipient, body string) error {
	return s.provider.Send(ctx, recipient, body)
}

// Reconnect tears down any live handle and re-initializes after a short
// delay. Idempotent while a connection attempt is already in flight.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if s.connecting || s.pending {
		s.mu.Unlock()
		s.log.Debug("reconnect ignored, already connecting")
		return
	}
	s.state = StateDisconnected
	s.artifact = ""
	s.live = false
	s.mu.Unlock()

	s.log.Info("manual reconnect requested")
	if err := s.provider.Teardown(); err != nil {
		s.log.Warn("closing existing connection failed", logx.Err(err))
	}
	s.scheduleInit(s.cfg.ManualDelay, "session.manual-reconnect")
}

func (s *Session) initialize(ctx context.Context) {
	s.mu.Lock()
	if s.connecting {
		s.mu.Unlock()
		s.log.Debug("already connecting, skipping")
		return
	}
	s.connecting = true
	s.state = StateConnecting
	s.artifact = ""
	s.mu.Unlock()

	// Drop any stale handle from a previous attempt.
	_ = s.provider.Teardown()

	s.log.Info("initializing transport connection")
	err := s.provider.Initialize(ctx, transport.Events{
		PairingCode: s.onPairingArtifact,
		Established: s.onEstablished,
		Closed:      s.onClosed,
		Incoming:    s.onIncoming,
	})
	if err != nil {
		s.log.Error("transport initialization failed", logx.Err(err))
		s.mu.Lock()
		s.connecting = false
		s.state = StateError
		s.artifact = ""
		s.mu.Unlock()
		s.scheduleInit(s.cfg.ErrorRetryDelay, "session.error-retry")
	}
}

// scheduleInit arms a single delayed initialization; while one is armed,
// further schedule requests collapse into it.
func (s *Session) scheduleInit(delay time.Duration, name string) {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = true
	s.mu.Unlock()

	s.sup.Go0(name, func(ctx context.Context) {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.pending = false
			s.mu.Unlock()
			return
		case <-time.After(delay):
		}
		s.mu.Lock()
		s.pending = false
		s.mu.Unlock()
		s.initialize(ctx)
	})
}

func (s *Session) onPairingArtifact(artifact string) {
	s.mu.Lock()
	// A pairing artifact only makes sense before the link is up; codes also
	// rotate, so a refresh while one is already displayed is accepted.
	if s.state != StateDisconnected && s.state != StateConnecting && s.state != StateQRGenerated {
		s.mu.Unlock()
		return
	}
	s.state = StateQRGenerated
	s.artifact = artifact
	s.mu.Unlock()

	s.log.Info("pairing artifact ready")
	s.bus.Publish(eventbus.QRCode(artifact))
}

func (s *Session) onEstablished() {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.artifact = ""
	s.connecting = false
	s.live = true
	s.mu.Unlock()

	s.log.Info("transport connection established")
	s.bus.Publish(eventbus.ConnectionStatus("connected", "WhatsApp connected successfully"))
}

func (s *Session) onClosed(reason string, recoverable bool) {
	s.mu.Lock()
	s.state = StateDisconnected
	s.artifact = ""
	s.connecting = false
	s.live = false
	s.mu.Unlock()

	s.log.Warn("transport connection closed", logx.String("reason", reason), logx.Bool("recoverable", recoverable))
	s.bus.Publish(eventbus.ConnectionStatus("disconnected", "WhatsApp disconnected"))

	if recoverable {
		s.log.Info("reconnecting", logx.Duration("delay", s.cfg.ReconnectDelay))
		s.scheduleInit(s.cfg.ReconnectDelay, "session.reconnect")
	} else {
		s.log.Warn("logged out, not reconnecting automatically")
		if err := s.provider.Teardown(); err != nil {
			s.log.Warn("transport teardown failed", logx.Err(err))
		}
	}
}

func (s *Session) onIncoming(msg transport.IncomingMessage) {
	m := ledger.Message{
		ID:        ledger.NewID(),
		Sender:    msg.Sender,
		Recipient: "me",
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Status:    ledger.MessageReceived,
	}
	if err := s.store.SaveMessage(context.Background(), m); err != nil {
		s.log.Error("recording incoming message failed", logx.String("sender", msg.Sender), logx.Err(err))
	}
	s.bus.Publish(eventbus.IncomingMessage(msg.Sender, msg.Content, msg.Timestamp))
}
