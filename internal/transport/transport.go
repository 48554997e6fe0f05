// Package transport defines the boundary to the wire-level messaging
// provider. The session state machine consumes lifecycle signals from a
// Provider; everything below Send (framing, encryption, multi-device sync)
// belongs to the provider and is out of scope here.
package transport

import (
	"context"
	"time"
)

// IncomingMessage is an inbound text received over the live session.
type IncomingMessage struct {
	Sender    string
	Content   string
	Timestamp time.Time
}

// Events carries the lifecycle signals a Provider emits during and after
// Initialize. Callbacks may be invoked from provider-owned goroutines; nil
// callbacks are allowed and skipped.
type Events struct {
	// PairingCode fires when a scannable pairing artifact is ready.
	// The artifact is a data URL (PNG QR image).
	PairingCode func(artifact string)
	// Established fires when the link is up and sends may proceed.
	Established func()
	// Closed fires when the link drops. recoverable=false means the operator
	// was logged out remotely and re-pairing is required.
	Closed func(reason string, recoverable bool)
	// Incoming fires for every inbound message from a remote party.
	Incoming func(msg IncomingMessage)
}

// Provider is the session-oriented messaging transport.
//
// Every method may fail; callers must treat all of them as fallible and must
// not let provider errors escape uncaught (the dispatch engine converts send
// failures into ledger rows, the session converts lifecycle failures into
// state transitions).
type Provider interface {
	// Initialize opens (or resumes) the session and begins emitting Events.
	// It returns once the connection attempt is underway; readiness is
	// signaled via Events.Established.
	Initialize(ctx context.Context, ev Events) error
	// Send delivers body to the given recipient address (digits only,
	// no leading '+'). Blocks until the provider accepts or rejects it.
	Send(ctx context.Context, recipient, body string) error
	// Teardown closes the live session, if any. Safe to call repeatedly.
	Teardown() error
}
