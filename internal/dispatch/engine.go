// Package dispatch sends messages through the live session one at a time,
// records every attempt in the ledger, and paces bulk jobs. It holds no
// persistent state of its own.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"wagate/internal/eventbus"
	"wagate/internal/ledger"
	"wagate/internal/runtime/supervisor"
	"wagate/pkg/logx"
)

// Sender is the slice of the session the engine needs: the sendable gate
// and the transport send itself.
type Sender interface {
	Sendable() bool
	Send(ctx context.Context, recipient, body string) error
}

type Engine struct {
	sender Sender
	store  ledger.Store
	bus    eventbus.Bus
	sup    *supervisor.Supervisor
	log    logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// New builds an engine. ratePerSec caps outbound sends across all callers;
// zero or negative disables the cap.
func New(sender Sender, store ledger.Store, bus eventbus.Bus, sup *supervisor.Supervisor, log logx.Logger, ratePerSec float64) *Engine {
	e := &Engine{
		sender: sender,
		store:  store,
		bus:    bus,
		sup:    sup,
		log:    log,
	}
	e.SetRate(ratePerSec)
	return e
}

// SetRate swaps the outbound rate cap at runtime (config reload).
func (e *Engine) SetRate(perSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if perSec <= 0 {
		e.limiter = nil
		return
	}
	e.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
}

func (e *Engine) waitTurn(ctx context.Context) error {
	e.mu.Lock()
	lim := e.limiter
	e.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
