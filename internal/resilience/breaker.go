// Package resilience guards remote calls with a circuit breaker and retry.
package resilience

import (
	"log/slog"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
)

// State is the position of a Breaker.
type State uint32

const (
	Closed   State = iota // calls pass
	Open                  // calls fail fast
	HalfOpen              // one trial window after ResetTimeout
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = apperrors.New(apperrors.CodeUnavailable, "circuit breaker open")

// Breaker counts consecutive failures and rejects calls once Threshold is hit.
// It is safe for concurrent use.
type Breaker struct {
	cfg         Config
	state       atomic.Uint32
	failures    atomic.Int32
	successes   atomic.Int32
	lastFailure atomic.Int64 // unix nano
}

func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Execute runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.failure()
		return err
	}
	b.success()
	return nil
}

func (b *Breaker) allow() error {
	if b.State() != Open {
		return nil
	}
	last := b.lastFailure.Load()
	if last != 0 && time.Since(time.Unix(0, last)) <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.moveTo(HalfOpen)
	return nil
}

func (b *Breaker) success() {
	switch b.State() {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.moveTo(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

func (b *Breaker) failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	n := b.failures.Add(1)
	switch b.State() {
	case HalfOpen:
		b.moveTo(Open)
	case Closed:
		if n >= int32(b.cfg.Threshold) {
			b.moveTo(Open)
		}
	}
}

func (b *Breaker) moveTo(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}
	b.successes.Store(0)
	if to == Closed {
		b.failures.Store(0)
	}
	slog.Info("breaker state changed", "breaker", b.cfg.Name, "from", from.String(), "to", to.String(),
		"failures", b.failures.Load())
}
