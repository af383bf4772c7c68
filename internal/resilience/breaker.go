// Package resilience keeps a failing inference server from stalling the
// capture loop. Each recognition or translation model gets its own breaker,
// and each model call is retried with jitter while the breaker allows it.
package resilience

import (
	"errors"
	"sync/atomic"
	"time"
)

// State of a circuit breaker.
type State uint32

const (
	Closed   State = iota // normal operation
	Open                  // model calls fail fast
	HalfOpen              // next call tests the model
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned instead of calling the model while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Breaker tracks consecutive failures of one model on the inference server.
// It is safe for the processing worker and HTTP handlers to share.
type Breaker struct {
	cfg           Config
	state         atomic.Uint32
	failures      atomic.Int32
	successes     atomic.Int32
	lastFailure   atomic.Int64 // unix nano
	onStateChange func(from, to State)
}

// New creates a breaker.
func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults()}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook registers a callback for state changes, e.g. to surface health.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Allow returns nil if a model call may proceed. An open breaker whose reset
// timeout has passed moves to half-open and lets one call through.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	if b.resetDue() {
		b.transition(HalfOpen)
		return nil
	}
	return ErrOpen
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(time.Now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Reset forces the breaker closed.
func (b *Breaker) Reset() { b.transition(Closed) }

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	log := b.cfg.Logger.With("breaker", b.cfg.Name)
	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		log.Info("circuit breaker closed")
	case Open:
		b.successes.Store(0)
		log.Warn("circuit breaker opened", "failures", b.failures.Load())
	case HalfOpen:
		b.successes.Store(0)
		log.Info("circuit breaker half-open")
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) resetDue() bool {
	last := b.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Execute runs one model call. Errors for which counts returns false, such as
// a rejected language pair, are returned without tripping the breaker.
func (b *Breaker) Execute(fn func() error, counts func(error) bool) error {
	_, err := ExecuteWithResult(b, func() (struct{}, error) { return struct{}{}, fn() }, counts)
	return err
}

// ExecuteWithResult is Execute for calls returning segments or translations.
// A nil counts treats every error as a failure.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error), counts func(error) bool) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		if counts == nil || counts(err) {
			b.Failure()
		} else {
			b.Success()
		}
		return zero, err
	}
	b.Success()
	return result, nil
}
