// Package breaker provides an in-memory circuit breaker for guarding calls
// to external dependencies. Each protected dependency owns exactly one
// Breaker instance; instances are safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state. Calls pass through and
	// consecutive failures are counted.
	StateClosed State = iota

	// StateOpen rejects all calls immediately with ErrCircuitOpen.
	// After RecoveryTimeout elapses, the next call transitions to
	// StateHalfOpen.
	StateOpen

	// StateHalfOpen allows a single trial call through. Success closes
	// the breaker; failure re-opens it.
	StateHalfOpen
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// executing the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrCallTimeout is returned when the wrapped operation exceeds the
// configured per-call timeout.
var ErrCallTimeout = errors.New("guarded call timed out")

// Config holds the configuration for a Breaker.
type Config struct {
	// Name identifies this breaker in logs and state-change callbacks.
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from Closed to Open. Default: 5.
	FailureThreshold int

	// CallTimeout is the enforced timeout for each wrapped call.
	// Default: 3s.
	CallTimeout time.Duration

	// RecoveryTimeout is how long the breaker stays Open before allowing
	// a half-open trial call. Default: 30s.
	RecoveryTimeout time.Duration

	// OnStateChange is called whenever the breaker changes state.
	OnStateChange func(name string, from, to State)
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return cfg
}

// Breaker guards a single external dependency. The mutex protects only the
// bookkeeping fields; the wrapped call always executes outside the lock so
// concurrent guarded calls do not serialize on dependency I/O.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	// now is a clock function, overridable for testing.
	now func() time.Time
}

// New creates a Breaker with the given configuration. Zero-value fields in
// cfg are replaced with defaults.
func New(cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// State returns the breaker's current state. An Open breaker whose recovery
// window has elapsed reports Open until the next Execute transitions it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn through the circuit breaker. If the breaker is Open and
// the recovery window has not elapsed, it returns ErrCircuitOpen without
// invoking fn. One Execute performs at most one underlying attempt; there is
// no automatic retry. The call runs with a context bounded by CallTimeout.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{value: v, err: err}
	}()

	var result any
	var err error
	select {
	case o := <-done:
		result, err = o.value, o.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Caller cancelled, not a dependency failure; don't count it.
			return nil, ctx.Err()
		}
		err = fmt.Errorf("%w after %s (%s)", ErrCallTimeout, b.cfg.CallTimeout, b.cfg.Name)
	}

	if err == nil {
		b.recordSuccess()
		return result, nil
	}
	return nil, b.recordFailure(err)
}

// beforeCall checks whether the call is allowed. An Open breaker whose
// recovery window has elapsed transitions to HalfOpen and admits the call.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return fmt.Errorf("%w (%s): retry after %s", ErrCircuitOpen, b.cfg.Name, b.cfg.RecoveryTimeout)
		}
		b.setState(StateHalfOpen)
	}
	return nil
}

// recordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
	}
}

// recordFailure counts the failure and returns the error the caller should
// see: ErrCircuitOpen wrapping the trigger once the threshold is reached,
// the original error unchanged otherwise.
func (b *Breaker) recordFailure(cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.failures >= b.cfg.FailureThreshold {
		b.setState(StateOpen)
		return fmt.Errorf("%w (%s) after %d failures: %w", ErrCircuitOpen, b.cfg.Name, b.failures, cause)
	}
	return cause
}

// setState transitions the breaker and fires the state-change callback.
// Caller must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// Execute is a generic wrapper around Breaker.Execute that provides
// type-safe return values.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
