package quota

import (
	"log/slog"
	"sync"
	"time"
)

// errBreakerOpen is returned by keyBreaker.call when the breaker is open and
// its reset timeout has not yet elapsed. manager.go translates this into
// pipelineerr.CircuitOpen before it reaches a caller.
var errBreakerOpen = &breakerOpenError{}

type breakerOpenError struct{}

func (*breakerOpenError) Error() string { return "quota: breaker open for key" }

// breakerState is one of the three states a keyBreaker cycles through.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// keyBreaker trips a single (operation, key) pair after too many consecutive
// failures, per §4.1's "breaker keyed by (operation, key_index): after 5
// consecutive failures open for 60s". It is a classic three-state breaker —
// closed, open, half-open — scoped to one key's calls for one operation
// (chat, chat_json, transcribe) so a bad key never throttles its siblings.
type keyBreaker struct {
	operation    string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu               sync.Mutex
	state            breakerState
	consecutiveFails int
	openedAt         time.Time
	halfOpenAttempts int
	halfOpenFails    int
}

// newKeyBreaker creates a keyBreaker for one (key, operation) pair using
// cfg's breaker tuning (falling back to the spec defaults of 5 failures /
// 60s reset when cfg leaves them unset).
func newKeyBreaker(operation string, cfg Config) *keyBreaker {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	return &keyBreaker{
		operation:    operation,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        breakerClosed,
	}
}

// call runs fn if the breaker is closed or probing, and returns errBreakerOpen
// without calling fn while the breaker is open and the reset timeout has not
// elapsed.
func (b *keyBreaker) call(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return errBreakerOpen
		}
		b.state = breakerHalfOpen
		b.halfOpenAttempts = 0
		b.halfOpenFails = 0
	case breakerHalfOpen:
		if b.halfOpenAttempts >= b.halfOpenMax {
			b.mu.Unlock()
			return errBreakerOpen
		}
	}

	probing := b.state == breakerHalfOpen
	if probing {
		b.halfOpenAttempts++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *keyBreaker) onFailure(probing bool) {
	b.openedAt = time.Now()
	if probing {
		b.halfOpenFails++
		b.state = breakerOpen
		b.consecutiveFails = b.maxFailures
		slog.Warn("quota: key breaker re-opened from probe", "operation", b.operation)
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.maxFailures {
		b.state = breakerOpen
		slog.Warn("quota: key breaker tripped", "operation", b.operation, "consecutive_failures", b.consecutiveFails)
	}
}

// onSuccess must be called with b.mu held.
func (b *keyBreaker) onSuccess(probing bool) {
	if probing {
		if b.halfOpenAttempts-b.halfOpenFails >= b.halfOpenMax {
			b.state = breakerClosed
			b.consecutiveFails = 0
			b.halfOpenAttempts = 0
			b.halfOpenFails = 0
		}
		return
	}
	b.consecutiveFails = 0
}

// State reports the breaker's current state, resolving an expired open
// timeout to half-open even before the next call observes it.
func (b *keyBreaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return breakerHalfOpen
	}
	return b.state
}
