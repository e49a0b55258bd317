// Package breaker bounds the block rate per rule. A rule whose recent block
// count reaches the threshold has its breaker open: callers downgrade its
// blocking findings to warn until the counted buckets expire. There is no
// half-open probe; recovery is purely TTL-driven.
package breaker

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
	"github.com/Mindburn-Labs/dissonance/pkg/store"
)

// Defaults match the documented configuration keys.
const (
	DefaultThreshold = 100
	DefaultWindow    = time.Hour
)

// State of one rule's breaker at a point in time.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// CircuitBreaker consults a BlockCounter to decide whether a rule may still
// block. State is derived from the counter on every call; nothing is cached,
// so every process sharing the counter sees the same state.
type CircuitBreaker struct {
	counter   store.BlockCounter
	threshold int
	window    time.Duration
}

// New builds a breaker over the counter. Non-positive threshold or window
// fall back to the defaults.
func New(counter store.BlockCounter, threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &CircuitBreaker{counter: counter, threshold: threshold, window: window}
}

// Allow reports whether the rule may emit blocking findings. It returns
// false once the windowed count reaches the threshold. Counter errors
// surface as BLOCK_COUNTER_UNAVAILABLE; the orchestrator maps them to
// degraded mode rather than failing the analysis.
func (b *CircuitBreaker) Allow(ctx context.Context, ruleID string) (bool, error) {
	state, err := b.State(ctx, ruleID)
	if err != nil {
		return false, err
	}
	return state == StateClosed, nil
}

// State returns the rule's current breaker state.
func (b *CircuitBreaker) State(ctx context.Context, ruleID string) (State, error) {
	if ruleID == "" {
		return StateClosed, contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}

	count, err := b.counter.Get(ctx, ruleID, b.window)
	if err != nil {
		return StateClosed, contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "breaker state for %s", ruleID)
	}
	if count >= b.threshold {
		return StateOpen, nil
	}
	return StateClosed, nil
}

// RecordBlock counts one blocking decision for the rule. The bucket TTL
// equals the window, so an open breaker closes again once the window's
// blocks age out.
func (b *CircuitBreaker) RecordBlock(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return contracts.NewCodedError(contracts.CodeInvalidInput, "rule id is required")
	}
	if err := b.counter.Increment(ctx, ruleID, b.window); err != nil {
		return contracts.WrapCoded(contracts.CodeBlockCounterUnavailable, err, "record block for %s", ruleID)
	}
	return nil
}

// Window returns the breaker's sliding window length.
func (b *CircuitBreaker) Window() time.Duration { return b.window }

// Threshold returns the open trigger count.
func (b *CircuitBreaker) Threshold() int { return b.threshold }
