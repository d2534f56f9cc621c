// Package retry drives an operation through attempts and backoff waits.
//
// The package contains:
//   - Classifier: decides whether an error is network related and whether it is retryable
//   - Backoff: exponential delay with additive jitter
//   - Executor: the attempt/wait loop that ties both to the shared network state
package retry

import (
	"context"
	"time"
)

// Operation is a data-access call. Errors may be *domain.Error.
type Operation func(ctx context.Context) (any, error)

// Config defines retry behavior for one call.
type Config struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// ShouldRetry overrides the classifier. attempt is 0-indexed.
	ShouldRetry func(err error, attempt int) bool
}

// DefaultConfig provides the defaults: 3 retries, 1s initial, 10s cap, x2.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withDefaults fills zero fields so a partially set Config stays usable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// State is a position in the executor's state machine.
type State int

const (
	StateAttempting State = iota
	StateWaiting
	StateDone
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
