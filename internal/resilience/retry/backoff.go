package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// JitterFraction is the upper bound of the additive jitter relative to the base delay.
const JitterFraction = 0.1

// Backoff computes wait durations before retry attempts. Jitter decorrelates
// callers recovering from the same outage.
type Backoff struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff creates a scheduler. A zero seed picks a random one; tests pass a
// fixed seed for reproducible delays.
func NewBackoff(seed uint64) *Backoff {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Backoff{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ComputeDelay returns min(initial*multiplier^attempt, max) plus uniform jitter in
// [0, 10%) of that base.
func (b *Backoff) ComputeDelay(
	attempt int,
	initial, max time.Duration,
	multiplier float64,
) time.Duration {
	base := BaseDelay(attempt, initial, max, multiplier)

	b.mu.Lock()
	f := b.rnd.Float64()
	b.mu.Unlock()

	return base + time.Duration(f*JitterFraction*float64(base))
}

// BaseDelay is the capped exponential delay without jitter.
func BaseDelay(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(initial) * math.Pow(multiplier, float64(attempt))
	if delay > float64(max) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return max
	}
	return time.Duration(delay)
}
