package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelay_Bounds(t *testing.T) {
	b := NewBackoff(42)
	initial := 1000 * time.Millisecond
	max := 10000 * time.Millisecond

	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			got := b.ComputeDelay(attempt, initial, max, 2)

			base := time.Duration(1<<attempt) * time.Second
			if base > max {
				base = max
			}
			upper := base + base/10

			assert.GreaterOrEqual(t, got, base, "attempt %d", attempt)
			assert.LessOrEqual(t, got, upper, "attempt %d", attempt)
		}
	}
}

func TestComputeDelay_SaturatesAtMax(t *testing.T) {
	b := NewBackoff(7)
	for _, attempt := range []int{4, 5, 10, 100, 2000} {
		got := b.ComputeDelay(attempt, time.Second, 10*time.Second, 2)
		assert.GreaterOrEqual(t, got, 10*time.Second)
		assert.LessOrEqual(t, got, 11*time.Second)
	}
}

func TestComputeDelay_DeterministicWithSeed(t *testing.T) {
	a := NewBackoff(1234)
	b := NewBackoff(1234)
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t,
			a.ComputeDelay(attempt, time.Second, 10*time.Second, 2),
			b.ComputeDelay(attempt, time.Second, 10*time.Second, 2),
		)
	}
}

func TestComputeDelay_JitterVaries(t *testing.T) {
	b := NewBackoff(99)
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[b.ComputeDelay(2, time.Second, 10*time.Second, 2)] = true
	}
	assert.Greater(t, len(seen), 1, "jitter should decorrelate delays")
}

func TestBaseDelay(t *testing.T) {
	assert.Equal(t, time.Second, BaseDelay(0, time.Second, 10*time.Second, 2))
	assert.Equal(t, 2*time.Second, BaseDelay(1, time.Second, 10*time.Second, 2))
	assert.Equal(t, 8*time.Second, BaseDelay(3, time.Second, 10*time.Second, 2))
	assert.Equal(t, 10*time.Second, BaseDelay(4, time.Second, 10*time.Second, 2))
	assert.Equal(t, time.Second, BaseDelay(-1, time.Second, 10*time.Second, 2))
}
