package cache

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often expired entries are swept.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes expired entries for the process lifetime.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval}
}

// Start runs the sweep loop until ctx is done. It sweeps once immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if n := s.store.ClearExpired(ctx); n > 0 {
		s.store.log.Debug("Swept expired cache entries", "count", n)
	}
}
