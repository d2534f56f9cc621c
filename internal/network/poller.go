package network

import (
	"context"
	"time"
)

// DefaultPollInterval is the cadence UI-facing consumers sample the offline signal at.
const DefaultPollInterval = 5 * time.Second

// Poller samples ShouldShowOfflineUI on a fixed cadence and reports changes.
// Refresh cadence stays independent of how often transitions arrive.
type Poller struct {
	monitor  *Monitor
	interval time.Duration
	onChange func(showOffline bool, s State)
}

// NewPoller creates a poller. onChange runs on the poller goroutine.
func NewPoller(monitor *Monitor, interval time.Duration, onChange func(bool, State)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		monitor:  monitor,
		interval: interval,
		onChange: onChange,
	}
}

// Start polls until ctx is done. The first sample is compared against "online".
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			show := p.monitor.ShouldShowOfflineUI()
			if show != last {
				last = show
				p.onChange(show, p.monitor.State())
			}
		}
	}
}
