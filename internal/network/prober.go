package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultProbeInterval is how often connectivity is re-checked.
const DefaultProbeInterval = 5 * time.Second

// Prober is the connectivity signal source. It checks reachability on an interval
// and feeds the result to the Monitor.
type Prober struct {
	monitor  *Monitor
	target   string
	interval time.Duration
	check    func(ctx context.Context) error
	log      *slog.Logger
}

// NewHTTPProber probes url with HEAD requests. Any HTTP response counts as online,
// since the question is reachability, not health.
func NewHTTPProber(monitor *Monitor, url string, interval, timeout time.Duration) *Prober {
	client := &http.Client{Timeout: timeout}
	return newProber(monitor, url, interval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return fmt.Errorf("create probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})
}

// NewTCPProber probes addr by opening a TCP connection.
func NewTCPProber(monitor *Monitor, addr string, interval, timeout time.Duration) *Prober {
	dialer := &net.Dialer{Timeout: timeout}
	return newProber(monitor, addr, interval, func(ctx context.Context) error {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

func newProber(
	monitor *Monitor,
	target string,
	interval time.Duration,
	check func(ctx context.Context) error,
) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		monitor:  monitor,
		target:   target,
		interval: interval,
		check:    check,
		log:      slog.Default().With("component", "prober"),
	}
}

// Start runs the probe loop until ctx is done.
func (p *Prober) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe performs one check and reports the result to the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	err := p.check(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}

	online := err == nil
	was := p.monitor.IsOnline()
	p.monitor.SetOnline(online)

	if was != online {
		if online {
			p.log.Info("Connectivity restored", "target", p.target)
		} else {
			p.log.Warn("Connectivity lost", "target", p.target, "error", err)
		}
	}
	return online
}
