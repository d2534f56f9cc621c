// Package network tracks process-wide connectivity state and the failure counter
// shared by every query.
package network

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/steady/internal/metrics"
)

// DefaultOfflineUIThreshold is the number of consecutive failed requests after which
// the offline UI is shown even though the runtime reports being online.
const DefaultOfflineUIThreshold = 3

// EventType identifies a connectivity transition.
type EventType int

const (
	EventReconnected  EventType = iota // offline -> online
	EventDisconnected                  // online -> offline
)

func (e EventType) String() string {
	switch e {
	case EventReconnected:
		return "reconnected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on every connectivity transition.
type Event struct {
	Type  EventType
	State State
}

// State is a snapshot of the connectivity state.
type State struct {
	IsOnline        bool      `json:"is_online"`
	LastOnlineCheck time.Time `json:"last_online_check"`
	FailedRequests  int       `json:"failed_requests"`
}

// Monitor owns the connectivity state. It is created once at startup and passed to
// every component that reads or mutates it.
type Monitor struct {
	mu sync.RWMutex

	online          bool
	lastOnlineCheck time.Time
	failedRequests  int
	threshold       int

	// closed while online; replaced when going offline
	onlineCh chan struct{}

	subs   map[int]func(Event)
	nextID int
}

// NewMonitor creates a monitor seeded with the runtime's current connectivity flag.
func NewMonitor(online bool) *Monitor {
	m := &Monitor{
		threshold: DefaultOfflineUIThreshold,
		subs:      make(map[int]func(Event)),
	}
	m.reset(online)
	return m
}

// SetOfflineUIThreshold overrides the sustained-failure threshold.
func (m *Monitor) SetOfflineUIThreshold(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = n
}

// Reset restores the initial state. Subscribers are kept. Meant for test harnesses.
func (m *Monitor) Reset(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset(online)
}

func (m *Monitor) reset(online bool) {
	m.online = online
	m.lastOnlineCheck = time.Now()
	m.failedRequests = 0
	m.onlineCh = make(chan struct{})
	if online {
		close(m.onlineCh)
	}
	metrics.NetworkOnline.Set(boolGauge(online))
	metrics.FailedRequests.Set(0)
}

// IsOnline reports the last known connectivity.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// State returns a snapshot.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{
		IsOnline:        m.online,
		LastOnlineCheck: m.lastOnlineCheck,
		FailedRequests:  m.failedRequests,
	}
}

// SetOnline feeds a connectivity signal. Only a change of value is a transition:
// going online resets the failure counter and emits EventReconnected, going offline
// emits EventDisconnected and leaves the counter alone.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.lastOnlineCheck = time.Now()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var ev Event
	if online {
		m.failedRequests = 0
		close(m.onlineCh)
		ev.Type = EventReconnected
	} else {
		m.onlineCh = make(chan struct{})
		ev.Type = EventDisconnected
	}
	ev.State = State{
		IsOnline:        m.online,
		LastOnlineCheck: m.lastOnlineCheck,
		FailedRequests:  m.failedRequests,
	}
	subs := m.snapshotSubs()
	m.mu.Unlock()

	metrics.NetworkOnline.Set(boolGauge(online))
	metrics.FailedRequests.Set(float64(ev.State.FailedRequests))
	metrics.NetworkTransitions.WithLabelValues(ev.Type.String()).Inc()

	for _, fn := range subs {
		fn(ev)
	}
}

// RecordFailure increments the failed request counter and returns the new value.
func (m *Monitor) RecordFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRequests++
	metrics.FailedRequests.Set(float64(m.failedRequests))
	return m.failedRequests
}

// RecordSuccess resets the failed request counter if it is non-zero.
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failedRequests > 0 {
		m.failedRequests = 0
		metrics.FailedRequests.Set(0)
	}
}

// ShouldShowOfflineUI is true when offline or when requests keep failing while
// nominally online (captive portal, server outage).
func (m *Monitor) ShouldShowOfflineUI() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.online || m.failedRequests >= m.threshold
}

// WaitOnline blocks until the monitor is online, d elapses or ctx is done.
// It reports whether the monitor is online on return.
func (m *Monitor) WaitOnline(ctx context.Context, d time.Duration) bool {
	m.mu.RLock()
	ch := m.onlineCh
	m.mu.RUnlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return m.IsOnline()
	case <-ctx.Done():
		return false
	}
}

// Subscribe registers fn for transition events. Handlers run synchronously on the
// goroutine that fed the signal and must not block.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// snapshotSubs returns handlers in registration order. Caller holds mu.
func (m *Monitor) snapshotSubs() []func(Event) {
	out := make([]func(Event), 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
