package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/steady/internal/core/domain"
)

// Bus is an in-process Subscriber. Publish delivers synchronously.
type Bus struct {
	mu   sync.RWMutex
	subs map[Handle]busSub
}

type busSub struct {
	ch Channel
	fn Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Handle]busSub)}
}

// Subscribe registers fn for ch.
func (b *Bus) Subscribe(ctx context.Context, ch Channel, fn Handler) (Handle, error) {
	h := Handle(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[h] = busSub{ch: ch, fn: fn}
	return h, nil
}

// Unsubscribe removes h. Unknown handles are ignored.
func (b *Bus) Unsubscribe(ctx context.Context, h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, h)
	return nil
}

// Publish delivers ev to every channel on its topic whose event type matches.
// It returns the number of handlers called.
func (b *Bus) Publish(ctx context.Context, ev domain.ChangeEvent) int {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.ch.Topic == ev.Topic && ev.Type.Matches(s.ch.EventType) {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
	return len(targets)
}

// Len reports the number of open channels.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
