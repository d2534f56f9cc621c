package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/metrics"
)

// Target is invalidated when a matching event arrives.
type Target interface {
	Invalidate(key string)
}

// Invalidator binds query keys to notification channels. It holds only keys and
// handles, never the queries themselves.
type Invalidator struct {
	sub    Subscriber
	target Target
	log    *slog.Logger

	mu   sync.Mutex
	keys map[string]*binding
}

type binding struct {
	topics  []string
	filter  string
	handles []Handle
}

// NewInvalidator creates an invalidator that opens channels on sub and invalidates target.
func NewInvalidator(sub Subscriber, target Target) *Invalidator {
	return &Invalidator{
		sub:    sub,
		target: target,
		log:    slog.Default().With("component", "invalidator"),
		keys:   make(map[string]*binding),
	}
}

// Subscribe opens one channel per topic for key. Events matching eventFilter
// ("" or "*" for all) on any of them invalidate key. Subscribing an already bound
// key replaces its channels.
func (i *Invalidator) Subscribe(ctx context.Context, key string, topics []string, eventFilter string) error {
	topics = normalizeTopics(topics)
	if len(topics) == 0 {
		return fmt.Errorf("no topics for key %q", key)
	}

	if err := i.Unsubscribe(ctx, key); err != nil {
		i.log.Warn("Failed to release previous channels", "key", key, "error", err)
	}

	b := &binding{topics: topics, filter: eventFilter}
	for _, topic := range topics {
		h, err := i.sub.Subscribe(ctx, Channel{Topic: topic, EventType: eventFilter}, func(ev domain.ChangeEvent) {
			i.handle(key, b, ev)
		})
		if err != nil {
			i.release(ctx, b.handles)
			return fmt.Errorf("subscribe %q for %q: %w", topic, key, err)
		}
		b.handles = append(b.handles, h)
	}

	// a concurrent Subscribe for the same key may have bound in the meantime
	i.mu.Lock()
	prev := i.keys[key]
	i.keys[key] = b
	i.mu.Unlock()
	if prev != nil {
		if err := i.release(ctx, prev.handles); err != nil {
			i.log.Warn("Failed to release replaced channels", "key", key, "error", err)
		}
	}

	i.log.Debug("Subscribed", "key", key, "topics", topics, "filter", eventFilter)
	return nil
}

// Unsubscribe tears down every channel bound to key.
func (i *Invalidator) Unsubscribe(ctx context.Context, key string) error {
	i.mu.Lock()
	b, ok := i.keys[key]
	delete(i.keys, key)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	return i.release(ctx, b.handles)
}

// Topics returns the topics bound to key.
func (i *Invalidator) Topics(key string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if b, ok := i.keys[key]; ok {
		return append([]string(nil), b.topics...)
	}
	return nil
}

// Close tears down every channel.
func (i *Invalidator) Close(ctx context.Context) error {
	i.mu.Lock()
	keys := make([]string, 0, len(i.keys))
	for k := range i.keys {
		keys = append(keys, k)
	}
	i.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := i.Unsubscribe(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (i *Invalidator) handle(key string, b *binding, ev domain.ChangeEvent) {
	i.mu.Lock()
	current := i.keys[key] == b
	i.mu.Unlock()

	// late delivery on a torn-down channel
	if !current {
		return
	}

	matched := ev.Type.Matches(b.filter)
	metrics.RealtimeEvents.WithLabelValues(ev.Topic, strconv.FormatBool(matched)).Inc()
	if !matched {
		return
	}

	i.log.Debug("Invalidating", "key", key, "topic", ev.Topic, "type", ev.Type)
	i.target.Invalidate(key)
}

func (i *Invalidator) release(ctx context.Context, handles []Handle) error {
	var errs []error
	for _, h := range handles {
		if err := i.sub.Unsubscribe(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
