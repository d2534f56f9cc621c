package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/realtime"
)

// PubSub delivers change events published on Redis channels "<prefix>:<topic>".
// It implements realtime.Subscriber.
type PubSub struct {
	c   *Client
	log *slog.Logger

	mu   sync.Mutex
	subs map[realtime.Handle]*channelSub
}

type channelSub struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPubSub creates a notification primitive on c.
func NewPubSub(c *Client) *PubSub {
	return &PubSub{
		c:    c,
		log:  slog.Default().With("component", "redis-pubsub"),
		subs: make(map[realtime.Handle]*channelSub),
	}
}

// ChannelName returns the Redis channel for topic.
func (c *Client) ChannelName(topic string) string {
	return c.prefix + ":" + topic
}

// Publish sends ev on its topic channel.
func (c *Client) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	payload, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if err := c.rdb.Publish(ctx, c.ChannelName(ev.Topic), payload).Err(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Subscribe opens a channel for ch.Topic. Events not matching ch.EventType are dropped.
func (p *PubSub) Subscribe(ctx context.Context, ch realtime.Channel, fn realtime.Handler) (realtime.Handle, error) {
	ps := p.c.rdb.Subscribe(ctx, p.c.ChannelName(ch.Topic))
	// Wait for confirmation so the channel is live on return
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return "", fmt.Errorf("subscribe %s: %w", ch.Topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &channelSub{ps: ps, cancel: cancel, done: make(chan struct{})}
	h := realtime.Handle(uuid.NewString())

	p.mu.Lock()
	p.subs[h] = sub
	p.mu.Unlock()

	go p.loop(loopCtx, sub, ch, fn)
	return h, nil
}

func (p *PubSub) loop(ctx context.Context, sub *channelSub, ch realtime.Channel, fn realtime.Handler) {
	defer close(sub.done)
	msgs := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := domain.DecodeEvent(ch.Topic, msg.Payload)
			if err != nil {
				p.log.Warn("Dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			if ev.Type.Matches(ch.EventType) {
				fn(ev)
			}
		}
	}
}

// Unsubscribe closes the channel for h and waits for its delivery loop to stop.
func (p *PubSub) Unsubscribe(ctx context.Context, h realtime.Handle) error {
	p.mu.Lock()
	sub, ok := p.subs[h]
	delete(p.subs, h)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	sub.cancel()
	err := sub.ps.Close()
	<-sub.done
	if err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}
