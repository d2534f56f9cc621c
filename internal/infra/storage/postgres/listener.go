package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/realtime"
)

// Listener delivers change events sent with NOTIFY on channels "<prefix>:<topic>".
// Each subscription holds its own connection. It implements realtime.Subscriber.
type Listener struct {
	url    string
	prefix string
	log    *slog.Logger

	mu   sync.Mutex
	subs map[realtime.Handle]*listenSub
}

type listenSub struct {
	conn   *pgx.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a LISTEN/NOTIFY primitive for the database at url.
func NewListener(url, prefix string) *Listener {
	if prefix == "" {
		prefix = "steady"
	}
	return &Listener{
		url:    url,
		prefix: prefix,
		log:    slog.Default().With("component", "pg-listener"),
		subs:   make(map[realtime.Handle]*listenSub),
	}
}

// ChannelName returns the NOTIFY channel for topic.
func (l *Listener) ChannelName(topic string) string {
	return l.prefix + ":" + topic
}

// Subscribe opens a connection and LISTENs on the channel for ch.Topic.
func (l *Listener) Subscribe(ctx context.Context, ch realtime.Channel, fn realtime.Handler) (realtime.Handle, error) {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return "", fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, listenSQL(l.ChannelName(ch.Topic))); err != nil {
		_ = conn.Close(ctx)
		return "", fmt.Errorf("listen %s: %w", ch.Topic, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sub := &listenSub{conn: conn, cancel: cancel, done: make(chan struct{})}
	h := realtime.Handle(uuid.NewString())

	l.mu.Lock()
	l.subs[h] = sub
	l.mu.Unlock()

	go l.loop(loopCtx, sub, ch, fn)
	return h, nil
}

func (l *Listener) loop(ctx context.Context, sub *listenSub, ch realtime.Channel, fn realtime.Handler) {
	defer close(sub.done)
	for {
		n, err := sub.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.log.Error("Listener stopped", "topic", ch.Topic, "error", err)
			}
			return
		}
		ev, err := domain.DecodeEvent(ch.Topic, n.Payload)
		if err != nil {
			l.log.Warn("Dropping malformed notification", "channel", n.Channel, "error", err)
			continue
		}
		if ev.Type.Matches(ch.EventType) {
			fn(ev)
		}
	}
}

// Unsubscribe stops the delivery loop for h and closes its connection.
func (l *Listener) Unsubscribe(ctx context.Context, h realtime.Handle) error {
	l.mu.Lock()
	sub, ok := l.subs[h]
	delete(l.subs, h)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	sub.cancel()
	<-sub.done
	if err := sub.conn.Close(ctx); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Notify sends ev on its topic channel.
func (db *DB) Notify(ctx context.Context, prefix string, ev domain.ChangeEvent) error {
	if prefix == "" {
		prefix = "steady"
	}
	payload, err := domain.EncodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, prefix+":"+ev.Topic, payload); err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}
	return nil
}

func listenSQL(channel string) string {
	return "LISTEN " + pq.QuoteIdentifier(channel)
}

var errNoURL = errors.New("database url is required")

// ListenerFor returns a Listener on the same database as db.
func (db *DB) ListenerFor(prefix string) (*Listener, error) {
	if db.url == "" {
		return nil, errNoURL
	}
	return NewListener(db.url, prefix), nil
}
