package control

import (
	"context"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/infra/storage/postgres"
	"github.com/vietddude/steady/internal/realtime"
)

// busPublisher publishes on the in-process bus.
type busPublisher struct {
	bus *realtime.Bus
}

func (p busPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	p.bus.Publish(ctx, ev)
	return nil
}

// notifyPublisher publishes with NOTIFY.
type notifyPublisher struct {
	db     *postgres.DB
	prefix string
}

func (p notifyPublisher) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	return p.db.Notify(ctx, p.prefix, ev)
}
