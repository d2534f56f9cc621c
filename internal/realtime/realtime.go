// Package realtime turns change notifications into query invalidations.
package realtime

import (
	"context"
	"strings"

	"github.com/vietddude/steady/internal/core/domain"
)

// Handle identifies one open notification channel.
type Handle string

// Channel describes what to listen to.
type Channel struct {
	Topic string

	// EventType restricts delivery to one event type; "" or "*" means all.
	EventType string

	// Filter is passed through to the primitive (e.g. a row filter); primitives
	// that cannot filter ignore it.
	Filter string
}

// Handler receives events for a channel.
type Handler func(ev domain.ChangeEvent)

// Subscriber is the change-notification primitive.
type Subscriber interface {
	Subscribe(ctx context.Context, ch Channel, fn Handler) (Handle, error)
	Unsubscribe(ctx context.Context, h Handle) error
}

// ParseTopics splits a comma-separated topic list, trimming blanks and duplicates.
func ParseTopics(s string) []string {
	return normalizeTopics(strings.Split(s, ","))
}

func normalizeTopics(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
