// Package cache is a namespaced, version-tagged key/value cache for query results.
// Expiry is enforced lazily on read and by a periodic sweep.
package cache

import (
	"context"
	"time"
)

// Storage is the persisted key/value primitive the cache sits on. Implementations
// may fail (quota, connectivity); the cache tolerates every error.
type Storage interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value. ttl is a best-effort expiry hint; backends without native
	// expiry ignore it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Purger is implemented by storages that keep rows past their ttl hint and hide
// them from Get and Keys. ClearExpired calls it so those rows are reclaimed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
