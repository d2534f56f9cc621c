package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/metrics"
)

const (
	// DefaultNamespace prefixes every key written by the cache.
	DefaultNamespace = "steady_cache"

	// DefaultSchemaVersion tags entries; bump it when cached shapes change.
	DefaultSchemaVersion = "1"

	// DefaultMaxAgeCeiling is the age past which the sweep drops any entry.
	DefaultMaxAgeCeiling = 30 * time.Minute
)

// Options configures a Store.
type Options struct {
	Namespace     string
	SchemaVersion string
	MaxAgeCeiling time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Store is the cache. It is safe for concurrent use as long as the Storage is;
// concurrent writers to one key are last-writer-wins.
type Store struct {
	storage   Storage
	namespace string
	version   string
	ceiling   time.Duration
	clock     clockwork.Clock
	log       *slog.Logger
}

// New creates a Store over storage.
func New(storage Storage, opts Options) *Store {
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.SchemaVersion == "" {
		opts.SchemaVersion = DefaultSchemaVersion
	}
	if opts.MaxAgeCeiling <= 0 {
		opts.MaxAgeCeiling = DefaultMaxAgeCeiling
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		storage:   storage,
		namespace: opts.Namespace,
		version:   opts.SchemaVersion,
		ceiling:   opts.MaxAgeCeiling,
		clock:     opts.Clock,
		log:       opts.Logger.With("component", "cache"),
	}
}

func (s *Store) fullKey(key string) string {
	return s.prefix() + key
}

func (s *Store) prefix() string {
	return s.namespace + ":"
}

// Set writes data under key. Failures are logged and dropped.
func (s *Store) Set(ctx context.Context, key string, data any, ttl time.Duration) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.fail("set", key, err)
		return
	}
	entry, err := json.Marshal(domain.CacheEntry{
		Data:          raw,
		Timestamp:     s.clock.Now().UnixMilli(),
		SchemaVersion: s.version,
	})
	if err != nil {
		s.fail("set", key, err)
		return
	}
	if err := s.storage.Set(ctx, s.fullKey(key), string(entry), ttl); err != nil {
		s.fail("set", key, err)
		return
	}
	metrics.CacheOps.WithLabelValues("set", "ok").Inc()
}

// Get returns the raw JSON data under key if it exists, carries the current schema
// version and is no older than maxAge. Anything else is removed and reported absent.
func (s *Store) Get(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool) {
	full := s.fullKey(key)
	value, ok, err := s.storage.Get(ctx, full)
	if err != nil {
		s.fail("get", key, err)
		return nil, false
	}
	if !ok {
		metrics.CacheOps.WithLabelValues("get", "miss").Inc()
		return nil, false
	}

	entry, valid := s.decode(value)
	if !valid || s.age(entry) > maxAge {
		s.removeFull(ctx, full)
		metrics.CacheOps.WithLabelValues("get", "expired").Inc()
		return nil, false
	}

	metrics.CacheOps.WithLabelValues("get", "hit").Inc()
	return entry.Data, true
}

// Load is Get decoded into T.
func Load[T any](ctx context.Context, s *Store, key string, maxAge time.Duration) (T, bool) {
	var out T
	raw, ok := s.Get(ctx, key, maxAge)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		s.fail("get", key, err)
		return out, false
	}
	return out, true
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) {
	s.removeFull(ctx, s.fullKey(key))
}

// Clear drops every entry in the namespace.
func (s *Store) Clear(ctx context.Context) int {
	keys, err := s.storage.Keys(ctx, s.prefix())
	if err != nil {
		s.fail("clear", "", err)
		return 0
	}
	for _, k := range keys {
		s.removeFull(ctx, k)
	}
	return len(keys)
}

// ClearExpired drops entries older than the ceiling or tagged with another schema
// version, and purges rows past their ttl when the storage is a Purger. It
// returns how many entries were removed.
func (s *Store) ClearExpired(ctx context.Context) int {
	removed := 0
	if p, ok := s.storage.(Purger); ok {
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			s.fail("purge", "", err)
		}
		removed += int(n)
	}

	keys, err := s.storage.Keys(ctx, s.prefix())
	if err != nil {
		s.fail("sweep", "", err)
		metrics.CacheSwept.Add(float64(removed))
		return removed
	}

	for _, k := range keys {
		value, ok, err := s.storage.Get(ctx, k)
		if err != nil {
			s.fail("sweep", k, err)
			continue
		}
		if !ok {
			continue
		}
		entry, valid := s.decode(value)
		if valid && s.age(entry) <= s.ceiling {
			continue
		}
		s.removeFull(ctx, k)
		removed++
	}

	metrics.CacheSwept.Add(float64(removed))
	return removed
}

func (s *Store) decode(value string) (domain.CacheEntry, bool) {
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return entry, false
	}
	return entry, entry.SchemaVersion == s.version
}

func (s *Store) age(entry domain.CacheEntry) time.Duration {
	return s.clock.Now().Sub(time.UnixMilli(entry.Timestamp))
}

func (s *Store) removeFull(ctx context.Context, full string) {
	if err := s.storage.Remove(ctx, full); err != nil {
		s.fail("remove", strings.TrimPrefix(full, s.prefix()), err)
	}
}

func (s *Store) fail(op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	s.log.Warn("Cache operation failed", "op", op, "key", key, "error", err)
}
