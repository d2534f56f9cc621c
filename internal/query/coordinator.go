// Package query coordinates retried fetches, cache fallback, reconnect re-runs
// and realtime invalidation for keyed queries.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/metrics"
	"github.com/vietddude/steady/internal/network"
	"github.com/vietddude/steady/internal/resilience/retry"
)

var (
	ErrClosed       = errors.New("query closed")
	ErrDuplicateKey = errors.New("query key already registered")
	ErrNotFound     = errors.New("query not found")
)

// Result is the outcome of a run. FromCache marks fallback data; Err is kept
// alongside it.
type Result struct {
	Data      any
	Err       error
	FromCache bool
}

// RunOptions configures a single Run.
type RunOptions struct {
	// Key labels notifications and metrics.
	Key           string
	FallbackData  any
	Retry         *retry.Config
	NotifyOnError bool
}

// Subscriptions binds query keys to change notifications.
type Subscriptions interface {
	Subscribe(ctx context.Context, key string, topics []string, eventFilter string) error
	Unsubscribe(ctx context.Context, key string) error
}

// Coordinator owns the registered queries.
type Coordinator struct {
	exec     *retry.Executor
	monitor  *network.Monitor
	store    *cache.Store
	notifier Notifier
	realtime Subscriptions
	clock    clockwork.Clock
	log      *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	queries map[string]*Query
	closed  bool
	wg      sync.WaitGroup

	stopMonitor func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache enables cache writes and cache fallback.
func WithCache(s *cache.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithNotifier sets the notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock sets the clock used for staleness.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator creates a coordinator and subscribes it to monitor reconnects.
func NewCoordinator(exec *retry.Executor, monitor *network.Monitor, opts ...Option) *Coordinator {
	c := &Coordinator{
		exec:     exec,
		monitor:  monitor,
		notifier: nopNotifier{},
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
		queries:  make(map[string]*Query),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "coordinator")
	c.stopMonitor = monitor.Subscribe(c.onNetworkEvent)
	return c
}

// SetSubscriptions attaches the realtime binder used for queries with topics.
// It must be called before queries with topics are registered.
func (c *Coordinator) SetSubscriptions(s Subscriptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = s
}

// Run executes op with retry and applies the fallback policy.
func (c *Coordinator) Run(ctx context.Context, op retry.Operation, opts RunOptions) Result {
	cfg := retry.DefaultConfig()
	if opts.Retry != nil {
		cfg = *opts.Retry
	}

	data, err := c.exec.Execute(ctx, op, cfg)
	if err == nil {
		metrics.QueryRuns.WithLabelValues(opts.Key, "fresh").Inc()
		return Result{Data: data}
	}

	if ctx.Err() != nil {
		metrics.QueryRuns.WithLabelValues(opts.Key, "cancelled").Inc()
		return Result{Err: err}
	}

	if opts.NotifyOnError {
		c.notifier.QueryFailed(opts.Key, err)
	}

	if hasFallback(opts.FallbackData) {
		metrics.QueryRuns.WithLabelValues(opts.Key, "fallback").Inc()
		c.log.Warn("Serving fallback data", "key", opts.Key, "error", err)
		return Result{Data: opts.FallbackData, Err: err, FromCache: true}
	}

	metrics.QueryRuns.WithLabelValues(opts.Key, "error").Inc()
	return Result{Err: err}
}

// ErrorKind classifies err the way the executor does when deciding to retry.
func (c *Coordinator) ErrorKind(err error) retry.ErrorKind {
	return c.exec.Classifier().Kind(err)
}

// Register creates a query under opts.Key and binds its topics.
func (c *Coordinator) Register(ctx context.Context, opts Options) (*Query, error) {
	if opts.Key == "" {
		return nil, errors.New("query key is required")
	}
	if opts.Fetch == nil {
		return nil, fmt.Errorf("query %q: fetch is required", opts.Key)
	}
	opts = opts.withDefaults()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.queries[opts.Key]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, opts.Key)
	}
	q := newQuery(c, opts)
	c.queries[opts.Key] = q
	rt := c.realtime
	c.mu.Unlock()

	if len(opts.Topics) > 0 && rt != nil {
		if err := rt.Subscribe(ctx, opts.Key, opts.Topics, opts.EventFilter); err != nil {
			q.Close()
			return nil, fmt.Errorf("bind topics for %q: %w", opts.Key, err)
		}
	}

	c.log.Debug("Registered query", "key", opts.Key, "topics", opts.Topics)
	return q, nil
}

// Get returns the registered query for key.
func (c *Coordinator) Get(key string) (*Query, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queries[key]
	return q, ok
}

// Keys returns the registered keys.
func (c *Coordinator) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.queries))
	for k := range c.queries {
		keys = append(keys, k)
	}
	return keys
}

// Prefetch fetches every registered query, at most limit at a time. Failures
// are logged and left in the query results.
func (c *Coordinator) Prefetch(ctx context.Context, limit int) error {
	c.mu.Lock()
	queries := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		queries = append(queries, q)
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, q := range queries {
		g.Go(func() error {
			if res := q.Fetch(ctx); res.Err != nil {
				c.log.Warn("Prefetch failed", "key", q.Key(), "from_cache", res.FromCache, "error", res.Err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate marks the query under key stale and refetches it in the background.
func (c *Coordinator) Invalidate(key string) {
	q, ok := c.Get(key)
	if !ok {
		c.log.Debug("Invalidate for unknown key", "key", key)
		return
	}
	q.Invalidate()
}

// Close releases every query, stops listening for reconnects and waits for
// background refetches to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	queries := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		queries = append(queries, q)
	}
	c.mu.Unlock()

	c.stopMonitor()
	for _, q := range queries {
		q.Close()
	}
	c.wg.Wait()
}

func (c *Coordinator) onNetworkEvent(ev network.Event) {
	if ev.Type != network.EventReconnected {
		return
	}

	c.mu.Lock()
	var failed []*Query
	for _, q := range c.queries {
		if q.opts.RetryOnReconnect && q.failed() {
			failed = append(failed, q)
		}
	}
	c.mu.Unlock()

	if len(failed) > 0 {
		c.log.Info("Reconnected, re-running failed queries", "count", len(failed))
	}
	for _, q := range failed {
		c.background(q, "reconnect")
	}
}

// background refetches q on a tracked goroutine.
func (c *Coordinator) background(q *Query, trigger string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		q.refetch(q.ctx, trigger)
	}()
}

func (c *Coordinator) unregister(q *Query) {
	c.mu.Lock()
	if c.queries[q.opts.Key] == q {
		delete(c.queries, q.opts.Key)
	}
	rt := c.realtime
	c.mu.Unlock()

	if rt != nil && len(q.opts.Topics) > 0 {
		if err := rt.Unsubscribe(context.Background(), q.opts.Key); err != nil {
			c.log.Warn("Failed to unbind topics", "key", q.opts.Key, "error", err)
		}
	}
}

// hasFallback reports whether v holds usable fallback data. A typed nil
// pointer, map or slice counts as none.
func hasFallback(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}
