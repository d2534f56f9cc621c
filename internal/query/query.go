package query

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vietddude/steady/internal/metrics"
	"github.com/vietddude/steady/internal/resilience/retry"
)

// DefaultCacheTTL is the cache lifetime of a query result when none is set.
const DefaultCacheTTL = 5 * time.Minute

// Options describes a keyed query.
type Options struct {
	Key          string
	Fetch        retry.Operation
	FallbackData any

	// Topics invalidate the query when a change matching EventFilter arrives.
	Topics      []string
	EventFilter string

	// StaleTime is how long a successful result is served by Fetch without refetching.
	StaleTime        time.Duration
	RetryOnReconnect bool
	CacheTTL         time.Duration
	Retry            *retry.Config

	// NotifyOnError defaults to true for registered queries.
	NotifyOnError *bool
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.NotifyOnError == nil {
		on := true
		o.NotifyOnError = &on
	}
	return o
}

// Query is a registered keyed query. It is safe for concurrent use.
type Query struct {
	c    *Coordinator
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	result      Result
	hasResult   bool
	fetchedAt   time.Time
	invalidated bool
	// gen counts invalidations. A run only clears invalidated if none arrived
	// while it was in flight.
	gen    uint64
	closed bool
}

// runResult is a Result tagged with the invalidation generation its run started at.
type runResult struct {
	Result
	gen uint64
}

func newQuery(c *Coordinator, opts Options) *Query {
	ctx, cancel := context.WithCancel(context.Background())
	return &Query{c: c, opts: opts, ctx: ctx, cancel: cancel}
}

// Key returns the query key.
func (q *Query) Key() string { return q.opts.Key }

// Fetch returns the last successful result while it is younger than StaleTime
// and not invalidated, otherwise it refetches.
func (q *Query) Fetch(ctx context.Context) Result {
	q.mu.Lock()
	fresh := q.hasResult &&
		!q.invalidated &&
		q.result.Err == nil &&
		q.c.clock.Since(q.fetchedAt) < q.opts.StaleTime
	r := q.result
	q.mu.Unlock()

	if fresh {
		return r
	}
	return q.refetch(ctx, "fetch")
}

// Refetch runs the query now. Concurrent refetches of the same key share one run.
func (q *Query) Refetch(ctx context.Context) Result {
	return q.refetch(ctx, "refetch")
}

// Invalidate marks the result stale and refetches in the background.
func (q *Query) Invalidate() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.invalidated = true
	q.gen++
	q.mu.Unlock()

	q.c.background(q, "invalidate")
}

// Result returns the most recent result.
func (q *Query) Result() Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result
}

// FetchedAt returns when the most recent result was stored.
func (q *Query) FetchedAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetchedAt
}

// IsOffline mirrors the shared connectivity state.
func (q *Query) IsOffline() bool {
	return !q.c.monitor.IsOnline()
}

// HasStaleData reports whether the most recent result came from fallback data.
func (q *Query) HasStaleData() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result.FromCache
}

// Close cancels pending work and unregisters the query. No state, cache or
// notification change happens afterwards.
func (q *Query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.c.unregister(q)
}

func (q *Query) failed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasResult && q.result.Err != nil && !q.closed
}

func (q *Query) refetch(ctx context.Context, trigger string) Result {
	if q.ctx.Err() != nil {
		return Result{Err: ErrClosed}
	}
	metrics.QueryRefetches.WithLabelValues(trigger).Inc()

	q.mu.Lock()
	want := q.gen
	q.mu.Unlock()

	// A run that started before the latest invalidation is joined but not
	// trusted; go round again for a run that saw it.
	for {
		ch := q.c.group.DoChan(q.opts.Key, func() (any, error) {
			return q.run(), nil
		})

		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		case <-q.ctx.Done():
			return Result{Err: ErrClosed}
		case res := <-ch:
			out := res.Val.(runResult)
			if out.gen >= want || q.ctx.Err() != nil {
				return out.Result
			}
		}
	}
}

// run executes one fetch on the query's own context and stores the result.
func (q *Query) run() runResult {
	ctx := q.ctx
	fallback := q.opts.FallbackData

	q.mu.Lock()
	gen := q.gen
	q.mu.Unlock()

	r := q.c.Run(ctx, q.opts.Fetch, RunOptions{
		Key:           q.opts.Key,
		FallbackData:  fallback,
		Retry:         q.opts.Retry,
		NotifyOnError: *q.opts.NotifyOnError,
	})
	if ctx.Err() != nil {
		return runResult{Result: Result{Err: ErrClosed}, gen: gen}
	}

	store := q.c.store
	switch {
	case r.Err == nil && store != nil:
		// Close takes q.mu, so holding it keeps the write from landing after Close.
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return runResult{Result: Result{Err: ErrClosed}, gen: gen}
		}
		store.Set(ctx, q.opts.Key, r.Data, q.opts.CacheTTL)
		q.mu.Unlock()
	case r.Err != nil && !hasFallback(fallback) && store != nil:
		if raw, ok := store.Get(ctx, q.opts.Key, q.opts.CacheTTL); ok {
			var data any
			if err := json.Unmarshal(raw, &data); err == nil {
				r.Data = data
				r.FromCache = true
				metrics.QueryRuns.WithLabelValues(q.opts.Key, "cached").Inc()
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return runResult{Result: Result{Err: ErrClosed}, gen: gen}
	}
	q.result = r
	q.hasResult = true
	q.fetchedAt = q.c.clock.Now()
	if q.gen == gen {
		q.invalidated = false
	}
	return runResult{Result: r, gen: gen}
}
