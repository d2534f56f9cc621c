package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/infra/source"
	"github.com/vietddude/steady/internal/infra/storage/memory"
	"github.com/vietddude/steady/internal/network"
	"github.com/vietddude/steady/internal/query"
	"github.com/vietddude/steady/internal/resilience/retry"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found")
	}

	DEMO_URL := os.Getenv("DEMO_URL")
	if DEMO_URL == "" {
		log.Fatalf("DEMO_URL is not set")
	}

	ctx := context.Background()

	// 1. Shared connectivity state and cache
	monitor := network.NewMonitor(true)
	store := cache.New(memory.NewMemoryStorage(), cache.Options{Namespace: "demo"})

	// 2. Executor with a short backoff so the demo finishes quickly
	exec := retry.NewExecutor(monitor, retry.WithOfflinePause(500*time.Millisecond))
	coord := query.NewCoordinator(exec, monitor,
		query.WithCache(store),
		query.WithNotifier(query.NewLogNotifier(nil)),
	)
	defer coord.Close()

	// Print connectivity transitions
	monitor.Subscribe(func(ev network.Event) {
		fmt.Printf("network %s (failed=%d)\n", ev.Type, ev.State.FailedRequests)
	})

	src := source.NewHTTPSource(source.Config{BaseURL: DEMO_URL, Timeout: 5 * time.Second})
	defer src.Close()
	unreachable := source.NewHTTPSource(source.Config{BaseURL: "http://127.0.0.1:1"})

	// Flip to simulate losing the upstream
	var down atomic.Bool
	fetch := func(ctx context.Context) (any, error) {
		if down.Load() {
			return unreachable.Get(ctx, "/")
		}
		return src.Get(ctx, "/")
	}

	policy := retry.Config{
		MaxRetries:        2,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	}

	q, err := coord.Register(ctx, query.Options{
		Key:              "demo",
		Fetch:            fetch,
		CacheTTL:         time.Minute,
		Retry:            &policy,
		RetryOnReconnect: true,
	})
	if err != nil {
		log.Fatalf("register: %v", err)
	}

	fmt.Println("=== Fetching online ===")
	printResult(q.Fetch(ctx))

	// 3. Go offline: the fetch fails fast and the cached copy is served
	fmt.Println("=== Fetching offline ===")
	monitor.SetOnline(false)
	down.Store(true)
	printResult(q.Refetch(ctx))
	fmt.Printf("offline UI: %t, stale data: %t\n", monitor.ShouldShowOfflineUI(), q.HasStaleData())

	// 4. Reconnect: the failed query re-runs once
	down.Store(false)
	monitor.SetOnline(true)
	time.Sleep(100 * time.Millisecond)
	fmt.Println("=== After reconnect ===")
	printResult(q.Result())
}

func printResult(r query.Result) {
	if r.Err != nil {
		fmt.Printf("  error: %v\n", r.Err)
	}
	fmt.Printf("  from cache: %t\n  data: %v\n", r.FromCache, r.Data)
}
