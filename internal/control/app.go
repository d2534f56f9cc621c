package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/steady/internal/api"
	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/core/config"
	redisclient "github.com/vietddude/steady/internal/infra/redis"
	"github.com/vietddude/steady/internal/infra/source"
	"github.com/vietddude/steady/internal/infra/storage/memory"
	"github.com/vietddude/steady/internal/infra/storage/postgres"
	"github.com/vietddude/steady/internal/network"
	"github.com/vietddude/steady/internal/query"
	"github.com/vietddude/steady/internal/realtime"
	"github.com/vietddude/steady/internal/resilience/retry"
)

// prefetchConcurrency bounds concurrent warm-up fetches.
const prefetchConcurrency = 4

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg *config.AppConfig

	monitor     *network.Monitor
	prober      *network.Prober
	poller      *network.Poller
	store       *cache.Store
	sweeper     *cache.Sweeper
	coord       *query.Coordinator
	invalidator *realtime.Invalidator
	source      *source.HTTPSource
	server      *api.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates a new App instance with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (app *App, err error) {
	a := &App{cfg: cfg, log: slog.Default()}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	// 1. Connectivity
	a.monitor = network.NewMonitor(true)
	a.monitor.SetOfflineUIThreshold(cfg.Network.OfflineThreshold)
	a.prober = newProber(a.monitor, cfg)

	// 2. Backends
	if err := a.connectBackends(ctx); err != nil {
		return nil, err
	}
	storage, err := a.cacheStorage()
	if err != nil {
		return nil, err
	}
	a.store = cache.New(storage, cache.Options{
		Namespace:     cfg.Cache.Namespace,
		SchemaVersion: cfg.Cache.SchemaVersion,
		MaxAgeCeiling: cfg.Cache.MaxAge,
	})
	a.sweeper = cache.NewSweeper(a.store, cfg.Cache.SweepInterval)

	// 3. Retry and coordination
	exec := retry.NewExecutor(a.monitor,
		retry.WithBackoff(retry.NewBackoff(cfg.Retry.Seed)),
		retry.WithOfflinePause(cfg.Retry.OfflinePause),
	)
	notifier := query.NewLogNotifier(nil)
	a.coord = query.NewCoordinator(exec, a.monitor,
		query.WithCache(a.store),
		query.WithNotifier(notifier),
	)
	a.poller = network.NewPoller(a.monitor, cfg.Network.PollInterval, notifier.ConnectivityChanged)

	// 4. Realtime invalidation
	sub, publisher, err := a.realtime()
	if err != nil {
		return nil, err
	}

	// 5. HTTP
	a.server = api.NewServer(a.coord, a.monitor, a.store, cfg.Server.Port)
	if a.redisClient != nil {
		a.server.AddCheck("redis", a.redisClient.Ping)
	}
	if a.db != nil {
		a.server.AddCheck("postgres", a.db.Health)
	}
	if sub != nil {
		a.invalidator = realtime.NewInvalidator(sub, a.coord)
		a.coord.SetSubscriptions(a.invalidator)
		a.server.SetPublisher(publisher)
	}

	// 6. Queries
	if len(cfg.Queries) > 0 {
		a.source = source.NewHTTPSource(cfg.Source)
		if err := a.registerQueries(ctx); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func newProber(m *network.Monitor, cfg *config.AppConfig) *network.Prober {
	n := cfg.Network
	switch {
	case n.ProbeURL != "":
		return network.NewHTTPProber(m, n.ProbeURL, n.ProbeInterval, n.ProbeTimeout)
	case n.ProbeAddr != "":
		return network.NewTCPProber(m, n.ProbeAddr, n.ProbeInterval, n.ProbeTimeout)
	case cfg.Source.BaseURL != "":
		return network.NewHTTPProber(m, cfg.Source.BaseURL, n.ProbeInterval, n.ProbeTimeout)
	}
	return nil
}

func (a *App) connectBackends(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Cache.Backend == config.BackendRedis || cfg.Realtime.Backend == config.BackendRedis {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = client
	}

	if cfg.Cache.Backend == config.BackendPostgres || cfg.Realtime.Backend == config.BackendPostgres {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) cacheStorage() (cache.Storage, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		a.log.Info("Using Redis cache storage")
		return a.redisClient, nil
	case config.BackendPostgres:
		a.log.Info("Using PostgreSQL cache storage")
		return postgres.NewCacheRepo(a.db.DB), nil
	case config.BackendMemory:
		a.log.Info("Using Memory cache storage")
		return memory.NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
}

func (a *App) realtime() (realtime.Subscriber, api.Publisher, error) {
	switch a.cfg.Realtime.Backend {
	case config.BackendNone:
		return nil, nil, nil
	case config.BackendMemory:
		bus := realtime.NewBus()
		return bus, busPublisher{bus: bus}, nil
	case config.BackendRedis:
		return redisclient.NewPubSub(a.redisClient), a.redisClient, nil
	case config.BackendPostgres:
		l, err := a.db.ListenerFor(a.cfg.Database.ChannelPrefix)
		if err != nil {
			return nil, nil, err
		}
		return l, notifyPublisher{db: a.db, prefix: a.cfg.Database.ChannelPrefix}, nil
	}
	return nil, nil, fmt.Errorf("unknown realtime backend %q", a.cfg.Realtime.Backend)
}

func (a *App) registerQueries(ctx context.Context) error {
	policy := a.cfg.RetryPolicy()
	for _, qc := range a.cfg.Queries {
		fallback, err := qc.FallbackData()
		if err != nil {
			return fmt.Errorf("query %q: %w", qc.Key, err)
		}
		_, err = a.coord.Register(ctx, query.Options{
			Key:              qc.Key,
			Fetch:            a.source.Operation(qc.Path),
			FallbackData:     fallback,
			Topics:           realtime.ParseTopics(qc.Topics),
			EventFilter:      qc.EventFilter,
			StaleTime:        qc.StaleTime,
			RetryOnReconnect: qc.RetryOnReconnect,
			CacheTTL:         qc.CacheTTL,
			Retry:            &policy,
			NotifyOnError:    qc.NotifyOnError,
		})
		if err != nil {
			return err
		}
		a.log.Info("Registered query", "key", qc.Key, "path", qc.Path)
	}
	return nil
}

// Coordinator returns the query coordinator.
func (a *App) Coordinator() *query.Coordinator {
	return a.coord
}

// Store returns the cache store.
func (a *App) Store() *cache.Store {
	return a.store
}

// Monitor returns the shared connectivity monitor.
func (a *App) Monitor() *network.Monitor {
	return a.monitor
}

// Start starts the app and all its background components.
func (a *App) Start(ctx context.Context) error {
	// Start API Server
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("API server failed", "error", err)
		}
	}()

	if a.prober != nil {
		go a.prober.Start(ctx)
	}
	go a.poller.Start(ctx)
	go a.sweeper.Start(ctx)

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	// Warm registered queries
	go func() {
		_ = a.coord.Prefetch(ctx, prefetchConcurrency)
	}()

	return nil
}

// Stop stops the app.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping steady...")

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop api server: %w", err))
	}

	a.coord.Close()
	if a.invalidator != nil {
		if err := a.invalidator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close invalidator: %w", err))
		}
	}
	if a.source != nil {
		_ = a.source.Close()
	}

	a.closeBackends()
	return errors.Join(errs...)
}

func (a *App) closeBackends() {
	// Close Redis
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
