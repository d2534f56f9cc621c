package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/steady/internal/cache"
	"github.com/vietddude/steady/internal/core/domain"
	"github.com/vietddude/steady/internal/infra/storage/memory"
	"github.com/vietddude/steady/internal/network"
	"github.com/vietddude/steady/internal/query"
	"github.com/vietddude/steady/internal/resilience/retry"
)

type testEnv struct {
	monitor *network.Monitor
	backend *memory.MemoryStorage
	store   *cache.Store
	coord   *query.Coordinator
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		monitor: network.NewMonitor(true),
		backend: memory.NewMemoryStorage(),
	}
	env.store = cache.New(env.backend, cache.Options{Namespace: "api"})
	exec := retry.NewExecutor(env.monitor,
		retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		retry.WithOfflinePause(10*time.Millisecond),
	)
	env.coord = query.NewCoordinator(exec, env.monitor, query.WithCache(env.store))
	t.Cleanup(env.coord.Close)
	env.server = NewServer(env.coord, env.monitor, env.store, 0)
	return env
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	return e.doBody(method, path, "")
}

func (e *testEnv) doBody(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	for range 3 {
		env.monitor.RecordFailure()
	}
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, w.Body.String())

	env.monitor.SetOnline(false)
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"offline"}`, w.Body.String())
}

func TestHealth_BackendChecks(t *testing.T) {
	env := newTestEnv(t)
	env.server.AddCheck("redis", func(ctx context.Context) error { return nil })

	w := env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"redis":"ok"}}`, w.Body.String())

	env.server.AddCheck("postgres", func(ctx context.Context) error { return errors.New("connection refused") })
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"ok","postgres":"connection refused"}}`, w.Body.String())

	env.monitor.SetOnline(false)
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusOffline, resp.Status)
}

func TestNetwork(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.RecordFailure()

	w := env.do("GET", "/network")
	require.Equal(t, http.StatusOK, w.Code)

	var resp NetworkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsOnline)
	assert.Equal(t, 1, resp.FailedRequests)
	assert.False(t, resp.ShouldShowOfflineUI)
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	calls := 0
	_, err := env.coord.Register(ctx, query.Options{
		Key: "user",
		Fetch: func(ctx context.Context) (any, error) {
			calls++
			return map[string]any{"id": 1}, nil
		},
		StaleTime: time.Hour,
	})
	require.NoError(t, err)
	_, err = env.coord.Register(ctx, query.Options{
		Key: "broken",
		Fetch: func(ctx context.Context) (any, error) {
			return nil, &domain.Error{Message: "forbidden", Status: 403}
		},
	})
	require.NoError(t, err)

	w := env.do("GET", "/queries")
	assert.JSONEq(t, `{"queries":["broken","user"]}`, w.Body.String())

	w = env.do("GET", "/queries/user")
	require.Equal(t, http.StatusOK, w.Code)
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user", resp.Key)
	assert.Equal(t, map[string]any{"id": float64(1)}, resp.Data)
	assert.False(t, resp.FromCache)

	env.do("GET", "/queries/user")
	assert.Equal(t, 1, calls)

	w = env.do("POST", "/queries/user/refetch")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)

	w = env.do("GET", "/queries/broken")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "forbidden")
	assert.Equal(t, retry.KindClient.String(), resp.ErrorKind)

	w = env.do("GET", "/queries/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	q, ok := env.coord.Get("user")
	require.True(t, ok)
	before := q.FetchedAt()
	w = env.do("POST", "/queries/user/invalidate")
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return q.FetchedAt().After(before)
	}, time.Second, 5*time.Millisecond)
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.Set(ctx, "a", 1, time.Minute)
	env.store.Set(ctx, "b", 2, time.Minute)

	w := env.do("DELETE", "/cache/a")
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := env.store.Get(ctx, "a", time.Minute)
	assert.False(t, ok)

	w = env.do("POST", "/cache/sweep")
	assert.JSONEq(t, `{"removed":0}`, w.Body.String())

	w = env.do("DELETE", "/cache")
	assert.JSONEq(t, `{"removed":1}`, w.Body.String())
	assert.Equal(t, 0, env.backend.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "steady_network_online")
}

type publisherFunc func(ctx context.Context, ev domain.ChangeEvent) error

func (f publisherFunc) Publish(ctx context.Context, ev domain.ChangeEvent) error { return f(ctx, ev) }

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t)

	w := env.doBody("POST", "/events", `{"topic":"orders","type":"INSERT"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	var got []domain.ChangeEvent
	env.server.SetPublisher(publisherFunc(func(ctx context.Context, ev domain.ChangeEvent) error {
		if ev.Topic == "down" {
			return errors.New("broker unavailable")
		}
		got = append(got, ev)
		return nil
	}))

	w = env.doBody("POST", "/events", `{"topic":"orders","type":"INSERT","payload":{"id":3}}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventInsert, got[0].Type)
	assert.JSONEq(t, `{"id":3}`, string(got[0].Payload))

	w = env.doBody("POST", "/events", `{"topic":"orders"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.doBody("POST", "/events", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.doBody("POST", "/events", `{"topic":"down","type":"UPDATE"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
