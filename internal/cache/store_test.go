package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/steady/internal/infra/storage/memory"
)

type profile struct {
	ID    int      `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Admin bool     `json:"admin"`
}

// failingStorage fails every call, like a full or unreachable backend.
type failingStorage struct{}

var errQuota = errors.New("quota exceeded")

func (failingStorage) Get(context.Context, string) (string, bool, error) { return "", false, errQuota }
func (failingStorage) Set(context.Context, string, string, time.Duration) error {
	return errQuota
}
func (failingStorage) Remove(context.Context, string) error          { return errQuota }
func (failingStorage) Keys(context.Context, string) ([]string, error) { return nil, errQuota }

func newTestStore(t *testing.T) (*Store, *memory.MemoryStorage, clockwork.FakeClock) {
	t.Helper()
	backend := memory.NewMemoryStorage()
	clock := clockwork.NewFakeClock()
	return New(backend, Options{Namespace: "test", Clock: clock}), backend, clock
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	want := profile{ID: 1, Name: "ada", Tags: []string{"a", "b"}, Admin: true}
	store.Set(ctx, "user:1", want, time.Minute)

	got, ok := Load[profile](ctx, store, "user:1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, want, got)

	m, ok := Load[map[string]any](ctx, store, "user:1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, "ada", m["name"])
}

func TestStore_ExpiredEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	store, backend, clock := newTestStore(t)

	store.Set(ctx, "k", 42, time.Minute)
	clock.Advance(time.Minute)

	_, ok := store.Get(ctx, "k", time.Minute)
	assert.True(t, ok, "an entry exactly maxAge old is still valid")

	clock.Advance(time.Millisecond)
	_, ok = store.Get(ctx, "k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len(), "expiry on read removes the entry")
}

func TestStore_CallerMaxAgeWins(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	store.Set(ctx, "k", "v", time.Hour)
	clock.Advance(2 * time.Second)

	_, ok := store.Get(ctx, "k", time.Second)
	assert.False(t, ok, "a short maxAge expires the entry regardless of its ttl")
}

func TestStore_RepeatedGetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, backend, clock := newTestStore(t)

	store.Set(ctx, "k", profile{ID: 7}, time.Minute)
	before, _, _ := backend.Get(ctx, "test:k")

	first, ok := store.Get(ctx, "k", time.Minute)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		again, ok := store.Get(ctx, "k", time.Minute)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}

	after, _, _ := backend.Get(ctx, "test:k")
	assert.Equal(t, before, after, "reads do not change stored state")
}

func TestStore_SchemaVersionMismatch(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryStorage()
	clock := clockwork.NewFakeClock()

	v1 := New(backend, Options{Namespace: "test", SchemaVersion: "1", Clock: clock})
	v2 := New(backend, Options{Namespace: "test", SchemaVersion: "2", Clock: clock})

	v1.Set(ctx, "k", "old shape", time.Minute)
	_, ok := v2.Get(ctx, "k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
}

func TestStore_CorruptEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)

	require.NoError(t, backend.Set(ctx, "test:k", "{not json", 0))
	_, ok := store.Get(ctx, "k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
}

func TestStore_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)

	store.Set(ctx, "a", 1, time.Minute)
	store.Set(ctx, "b", 2, time.Minute)
	require.NoError(t, backend.Set(ctx, "foreign:c", "keep", 0))

	store.Remove(ctx, "a")
	_, ok := store.Get(ctx, "a", time.Minute)
	assert.False(t, ok)

	assert.Equal(t, 1, store.Clear(ctx))
	assert.Equal(t, 1, backend.Len(), "clear only drops namespaced entries")
}

func TestStore_ClearExpired(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewMemoryStorage()
	clock := clockwork.NewFakeClock()
	store := New(backend, Options{Namespace: "test", Clock: clock, MaxAgeCeiling: 30 * time.Minute})
	other := New(backend, Options{Namespace: "test", SchemaVersion: "0", Clock: clock})

	store.Set(ctx, "old", 1, time.Hour)
	clock.Advance(20 * time.Minute)
	store.Set(ctx, "fresh", 2, time.Hour)
	other.Set(ctx, "stale-version", 3, time.Hour)
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 2, store.ClearExpired(ctx))

	_, ok := store.Get(ctx, "fresh", time.Hour)
	assert.True(t, ok)
	assert.Equal(t, 1, backend.Len())
}

func TestStore_StorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := New(failingStorage{}, Options{})

	assert.NotPanics(t, func() {
		store.Set(ctx, "k", "v", time.Minute)
		store.Remove(ctx, "k")
	})
	_, ok := store.Get(ctx, "k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Clear(ctx))
	assert.Equal(t, 0, store.ClearExpired(ctx))
}

func TestStore_UnserializableDataIsDropped(t *testing.T) {
	ctx := context.Background()
	store, backend, _ := newTestStore(t)

	store.Set(ctx, "k", make(chan int), time.Minute)
	assert.Equal(t, 0, backend.Len())
}

func TestLoad_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	store.Set(ctx, "k", "a string", time.Minute)
	_, ok := Load[profile](ctx, store, "k", time.Minute)
	assert.False(t, ok)
}

func TestSweeper_RemovesExpired(t *testing.T) {
	backend := memory.NewMemoryStorage()
	clock := clockwork.NewFakeClock()
	store := New(backend, Options{Namespace: "test", Clock: clock, MaxAgeCeiling: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.Set(ctx, "k", 1, time.Hour)
	clock.Advance(2 * time.Minute)

	go NewSweeper(store, 5*time.Millisecond).Start(ctx)

	require.Eventually(t, func() bool {
		return backend.Len() == 0
	}, time.Second, 5*time.Millisecond)
}
