package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cobrance/lucia/pkg/negotiation"
	"github.com/cobrance/lucia/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() negotiation.Snapshot {
	return negotiation.Snapshot{
		State:        negotiation.StateNegotiating,
		GreetingSent: true,
		History: []providers.Message{
			{Role: "assistant", Content: "Olá!"},
			{Role: "user", Content: "quero negociar"},
		},
	}
}

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "s1", sampleSnapshot()))

	got, ok, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, negotiation.StateNegotiating, got.State)
	require.Len(t, got.History, 2)
	assert.Equal(t, "quero negociar", got.History[1].Content)

	// Overwrite keeps the latest snapshot.
	updated := sampleSnapshot()
	updated.State = negotiation.StateClosed
	require.NoError(t, store.Put(ctx, "s1", updated))
	got, ok, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, negotiation.StateClosed, got.State)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, ok, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	runStoreSuite(t, store)
}

func TestMemoryStoreDeleteExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	current := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	require.NoError(t, store.Put(ctx, "old", sampleSnapshot()))
	current = current.Add(2 * time.Hour)
	require.NoError(t, store.Put(ctx, "fresh", sampleSnapshot()))

	removed, err := store.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := store.Get(ctx, "old")
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	current := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	require.NoError(t, store.Put(ctx, "old", sampleSnapshot()))
	current = current.Add(2 * time.Hour)
	require.NoError(t, store.Put(ctx, "fresh", sampleSnapshot()))

	removed, err := store.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, _ := store.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestRedisStoreTTLIsImmutable(t *testing.T) {
	// No connection is made until a command runs, so the constructor and
	// DeleteExpired are safe to exercise without a server.
	store := NewRedisStore("localhost:6379")

	want := store.ttl
	removed, err := store.DeleteExpired(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, want, store.ttl, "the write TTL is fixed at construction")
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store, "empty backend defaults to memory")

	store, err = New(Config{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	store.Close()

	_, err = New(Config{Backend: "etcd"})
	assert.Error(t, err)
}
