package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpscope/internal/cache"
)

func openTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKV_RoundTrip(t *testing.T) {
	kv := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte(`{"x":1}`)))
	got, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), got)

	// Upsert overwrites.
	require.NoError(t, kv.Set(ctx, "a", []byte(`{"x":2}`)))
	got, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":2}`), got)
}

func TestKV_MissingKey(t *testing.T) {
	kv := openTestKV(t)
	_, err := kv.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestKV_Delete(t *testing.T) {
	kv := openTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("v")))
	require.NoError(t, kv.Delete(ctx, "a"))
	_, err := kv.Get(ctx, "a")
	assert.True(t, errors.Is(err, cache.ErrNotFound))

	// Deleting a missing key is not an error.
	assert.NoError(t, kv.Delete(ctx, "a"))
}

func TestKV_BackedByStore(t *testing.T) {
	kv := openTestKV(t)
	store := cache.New(kv)
	ctx := context.Background()

	require.NoError(t, store.SaveFavorites(ctx, []string{"ex:BTC", "ex:ETH"}))
	favs, err := store.LoadFavorites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ex:BTC", "ex:ETH"}, favs)
}
