package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/slippymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFileCache(t *testing.T, limit int64) *FileCache {
	t.Helper()

	fc, err := OpenFileCache(filepath.Join(t.TempDir(), "cache.db"), "osm", limit)
	require.NoError(t, err)
	t.Cleanup(func() { fc.Close() })
	return fc
}

func TestFileCache_StoreGet(t *testing.T) {
	ctx := context.Background()
	fc := openTestFileCache(t, 0)

	a := tile.MustNew(13, 4317, 2692)

	_, err := fc.Get(ctx, a)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, fc.Store(ctx, a, []byte("png bytes"), `"abc"`))

	e, err := fc.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), e.Data)
	assert.Equal(t, `"abc"`, e.ETag)
	assert.False(t, e.Modified.IsZero())

	// Replace keeps one row
	require.NoError(t, fc.Store(ctx, a, []byte("newer"), ""))
	e, err = fc.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), e.Data)
	assert.Empty(t, e.ETag)

	n, err := fc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFileCache_SourcesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	osm, err := OpenFileCache(path, "osm", 0)
	require.NoError(t, err)
	defer osm.Close()

	topo, err := OpenFileCache(path, "topo", 0)
	require.NoError(t, err)
	defer topo.Close()

	a := tile.MustNew(2, 1, 1)
	require.NoError(t, osm.Store(ctx, a, []byte("osm"), ""))

	_, err = topo.Get(ctx, a)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFileCache_PurgeKeepsPopular(t *testing.T) {
	ctx := context.Background()
	fc := openTestFileCache(t, 250)

	payload := bytes.Repeat([]byte{1}, 100)
	addrs := []tile.Address{tile.MustNew(5, 0, 0), tile.MustNew(5, 1, 0), tile.MustNew(5, 2, 0), tile.MustNew(5, 3, 0)}
	for _, a := range addrs {
		require.NoError(t, fc.Store(ctx, a, payload, ""))
	}

	// Make the last two popular
	for i := 0; i < 3; i++ {
		_, err := fc.Get(ctx, addrs[2])
		require.NoError(t, err)
		_, err = fc.Get(ctx, addrs[3])
		require.NoError(t, err)
	}

	removed, err := fc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	size, err := fc.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(250))

	_, err = fc.Get(ctx, addrs[0])
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = fc.Get(ctx, addrs[3])
	assert.NoError(t, err)

	// Within budget: nothing to do
	removed, err = fc.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFileCache_Touch(t *testing.T) {
	ctx := context.Background()
	fc := openTestFileCache(t, 0)

	a := tile.MustNew(1, 0, 0)
	require.NoError(t, fc.Store(ctx, a, []byte("x"), "v1"))

	before, err := fc.Get(ctx, a)
	require.NoError(t, err)

	require.NoError(t, fc.Touch(ctx, a))

	after, err := fc.Get(ctx, a)
	require.NoError(t, err)
	assert.False(t, after.Modified.Before(before.Modified))
	assert.Equal(t, "v1", after.ETag)
}

func TestNewFileStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewFileStore("disabled", "", "osm", 0, nil)
	require.NoError(t, err)
	require.NoError(t, store.Store(ctx, tile.MustNew(0, 0, 0), []byte("x"), ""))
	_, err = store.Get(ctx, tile.MustNew(0, 0, 0))
	assert.ErrorIs(t, err, ErrCacheMiss)

	store, err = NewFileStore("sqlite", filepath.Join(t.TempDir(), "c.db"), "osm", 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, store)
	require.NoError(t, store.Close())

	_, err = NewFileStore("sqlite", "", "osm", 0, nil)
	assert.Error(t, err)

	_, err = NewFileStore("redis", "", "osm", 0, nil)
	assert.Error(t, err)
}
