package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, "tileproxy:cache:", time.Hour, nil), mr
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	key := TileKey("liberty", "openmaptiles", 5, 16, 10, "pbf")

	require.NoError(t, store.Put(key, []byte("tile-data"), "application/x-protobuf", 0))

	entry, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("tile-data"), entry.Payload)
	assert.Equal(t, "application/x-protobuf", entry.ContentType)
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := TileKey("liberty", "openmaptiles", 0, 0, 0, "pbf")
	require.NoError(t, store.Put(key, []byte("short-lived"), "application/x-protobuf", time.Minute))

	_, ok := store.Get(key)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok = store.Get(key)
	assert.False(t, ok)
}

func TestRedisStore_Invalidate(t *testing.T) {
	store, _ := newTestRedisStore(t)
	key := TileKey("liberty", "openmaptiles", 0, 0, 0, "pbf")
	require.NoError(t, store.Put(key, []byte("data"), "application/x-protobuf", 0))

	assert.True(t, store.Invalidate(key))
	_, ok := store.Get(key)
	assert.False(t, ok)
	assert.False(t, store.Invalidate(key))
}

func TestRedisStore_InvalidateRaw_Group(t *testing.T) {
	store, _ := newTestRedisStore(t)
	for y := 0; y < 3; y++ {
		require.NoError(t, store.Put(TileKey("liberty", "openmaptiles", 1, 0, y, "pbf"), []byte("d"), "application/x-protobuf", 0))
	}
	other := TileKey("bright", "openmaptiles", 1, 0, 0, "pbf")
	require.NoError(t, store.Put(other, []byte("d"), "application/x-protobuf", 0))

	assert.Equal(t, 3, store.InvalidateRaw("liberty_openmaptiles"))

	_, ok := store.Get(other)
	assert.True(t, ok)
}

func TestRedisStore_InvalidateAll(t *testing.T) {
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.Put(TileKey("liberty", "openmaptiles", 0, 0, 0, "pbf"), []byte("a"), "application/x-protobuf", 0))
	require.NoError(t, store.Put(SpriteKey("liberty", "sprite.png"), []byte("bb"), "image/png", 0))

	assert.Equal(t, 2, store.InvalidateAll())

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.EntryCount)
}

func TestRedisStore_Stats(t *testing.T) {
	store, _ := newTestRedisStore(t)
	require.NoError(t, store.Put(TileKey("liberty", "openmaptiles", 0, 0, 0, "pbf"), []byte("12345"), "application/x-protobuf", 0))
	require.NoError(t, store.Put(TileKey("liberty", "openmaptiles", 1, 0, 0, "pbf"), []byte("123"), "application/x-protobuf", 0))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, int64(8), stats.TotalBytes)
}
