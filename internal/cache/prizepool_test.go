package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"champs/internal/game"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePool(t *testing.T) game.CachedPrizePool {
	t.Helper()
	info, ok := game.ComputePrizePool(12, decimal.NewFromInt(25))
	require.True(t, ok)
	return game.CachedPrizePool{Available: true, Info: info}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "champ-1")
	require.NoError(t, err)
	assert.False(t, ok)

	v := samplePool(t)
	require.NoError(t, c.Set(ctx, "champ-1", v))
	got, ok, err := c.Get(ctx, "champ-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Info.PrizePool.Equal(v.Info.PrizePool))

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "champ-1")
	assert.False(t, ok, "entry should expire after ttl")

	require.NoError(t, c.Set(ctx, "champ-1", v))
	require.NoError(t, c.Invalidate(ctx, "champ-1"))
	_, ok, _ = c.Get(ctx, "champ-1")
	assert.False(t, ok, "entry should be gone after invalidate")
}

func TestMemoryCacheRemembersAbsentPool(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	require.NoError(t, c.Set(ctx, "free", game.CachedPrizePool{Available: false}))
	got, ok, err := c.Get(ctx, "free")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, got.Available)
}

func TestRedisCacheGet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, time.Minute)

	t.Run("hit", func(t *testing.T) {
		v := samplePool(t)
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		mock.ExpectGet(Key("c1")).SetVal(string(raw))

		got, ok, err := c.Get(ctx, "c1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 12, got.Info.ParticipantsCount)
		assert.True(t, got.Info.RakePercentage.Equal(decimal.RequireFromString("0.05")))
		require.Len(t, got.Info.Distribution, 3)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet(Key("c2")).RedisNil()
		_, ok, err := c.Get(ctx, "c2")
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet(Key("c3")).SetErr(errors.New("connection refused"))
		_, _, err := c.Get(ctx, "c3")
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisCacheSetAndInvalidate(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, 30*time.Second)

	v := samplePool(t)
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	mock.ExpectSet(Key("c1"), string(raw), 30*time.Second).SetVal("OK")
	require.NoError(t, c.Set(ctx, "c1", v))

	mock.ExpectDel(Key("c1")).SetVal(1)
	require.NoError(t, c.Invalidate(ctx, "c1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAutoWithoutRedis(t *testing.T) {
	c, closeFn := NewAuto("", time.Minute)
	defer closeFn()
	_, isMemory := c.(*Memory)
	assert.True(t, isMemory)
}
