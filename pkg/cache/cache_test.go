package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbols []string           `json:"symbols"`
	Weights map[string]float64 `json:"weights"`
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	in := payload{Symbols: []string{"AAA"}, Weights: map[string]float64{"AAA": 0.25}}
	require.NoError(t, mc.Set(ctx, "k", in, time.Minute))

	var out payload
	require.NoError(t, mc.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, mc.Get(ctx, "missing", &out), ErrCacheMiss)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", 1, time.Second))
	now = now.Add(2 * time.Second)

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}

func TestMemoryLockAndIncrement(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "run", time.Minute)
	assert.False(t, ok)
	require.NoError(t, mc.Unlock(ctx, "run"))
	ok, _ = mc.TryLock(ctx, "run", time.Minute)
	assert.True(t, ok)

	n, err := mc.Increment(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = mc.Increment(ctx, "count")
	assert.Equal(t, int64(2), n)
}

func TestMemoryDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	_ = mc.Set(ctx, "bars:1", 1, 0)
	_ = mc.Set(ctx, "bars:2", 1, 0)
	_ = mc.Set(ctx, "meta", 1, 0)
	require.NoError(t, mc.DeleteByPattern(ctx, "bars:*"))
	assert.Equal(t, 1, mc.Len())
}

func TestLayeredFillsL1(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache(WithMemoryCleanup(0))
	lc := NewLayeredCache(remote)
	defer lc.Close()

	require.NoError(t, remote.Set(ctx, "k", payload{Symbols: []string{"X"}}, 0))

	var out payload
	require.NoError(t, lc.Get(ctx, "k", &out))
	require.NoError(t, remote.Delete(ctx, "k"))

	var again payload
	require.NoError(t, lc.Get(ctx, "k", &again))
	assert.Equal(t, []string{"X"}, again.Symbols)
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	calls := 0
	load := func(context.Context) ([]float64, error) {
		calls++
		return []float64{1, 2}, nil
	}
	for i := 0; i < 2; i++ {
		v, err := GetOrLoad(ctx, mc, "k", time.Minute, load)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, v)
	}
	assert.Equal(t, 1, calls)

	_, err := GetOrLoad(ctx, mc, "bad", time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	ok, _ := mc.Exists(ctx, "bad")
	assert.False(t, ok)
}

func TestGenerateKeyWithParams(t *testing.T) {
	assert.Equal(t, "bars:AAA:2024", GenerateKeyWithParams("bars", "AAA", 2024))
	assert.Len(t, HashKey("x"), 32)
}
