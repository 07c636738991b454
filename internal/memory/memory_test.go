package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestNewPagePoolRejectsZeroOrNegative(t *testing.T) {
	_, err := NewPagePool(0, semaphore.NewWeighted(10))
	assert.Error(t, err)

	_, err = NewPagePool(-1, semaphore.NewWeighted(10))
	assert.Error(t, err)
}

func TestPagePoolGetGrowsUpToMax(t *testing.T) {
	pool, err := NewPagePool(2, semaphore.NewWeighted(10))
	require.NoError(t, err)

	p1, err := pool.Get(context.Background())
	require.NoError(t, err)
	p2, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, p1.ID(), p2.ID())
	assert.Equal(t, int64(2), pool.TotalPages())
}

func TestPagePoolTryGetFailsWhenExhausted(t *testing.T) {
	pool, err := NewPagePool(1, semaphore.NewWeighted(10))
	require.NoError(t, err)

	_, ok := pool.TryGet()
	require.True(t, ok)

	_, ok = pool.TryGet()
	assert.False(t, ok)
}

func TestPagePoolPutReusesBeforeGrowing(t *testing.T) {
	pool, err := NewPagePool(1, semaphore.NewWeighted(10))
	require.NoError(t, err)

	p1, err := pool.Get(context.Background())
	require.NoError(t, err)
	p1.Data[0] = 0xAB
	pool.Put(p1)

	p2, err := pool.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, p1.ID(), p2.ID())
	assert.Equal(t, byte(0), p2.Data[0], "reused pages must come back zeroed")
	assert.Equal(t, int64(1), pool.TotalPages())
}

func TestPagePoolRespectsGlobalSemaphore(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	pool, err := NewPagePool(10, sem)
	require.NoError(t, err)

	_, ok := pool.TryGet()
	require.True(t, ok)

	_, ok = pool.TryGet()
	assert.False(t, ok, "a second page should be refused once the global budget is spent")
}

type slabObj struct {
	Value int
}

func TestSlabCacheReusesAndResets(t *testing.T) {
	cache := NewSlabCache(
		func() *slabObj { return &slabObj{} },
		func(o *slabObj) { o.Value = 0 },
	)

	o1 := cache.Get()
	o1.Value = 42
	cache.Put(o1)
	assert.Equal(t, 1, cache.Len())

	o2 := cache.Get()
	assert.Same(t, o1, o2)
	assert.Equal(t, 0, o2.Value)
	assert.Equal(t, 0, cache.Len())
}
