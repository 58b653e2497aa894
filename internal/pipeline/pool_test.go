package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDefaultsToCPUCount(t *testing.T) {
	assert.Greater(t, NewPool(0).Size(), 0)
	assert.Equal(t, 3, NewPool(3).Size())
}

func TestPoolRunsAllItems(t *testing.T) {
	pool := NewPool(4)
	var count int64

	err := pool.ForEach(context.Background(), 50, func(i int) {
		atomic.AddInt64(&count, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var mu sync.Mutex
	var active, peak int

	err := pool.ForEach(context.Background(), 20, func(i int) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		mu.Lock()
		active--
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, 2)
}

func TestPoolStopsOnCancel(t *testing.T) {
	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var count int64
	err := pool.ForEach(ctx, 10, func(i int) {
		atomic.AddInt64(&count, 1)
	})
	assert.Error(t, err)
	assert.Zero(t, count)
}
