package compute

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c, err := New("", "", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, c.Device())
	assert.Equal(t, BackendGonum, c.Backend())
	assert.Equal(t, 4, c.Workers())
	assert.Equal(t, DefaultShardSize, c.ShardSize())

	_, err = New("cuda", "", 1, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = New("", "torch", 1, 0)
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = New("", "", 0, 0)
	assert.Error(t, err)
}

func TestRunReducesInShardOrder(t *testing.T) {
	for _, workers := range []int{1, 2, 3, 8} {
		c, err := New("", "", workers, 3)
		require.NoError(t, err)

		slots := make([][2]int, workers)
		var mu sync.Mutex
		var covered []int
		var order [][2]int

		err = c.Run(context.Background(), 10, func(slot, lo, hi int) error {
			slots[slot] = [2]int{lo, hi}
			mu.Lock()
			for i := lo; i < hi; i++ {
				covered = append(covered, i)
			}
			mu.Unlock()
			return nil
		}, func(slot int) error {
			order = append(order, slots[slot])
			return nil
		})
		require.NoError(t, err)

		assert.Len(t, covered, 10, "workers=%d", workers)
		assert.Equal(t, [][2]int{{0, 3}, {3, 6}, {6, 9}, {9, 10}}, order, "workers=%d", workers)
	}
}

func TestRunPropagatesErrors(t *testing.T) {
	c, err := New("", "", 2, 2)
	require.NoError(t, err)

	boom := errors.New("boom")
	reduced := 0
	err = c.Run(context.Background(), 8, func(slot, lo, hi int) error {
		if lo == 2 {
			return boom
		}
		return nil
	}, func(int) error {
		reduced++
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, reduced)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Default().Run(ctx, 4, func(int, int, int) error { return nil }, func(int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
