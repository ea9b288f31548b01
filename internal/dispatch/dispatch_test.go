package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneIsStable(t *testing.T) {
	d := New(8, 4, nil)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("run_%d", i)
		assert.Equal(t, d.Lane(key), d.Lane(key))
		assert.NotEmpty(t, d.Lane(key))
	}
}

func TestSameKeyRunsInOrder(t *testing.T) {
	d := New(4, 16, nil)
	d.Start(context.Background())
	defer d.Stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, d.Submit("run_a", func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	d.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestPanicKeepsLaneAlive(t *testing.T) {
	d := New(1, 4, nil)
	d.Start(context.Background())
	defer d.Stop()

	ran := false
	require.NoError(t, d.Submit("k", func(context.Context) { panic("boom") }))
	require.NoError(t, d.Submit("k", func(context.Context) { ran = true }))
	d.Wait()
	assert.True(t, ran)
}

func TestSubmitAfterStop(t *testing.T) {
	d := New(2, 2, nil)
	d.Start(context.Background())
	d.Stop()
	assert.ErrorIs(t, d.Submit("k", func(context.Context) {}), ErrStopped)
}
