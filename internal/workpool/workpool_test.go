package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	p := New(0)
	assert.Equal(t, DefaultWorkers(), p.Workers())
	assert.GreaterOrEqual(t, p.Workers(), 1)

	assert.Equal(t, 3, New(3).Workers())
}

func TestMap_VisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{1, 3, 8} {
		p := New(workers, WithBatchSize(7))
		const n = 100
		var hits [n]atomic.Int32

		err := p.Map(context.Background(), n, func(i int) error {
			hits[i].Add(1)
			return nil
		})
		require.NoError(t, err)
		for i := range hits {
			assert.Equal(t, int32(1), hits[i].Load(), "workers=%d index=%d", workers, i)
		}
	}
}

func TestMap_Empty(t *testing.T) {
	called := false
	err := New(2).Map(context.Background(), 0, func(int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestMap_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := New(4).Map(context.Background(), 50, func(i int) error {
		if i == 17 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestMap_CancelledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(2, WithBatchSize(10))

	var calls atomic.Int32
	err := p.Map(ctx, 100, func(i int) error {
		if calls.Add(1) == 10 {
			cancel()
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, calls.Load(), int32(100))
}

func TestMapFloat64_Ordered(t *testing.T) {
	out, err := MapFloat64(context.Background(), New(4, WithBatchSize(3)), 10, func(i int) float64 {
		return float64(i * i)
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, float64(i*i), v)
	}
}
