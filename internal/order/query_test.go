package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/order"
)

func TestGetOrderSummary(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, 1000, 10)
	created := f.clock.Now()

	s, err := f.query.GetOrderSummary(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.ProgressPct)
	assert.Equal(t, created, s.NextEligibleTime)
	assert.Equal(t, int64(0), s.SecondsUntilNext)
	assert.True(t, s.IsActive)

	_, err = f.engine.ExecuteInterval(f.ctx, o.ID, keeper, f.clock.Now())
	require.NoError(t, err)
	f.clock.Advance(600)

	s, err = f.query.GetOrderSummary(f.ctx, o.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, s.ProgressPct, 1e-9)
	assert.Equal(t, created+3600, s.NextEligibleTime)
	assert.Equal(t, int64(3000), s.SecondsUntilNext)
	assert.Equal(t, uint64(9), s.RemainingIntervals)

	_, err = f.engine.CancelOrder(f.ctx, o.ID, owner)
	require.NoError(t, err)
	s, err = f.query.GetOrderSummary(f.ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	assert.Equal(t, int64(0), s.NextEligibleTime)
	assert.Equal(t, order.StatusCancelled, s.Status)

	_, err = f.query.GetOrderSummary(f.ctx, 404)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestListExecutableNow(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 1000, 10)
	b := f.create(t, 600, 6)
	c := f.create(t, 300, 3)

	_, err := f.engine.ExecuteInterval(f.ctx, b.ID, keeper, f.clock.Now())
	require.NoError(t, err)
	_, err = f.engine.CancelOrder(f.ctx, c.ID, owner)
	require.NoError(t, err)

	ids, err := f.query.ListExecutableNow(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID}, ids)

	f.clock.Advance(3600)
	ids, err = f.query.ListExecutableNow(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a.ID, b.ID}, ids)
}

func TestAsyncExecutorRunsDueOrders(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 1000, 10)
	b := f.create(t, 500, 5)

	pool := order.NewAsyncExecutor(f.engine, f.clock, keeper, 2)
	pool.ExecuteAsync(f.ctx, a.ID)
	pool.ExecuteAsync(f.ctx, b.ID)
	pool.ExecuteAsync(f.ctx, a.ID)
	pool.Close()

	var ok, failed int
	for r := range pool.Results() {
		if r.Success {
			ok++
		} else {
			assert.ErrorIs(t, r.Error, order.ErrOrderNotExecutable)
			failed++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}

func TestQueueDeduplicatesPending(t *testing.T) {
	q := order.NewQueue(4)
	assert.True(t, q.Enqueue(1))
	assert.False(t, q.Enqueue(1))
	assert.True(t, q.Enqueue(2))
	assert.Equal(t, 2, q.Len())
}
