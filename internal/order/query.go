package order

import (
	"context"
	"fmt"
)

// QueryService is the read-only view used by keepers and dashboards.
type QueryService struct {
	repo  Repository
	clock Clock
}

func NewQueryService(repo Repository, clock Clock) *QueryService {
	return &QueryService{repo: repo, clock: clock}
}

// ListExecutableNow returns ids of orders whose next slice is due, ascending.
func (q *QueryService) ListExecutableNow(ctx context.Context) ([]uint64, error) {
	active, err := q.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	return ExecutableOrders(active, q.clock.Now()), nil
}

// GetOrderSummary derives progress and timing for one order.
func (q *QueryService) GetOrderSummary(ctx context.Context, id uint64) (Summary, error) {
	o, err := q.repo.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(&o, q.clock.Now()), nil
}

// Summarize computes the summary of o at now.
func Summarize(o *Order, now int64) Summary {
	s := Summary{
		OrderID:            o.ID,
		IsActive:           o.IsActive,
		Status:             o.Status,
		RemainingIntervals: o.RemainingIntervals,
		NextEligibleTime:   NextEligibleTime(o),
	}
	if o.Intervals > 0 {
		s.ProgressPct = float64(o.ExecutedIntervals()) * 100 / float64(o.Intervals)
	}
	if s.NextEligibleTime > now {
		s.SecondsUntilNext = s.NextEligibleTime - now
	}
	return s
}
