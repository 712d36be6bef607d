package venue

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"twap-core/internal/monitor"
	"twap-core/internal/order"
)

// Instrumented records latency and outcome counters for every swap of the wrapped venue.
type Instrumented struct {
	next    order.Venue
	metrics *monitor.SystemMetrics
}

func NewInstrumented(next order.Venue, metrics *monitor.SystemMetrics) *Instrumented {
	return &Instrumented{next: next, metrics: metrics}
}

func (v *Instrumented) Swap(ctx context.Context, req order.SwapRequest) (*uint256.Int, error) {
	timer := monitor.NewTimer(v.metrics.VenueLatency)
	out, err := v.next.Swap(ctx, req)
	timer.Stop()

	switch {
	case err == nil:
		v.metrics.IncrementSwaps()
	case errors.Is(err, order.ErrSlippageExceeded):
		v.metrics.IncrementSlippageRejects()
	default:
		v.metrics.IncrementVenueErrors()
	}
	return out, err
}
