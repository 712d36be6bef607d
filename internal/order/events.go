package order

import (
	"twap-core/internal/events"
)

// OrderEvent is the bus payload for order lifecycle changes.
type OrderEvent struct {
	OrderID            uint64 `json:"order_id"`
	Owner              string `json:"owner"`
	Status             Status `json:"status"`
	RemainingIntervals uint64 `json:"remaining_intervals"`
	ExecutedAmount     string `json:"executed_amount"`
	Keeper             string `json:"keeper,omitempty"`
	AmountOut          string `json:"amount_out,omitempty"`
	Error              string `json:"error,omitempty"`
	At                 int64  `json:"at"`
}

func newOrderEvent(o *Order, at int64) OrderEvent {
	return OrderEvent{
		OrderID:            o.ID,
		Owner:              o.Owner.Hex(),
		Status:             o.Status,
		RemainingIntervals: o.RemainingIntervals,
		ExecutedAmount:     o.ExecutedAmount.Dec(),
		At:                 at,
	}
}

func emit(bus *events.Bus, e events.Event, payload OrderEvent) {
	if bus == nil {
		return
	}
	bus.Publish(e, payload)
}
