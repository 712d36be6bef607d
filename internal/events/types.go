package events

// Event enumerates topics published inside the TWAP core.
type Event string

const (
	EventOrderCreated    Event = "order.created"
	EventOrderExecuted   Event = "order.executed"
	EventExecutionFailed Event = "order.execution_failed"
	EventOrderCompleted  Event = "order.completed"
	EventOrderCancelled  Event = "order.cancelled"
	EventPriceTick       Event = "price.tick"
	EventAlert           Event = "alert"
)

// StreamTopics are the topics forwarded to websocket clients.
var StreamTopics = []Event{
	EventOrderCreated,
	EventOrderExecuted,
	EventExecutionFailed,
	EventOrderCompleted,
	EventOrderCancelled,
	EventPriceTick,
	EventAlert,
}

// Envelope tags a payload with its topic for consumers that merge several streams.
type Envelope struct {
	Type Event `json:"type"`
	Data any   `json:"data"`
}
