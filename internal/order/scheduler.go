package order

// CanExecute reports whether the next slice of o is due at now.
func CanExecute(o *Order, now int64) bool {
	if o == nil || !o.IsActive || o.RemainingIntervals == 0 {
		return false
	}
	if o.Claimed(now) {
		return false
	}
	if o.LastExecutionTime == 0 {
		return true
	}
	elapsed := now - o.LastExecutionTime
	return elapsed >= 0 && uint64(elapsed) >= o.IntervalSeconds
}

// ExecutableOrders filters orders through CanExecute, keeping input order.
// Repositories hand out orders by ascending id, so the result is stable.
func ExecutableOrders(orders []Order, now int64) []uint64 {
	out := make([]uint64, 0, len(orders))
	for i := range orders {
		if CanExecute(&orders[i], now) {
			out = append(out, orders[i].ID)
		}
	}
	return out
}

// NextEligibleTime is when o next passes the spacing check; 0 once inactive.
func NextEligibleTime(o *Order) int64 {
	if !o.IsActive || o.RemainingIntervals == 0 {
		return 0
	}
	if o.LastExecutionTime == 0 {
		return o.CreatedAt
	}
	return o.LastExecutionTime + int64(o.IntervalSeconds)
}
