package monitor

import "fmt"

// RuleEvaluator inspects metric snapshots and reports threshold breaches.
// Counter rules fire on the delta since the previous check.
type RuleEvaluator struct {
	MaxFailureRatio float64 // failures / (executions + failures) since the previous check
	MinSamples      uint64
	MaxVenueP95Ms   float64
	MaxQueueDepth   int

	prev MetricsSnapshot
	seen bool
}

// Check returns one message per rule that fired.
func (r *RuleEvaluator) Check(s MetricsSnapshot) []string {
	var fired []string
	if r.seen {
		ok := s.IntervalsExecuted - r.prev.IntervalsExecuted
		failed := s.ExecutionFailures - r.prev.ExecutionFailures
		if total := ok + failed; r.MaxFailureRatio > 0 && total > 0 && total >= r.MinSamples {
			ratio := float64(failed) / float64(total)
			if ratio > r.MaxFailureRatio {
				fired = append(fired, fmt.Sprintf("execution failure ratio %.2f over last %d attempts exceeds %.2f", ratio, total, r.MaxFailureRatio))
			}
		}
	}
	if r.MaxVenueP95Ms > 0 && s.VenueLatency.Count > 0 && s.VenueLatency.P95 > r.MaxVenueP95Ms {
		fired = append(fired, fmt.Sprintf("venue p95 latency %.1fms exceeds %.1fms", s.VenueLatency.P95, r.MaxVenueP95Ms))
	}
	if r.MaxQueueDepth > 0 && s.QueueDepth > r.MaxQueueDepth {
		fired = append(fired, fmt.Sprintf("keeper queue depth %d exceeds %d", s.QueueDepth, r.MaxQueueDepth))
	}
	r.prev = s
	r.seen = true
	return fired
}
