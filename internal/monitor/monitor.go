package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"twap-core/internal/events"
)

// Monitor forwards alert events to a sink.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *SystemMetrics
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if m.Metrics != nil {
					m.Metrics.IncrementErrors()
				}
				if err := m.Sink.Send(formatAlert(msg, time.Now())); err != nil {
					log.Error().Err(err).Msg("alert delivery failed")
				}
			}
		}
	}()
}

func formatAlert(msg any, at time.Time) string {
	return "[" + at.UTC().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return "alert triggered"
	}
}
