package monitor

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the structured log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Warn().Str("component", "monitor").Msg(message)
	return nil
}

// MemorySink keeps the most recent alerts for the metrics endpoint and tests.
type MemorySink struct {
	mu     sync.Mutex
	max    int
	alerts []string
}

func NewMemorySink(max int) *MemorySink {
	if max <= 0 {
		max = 100
	}
	return &MemorySink{max: max}
}

func (s *MemorySink) Send(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alerts) >= s.max {
		s.alerts = s.alerts[1:]
	}
	s.alerts = append(s.alerts, message)
	return nil
}

// Recent returns a copy of the retained alerts, oldest first.
func (s *MemorySink) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// FanoutSink delivers to every sink and returns the first error.
type FanoutSink []AlertSink

func (f FanoutSink) Send(message string) error {
	var first error
	for _, s := range f {
		if err := s.Send(message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
