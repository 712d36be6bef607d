package order

import (
	"context"
	"sync"
)

// Queue buffers due order ids before execution. An id already waiting in the queue
// is not enqueued twice.
type Queue struct {
	ch      chan uint64
	mu      sync.Mutex
	pending map[uint64]struct{}
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		ch:      make(chan uint64, size),
		pending: make(map[uint64]struct{}),
	}
}

// Enqueue adds id unless it is already pending or the queue is full.
func (q *Queue) Enqueue(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[id]; dup {
		return false
	}
	select {
	case q.ch <- id:
		q.pending[id] = struct{}{}
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain consumes ids with a handler until ctx is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(uint64)) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.ch:
			q.mu.Lock()
			delete(q.pending, id)
			q.mu.Unlock()
			handler(id)
		}
	}
}
