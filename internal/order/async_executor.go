package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// IntervalExecutor is the part of Engine the worker pool drives.
type IntervalExecutor interface {
	ExecuteInterval(ctx context.Context, id uint64, keeper common.Address, now int64) (Receipt, error)
}

// AsyncExecutor runs interval executions on a bounded pool of goroutines.
type AsyncExecutor struct {
	executor   IntervalExecutor
	clock      Clock
	keeper     common.Address
	resultCh   chan ExecutionResult
	workerPool chan struct{}
	wg         sync.WaitGroup
	closed     bool
	mu         sync.Mutex
}

// ExecutionResult represents the outcome of one interval execution.
type ExecutionResult struct {
	OrderID   uint64        `json:"order_id"`
	Success   bool          `json:"success"`
	Receipt   Receipt       `json:"-"`
	Error     error         `json:"-"`
	ErrorMsg  string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewAsyncExecutor creates an executor pool acting as keeper.
func NewAsyncExecutor(executor IntervalExecutor, clock Clock, keeper common.Address, workers int) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncExecutor{
		executor:   executor,
		clock:      clock,
		keeper:     keeper,
		resultCh:   make(chan ExecutionResult, 100),
		workerPool: make(chan struct{}, workers),
	}
}

// ExecuteAsync submits one interval execution. It blocks while all workers are busy.
func (a *AsyncExecutor) ExecuteAsync(ctx context.Context, id uint64) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		log.Warn().Uint64("order_id", id).Msg("async executor closed, execution skipped")
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	select {
	case a.workerPool <- struct{}{}:
	case <-ctx.Done():
		a.wg.Done()
		return
	}

	go func() {
		defer a.wg.Done()
		defer func() { <-a.workerPool }()

		start := time.Now()
		receipt, err := a.executor.ExecuteInterval(ctx, id, a.keeper, a.clock.Now())

		result := ExecutionResult{
			OrderID:   id,
			Success:   err == nil,
			Receipt:   receipt,
			Error:     err,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			result.ErrorMsg = err.Error()
			// Losing a race to another keeper is routine.
			if !errors.Is(err, ErrOrderNotExecutable) {
				log.Warn().Err(err).Uint64("order_id", id).Dur("latency", result.Latency).Msg("interval execution failed")
			}
		}

		select {
		case a.resultCh <- result:
		default:
			log.Warn().Uint64("order_id", id).Msg("result channel full, dropping result")
		}
	}()
}

// Results returns the result channel for monitoring.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Pending returns the number of executions in flight.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// Close stops accepting work, waits for in-flight executions and closes Results.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.wg.Wait()
	close(a.resultCh)
}
