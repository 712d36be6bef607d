// Package persistence queues attempt and ledger writes and flushes them to the
// database in transactions.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"twap-core/pkg/db"
)

// WriteOp represents a database write operation. Query uses ? placeholders.
type WriteOp struct {
	Table string
	Query string
	Args  []any
}

// BatchWriter batches database writes. A failed batch is put back at the head of the
// buffer and retried on the next flush.
type BatchWriter struct {
	db          *db.Database
	buffer      []WriteOp
	mu          sync.Mutex
	flushMu     sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	observe     func(time.Duration)

	totalWrites  uint64
	totalBatches uint64
	totalErrors  uint64

	statsMu       sync.Mutex
	lastBatchSize int
	lastFlushTime time.Time
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	Pending       int       `json:"pending"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter creates a batch writer.
// maxSize: max operations before auto-flush
// interval: time-based flush interval
// observe: optional, receives each batch's commit latency
func NewBatchWriter(d *db.Database, maxSize int, interval time.Duration, observe func(time.Duration)) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &BatchWriter{
		db:          d,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
		observe:     observe,
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// Write adds a write operation to the batch.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.Flush(); err != nil {
			log.Warn().Err(err).Msg("batch writer: size-triggered flush failed")
		}
	}
}

// WriteQuery is a convenience method for simple queries.
func (bw *BatchWriter) WriteQuery(table, query string, args ...any) {
	bw.Write(WriteOp{Table: table, Query: query, Args: args})
}

// Flush immediately writes all buffered operations to the database.
func (bw *BatchWriter) Flush() error {
	// One flush at a time keeps batches in write order.
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	if err := bw.executeBatch(ops); err != nil {
		bw.mu.Lock()
		bw.buffer = append(ops, bw.buffer...)
		bw.mu.Unlock()
		return err
	}
	return nil
}

// executeBatch runs a batch of operations in a transaction.
func (bw *BatchWriter) executeBatch(ops []WriteOp) error {
	start := time.Now()
	atomic.AddUint64(&bw.totalBatches, 1)

	tx, err := bw.db.DB.BeginTx(context.Background(), nil)
	if err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		log.Error().Err(err).Msg("batch writer: begin transaction failed")
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(bw.db.Rebind(op.Query), op.Args...); err != nil {
			_ = tx.Rollback()
			atomic.AddUint64(&bw.totalErrors, 1)
			log.Error().Err(err).Str("table", op.Table).Msg("batch writer: query failed, rolling back")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		log.Error().Err(err).Msg("batch writer: commit failed")
		return err
	}

	atomic.AddUint64(&bw.totalWrites, uint64(len(ops)))
	bw.statsMu.Lock()
	bw.lastBatchSize = len(ops)
	bw.lastFlushTime = time.Now()
	bw.statsMu.Unlock()
	if bw.observe != nil {
		bw.observe(time.Since(start))
	}

	log.Debug().Int("ops", len(ops)).Msg("batch writer flushed")
	return nil
}

// backgroundFlush periodically flushes the buffer.
func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := bw.Flush(); err != nil {
				log.Warn().Err(err).Msg("batch writer: background flush error")
			}
		case <-bw.done:
			// Final flush before shutdown
			if err := bw.Flush(); err != nil {
				log.Error().Err(err).Int("pending", bw.Pending()).Msg("batch writer: final flush error")
			}
			return
		}
	}
}

// Pending returns the number of pending operations.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current metrics for the batch writer.
func (bw *BatchWriter) GetMetrics() BatchWriterMetrics {
	bw.statsMu.Lock()
	size, at := bw.lastBatchSize, bw.lastFlushTime
	bw.statsMu.Unlock()
	return BatchWriterMetrics{
		TotalWrites:   atomic.LoadUint64(&bw.totalWrites),
		TotalBatches:  atomic.LoadUint64(&bw.totalBatches),
		TotalErrors:   atomic.LoadUint64(&bw.totalErrors),
		Pending:       bw.Pending(),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close flushes what is buffered and stops the background loop. Safe to call twice.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
