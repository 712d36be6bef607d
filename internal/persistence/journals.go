package persistence

import (
	"context"

	"twap-core/internal/balance"
	"twap-core/internal/order"
	"twap-core/pkg/db"
)

// AttemptLog records execution attempts through the batch writer.
type AttemptLog struct {
	writer *BatchWriter
	db     *db.Database
}

var _ order.AttemptRecorder = (*AttemptLog)(nil)

func NewAttemptLog(writer *BatchWriter, d *db.Database) *AttemptLog {
	return &AttemptLog{writer: writer, db: d}
}

func (l *AttemptLog) RecordAttempt(a order.Attempt) {
	l.writer.WriteQuery("execution_attempts", db.InsertAttemptSQL, db.AttemptArgs(a)...)
}

// ByOrder flushes pending writes and returns the order's latest attempts.
func (l *AttemptLog) ByOrder(ctx context.Context, orderID uint64, limit int) ([]order.Attempt, error) {
	if err := l.writer.Flush(); err != nil {
		return nil, err
	}
	return l.db.AttemptsByOrder(ctx, orderID, limit)
}

// LedgerJournal persists ledger entries through the batch writer.
type LedgerJournal struct {
	writer *BatchWriter
}

var (
	_ balance.Journal = (*LedgerJournal)(nil)
	_ balance.Syncer  = (*LedgerJournal)(nil)
)

func NewLedgerJournal(writer *BatchWriter) *LedgerJournal {
	return &LedgerJournal{writer: writer}
}

func (j *LedgerJournal) Append(e balance.Entry) {
	j.writer.WriteQuery("ledger_entries", db.InsertEntrySQL, db.EntryArgs(e)...)
}

// Sync flushes the batch writer, which also stores any other buffered rows.
func (j *LedgerJournal) Sync(context.Context) error {
	return j.writer.Flush()
}
