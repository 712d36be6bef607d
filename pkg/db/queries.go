// Package db persists TWAP orders, execution attempts and ledger entries in SQLite or
// Postgres.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"twap-core/internal/balance"
	"twap-core/internal/order"
)

const (
	// InsertAttemptSQL is the statement the attempt batch writer queues.
	InsertAttemptSQL = `INSERT INTO execution_attempts (id, order_id, keeper, outcome, amount_in, amount_out, error, at, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// InsertEntrySQL is the statement the ledger journal queues.
	InsertEntrySQL = `INSERT INTO ledger_entries (seq, kind, asset, from_account, to_account, amount, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// AttemptArgs returns InsertAttemptSQL arguments for a.
func AttemptArgs(a order.Attempt) []any { return attemptArgs(&a) }

// EntryArgs returns InsertEntrySQL arguments for e.
func EntryArgs(e balance.Entry) []any { return entryArgs(&e) }

// OrderStore is the SQL order.Repository. Update is a compare-and-swap on version.
type OrderStore struct {
	db      *Database
	observe func(time.Duration)
}

var _ order.Repository = (*OrderStore)(nil)

// NewOrderStore creates a store. observe, if set, receives every query's latency.
func NewOrderStore(d *Database, observe func(time.Duration)) *OrderStore {
	return &OrderStore{db: d, observe: observe}
}

func (s *OrderStore) timed() func() {
	if s.observe == nil {
		return func() {}
	}
	start := time.Now()
	return func() { s.observe(time.Since(start)) }
}

func (s *OrderStore) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	defer s.timed()()

	o.Version = 1
	r := rowFromOrder(&o)
	var id int64
	err := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO twap_orders (owner, token_in, token_out, total_amount_in, intervals, amount_per_interval,
			interval_seconds, remaining_intervals, executed_amount, amount_out_total, min_amount_out,
			last_execution_time, is_active, status, execution_fee_reserved, fee_paid, created_at,
			version, claimed_by, claim_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`),
		r.Owner, r.TokenIn, r.TokenOut, r.TotalAmountIn, r.Intervals, r.AmountPerInterval,
		r.IntervalSeconds, r.RemainingIntervals, r.ExecutedAmount, r.AmountOutTotal, r.MinAmountOut,
		r.LastExecutionTime, r.IsActive, r.Status, r.ExecutionFeeReserved, r.FeePaid, r.CreatedAt,
		r.Version, r.ClaimedBy, r.ClaimExpiresAt,
	).Scan(&id)
	if err != nil {
		return order.Order{}, fmt.Errorf("insert order: %w", err)
	}
	o.ID = uint64(id)
	return o, nil
}

func (s *OrderStore) Get(ctx context.Context, id uint64) (order.Order, error) {
	defer s.timed()()
	return s.load(ctx, id)
}

func (s *OrderStore) load(ctx context.Context, id uint64) (order.Order, error) {
	var r orderRow
	err := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`SELECT `+orderColumns+` FROM twap_orders WHERE id = ?`), int64(id)).
		Scan(r.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return order.Order{}, order.ErrOrderNotFound
	}
	if err != nil {
		return order.Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return r.toOrder()
}

func (s *OrderStore) Update(ctx context.Context, o order.Order, expectedVersion uint64) (order.Order, error) {
	defer s.timed()()

	r := rowFromOrder(&o)
	res, err := s.db.DB.ExecContext(ctx, s.db.Rebind(`
		UPDATE twap_orders SET
			token_in = ?, token_out = ?, total_amount_in = ?, intervals = ?, amount_per_interval = ?,
			interval_seconds = ?, remaining_intervals = ?, executed_amount = ?, amount_out_total = ?,
			min_amount_out = ?, last_execution_time = ?, is_active = ?, status = ?,
			execution_fee_reserved = ?, fee_paid = ?, claimed_by = ?, claim_expires_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`),
		r.TokenIn, r.TokenOut, r.TotalAmountIn, r.Intervals, r.AmountPerInterval,
		r.IntervalSeconds, r.RemainingIntervals, r.ExecutedAmount, r.AmountOutTotal,
		r.MinAmountOut, r.LastExecutionTime, r.IsActive, r.Status,
		r.ExecutionFeeReserved, r.FeePaid, r.ClaimedBy, r.ClaimExpiresAt,
		r.ID, int64(expectedVersion),
	)
	if err != nil {
		return order.Order{}, fmt.Errorf("update order %d: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return order.Order{}, fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if n == 0 {
		// Distinguish a missing row from a stale version.
		var exists int
		err := s.db.DB.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM twap_orders WHERE id = ?`), r.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return order.Order{}, order.ErrOrderNotFound
		}
		return order.Order{}, order.ErrVersionConflict
	}

	return s.load(ctx, o.ID)
}

func (s *OrderStore) ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error) {
	defer s.timed()()

	rows, err := s.db.DB.QueryContext(ctx, s.db.Rebind(`SELECT id FROM twap_orders WHERE owner = ? ORDER BY id`), owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("query orders by owner: %w", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (s *OrderStore) ListActive(ctx context.Context) ([]order.Order, error) {
	defer s.timed()()

	rows, err := s.db.DB.QueryContext(ctx, s.db.Rebind(`SELECT `+orderColumns+` FROM twap_orders WHERE is_active = ? ORDER BY id`), true)
	if err != nil {
		return nil, fmt.Errorf("query active orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var r orderRow
		if err := rows.Scan(r.scanTargets()...); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o, err := r.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AttemptsByOrder returns the most recent attempts for an order, newest first.
func (d *Database) AttemptsByOrder(ctx context.Context, orderID uint64, limit int) ([]order.Attempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, d.Rebind(`
		SELECT id, order_id, keeper, outcome, amount_in, amount_out, error, at, latency_ms
		FROM execution_attempts
		WHERE order_id = ?
		ORDER BY at DESC, id
		LIMIT ?
	`), int64(orderID), limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := []order.Attempt{}
	for rows.Next() {
		var (
			a                order.Attempt
			oid              int64
			keeper, outcome  string
			amountIn, amtOut string
		)
		if err := rows.Scan(&a.ID, &oid, &keeper, &outcome, &amountIn, &amtOut, &a.Error, &a.At, &a.LatencyMs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.OrderID = uint64(oid)
		a.Keeper = common.HexToAddress(keeper)
		a.Outcome = order.AttemptOutcome(outcome)
		if err := a.AmountIn.SetFromDecimal(amountIn); err != nil {
			return nil, fmt.Errorf("attempt %s amount_in: %w", a.ID, err)
		}
		if err := a.AmountOut.SetFromDecimal(amtOut); err != nil {
			return nil, fmt.Errorf("attempt %s amount_out: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LedgerEntries loads the whole journal in sequence order for replay.
func (d *Database) LedgerEntries(ctx context.Context) ([]balance.Entry, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT seq, kind, asset, from_account, to_account, amount, at
		FROM ledger_entries
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []balance.Entry
	for rows.Next() {
		var (
			e                     balance.Entry
			seq                   int64
			kind, asset, from, to string
			amount                string
		)
		if err := rows.Scan(&seq, &kind, &asset, &from, &to, &amount, &e.At); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Seq = uint64(seq)
		e.Kind = balance.EntryKind(kind)
		e.Asset = order.AssetFromHex(asset)
		e.From = common.HexToAddress(from)
		e.To = common.HexToAddress(to)
		var v uint256.Int
		if err := v.SetFromDecimal(amount); err != nil {
			return nil, fmt.Errorf("ledger entry %d amount: %w", seq, err)
		}
		e.Amount = v
		out = append(out, e)
	}
	return out, rows.Err()
}
