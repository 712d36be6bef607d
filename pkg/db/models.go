package db

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"twap-core/internal/balance"
	"twap-core/internal/order"
)

const orderColumns = `id, owner, token_in, token_out, total_amount_in, intervals, amount_per_interval,
	interval_seconds, remaining_intervals, executed_amount, amount_out_total, min_amount_out,
	last_execution_time, is_active, status, execution_fee_reserved, fee_paid, created_at,
	version, claimed_by, claim_expires_at`

// orderRow is the column-level shape of twap_orders.
type orderRow struct {
	ID                   int64
	Owner                string
	TokenIn              string
	TokenOut             string
	TotalAmountIn        string
	Intervals            int64
	AmountPerInterval    string
	IntervalSeconds      int64
	RemainingIntervals   int64
	ExecutedAmount       string
	AmountOutTotal       string
	MinAmountOut         string
	LastExecutionTime    int64
	IsActive             bool
	Status               string
	ExecutionFeeReserved string
	FeePaid              string
	CreatedAt            int64
	Version              int64
	ClaimedBy            string
	ClaimExpiresAt       int64
}

func (r *orderRow) scanTargets() []any {
	return []any{
		&r.ID, &r.Owner, &r.TokenIn, &r.TokenOut, &r.TotalAmountIn, &r.Intervals, &r.AmountPerInterval,
		&r.IntervalSeconds, &r.RemainingIntervals, &r.ExecutedAmount, &r.AmountOutTotal, &r.MinAmountOut,
		&r.LastExecutionTime, &r.IsActive, &r.Status, &r.ExecutionFeeReserved, &r.FeePaid, &r.CreatedAt,
		&r.Version, &r.ClaimedBy, &r.ClaimExpiresAt,
	}
}

func rowFromOrder(o *order.Order) orderRow {
	claimedBy := ""
	if o.ClaimedBy != (common.Address{}) {
		claimedBy = o.ClaimedBy.Hex()
	}
	return orderRow{
		ID:                   int64(o.ID),
		Owner:                o.Owner.Hex(),
		TokenIn:              o.TokenIn.String(),
		TokenOut:             o.TokenOut.String(),
		TotalAmountIn:        o.TotalAmountIn.Dec(),
		Intervals:            int64(o.Intervals),
		AmountPerInterval:    o.AmountPerInterval.Dec(),
		IntervalSeconds:      int64(o.IntervalSeconds),
		RemainingIntervals:   int64(o.RemainingIntervals),
		ExecutedAmount:       o.ExecutedAmount.Dec(),
		AmountOutTotal:       o.AmountOutTotal.Dec(),
		MinAmountOut:         o.MinAmountOut.Dec(),
		LastExecutionTime:    o.LastExecutionTime,
		IsActive:             o.IsActive,
		Status:               string(o.Status),
		ExecutionFeeReserved: o.ExecutionFeeReserved.Dec(),
		FeePaid:              o.FeePaid.Dec(),
		CreatedAt:            o.CreatedAt,
		Version:              int64(o.Version),
		ClaimedBy:            claimedBy,
		ClaimExpiresAt:       o.ClaimExpiresAt,
	}
}

func (r *orderRow) toOrder() (order.Order, error) {
	o := order.Order{
		ID:                 uint64(r.ID),
		Owner:              common.HexToAddress(r.Owner),
		TokenIn:            order.AssetFromHex(r.TokenIn),
		TokenOut:           order.AssetFromHex(r.TokenOut),
		Intervals:          uint64(r.Intervals),
		IntervalSeconds:    uint64(r.IntervalSeconds),
		RemainingIntervals: uint64(r.RemainingIntervals),
		LastExecutionTime:  r.LastExecutionTime,
		IsActive:           r.IsActive,
		Status:             order.Status(r.Status),
		CreatedAt:          r.CreatedAt,
		Version:            uint64(r.Version),
		ClaimExpiresAt:     r.ClaimExpiresAt,
	}
	if r.ClaimedBy != "" {
		o.ClaimedBy = common.HexToAddress(r.ClaimedBy)
	}
	amounts := []struct {
		dst *uint256.Int
		src string
	}{
		{&o.TotalAmountIn, r.TotalAmountIn},
		{&o.AmountPerInterval, r.AmountPerInterval},
		{&o.ExecutedAmount, r.ExecutedAmount},
		{&o.AmountOutTotal, r.AmountOutTotal},
		{&o.MinAmountOut, r.MinAmountOut},
		{&o.ExecutionFeeReserved, r.ExecutionFeeReserved},
		{&o.FeePaid, r.FeePaid},
	}
	for _, a := range amounts {
		if err := a.dst.SetFromDecimal(a.src); err != nil {
			return order.Order{}, fmt.Errorf("order %d: amount %q: %w", r.ID, a.src, err)
		}
	}
	return o, nil
}

// attemptArgs lists values in InsertAttemptSQL column order.
func attemptArgs(a *order.Attempt) []any {
	return []any{
		a.ID, int64(a.OrderID), a.Keeper.Hex(), string(a.Outcome),
		a.AmountIn.Dec(), a.AmountOut.Dec(), a.Error, a.At, a.LatencyMs,
	}
}

// entryArgs lists values in InsertEntrySQL column order.
func entryArgs(e *balance.Entry) []any {
	return []any{
		int64(e.Seq), string(e.Kind), e.Asset.String(),
		e.From.Hex(), e.To.Hex(), e.Amount.Dec(), e.At,
	}
}
