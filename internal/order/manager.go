package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/events"
)

// Manager creates and looks up TWAP orders. It moves funds only at creation time, to
// escrow the principal and the prepaid fee.
type Manager struct {
	repo   Repository
	ledger Ledger
	clock  Clock
	bus    *events.Bus

	// minFeePerInterval is the smallest keeper fee per slice an order may prepay.
	minFeePerInterval uint256.Int
}

// NewManager wires the order store. bus may be nil.
func NewManager(repo Repository, ledger Ledger, clock Clock, bus *events.Bus, minFeePerInterval *uint256.Int) *Manager {
	m := &Manager{repo: repo, ledger: ledger, clock: clock, bus: bus}
	if minFeePerInterval != nil {
		m.minFeePerInterval.Set(minFeePerInterval)
	}
	return m
}

// Validate checks creation parameters and returns the derived per-interval amount.
func (m *Manager) Validate(p CreateParams) (uint256.Int, error) {
	var per uint256.Int
	switch {
	case p.Owner == (common.Address{}):
		return per, fmt.Errorf("%w: owner is required", ErrInvalidParameters)
	case p.TokenIn == p.TokenOut:
		return per, fmt.Errorf("%w: tokenIn and tokenOut must differ", ErrInvalidParameters)
	case p.Intervals == 0:
		return per, fmt.Errorf("%w: intervals must be positive", ErrInvalidParameters)
	case p.IntervalSeconds == 0:
		return per, fmt.Errorf("%w: interval seconds must be positive", ErrInvalidParameters)
	case p.TotalAmountIn == nil || p.TotalAmountIn.IsZero():
		return per, fmt.Errorf("%w: total amount in must be positive", ErrInvalidParameters)
	}

	per.Div(p.TotalAmountIn, uint256.NewInt(p.Intervals))
	if per.IsZero() {
		return per, fmt.Errorf("%w: total amount %s too small for %d intervals",
			ErrInvalidParameters, p.TotalAmountIn.Dec(), p.Intervals)
	}

	if !m.minFeePerInterval.IsZero() {
		var minTotal uint256.Int
		if _, overflow := minTotal.MulOverflow(&m.minFeePerInterval, uint256.NewInt(p.Intervals)); overflow {
			return per, fmt.Errorf("%w: fee bound overflows", ErrInvalidParameters)
		}
		if p.PrepaidFee == nil || p.PrepaidFee.Lt(&minTotal) {
			return per, fmt.Errorf("%w: prepaid fee must be at least %s", ErrInvalidParameters, minTotal.Dec())
		}
	}
	return per, nil
}

// CreateOrder escrows principal and fee from the owner and stores a new active order.
func (m *Manager) CreateOrder(ctx context.Context, p CreateParams) (Order, error) {
	per, err := m.Validate(p)
	if err != nil {
		return Order{}, err
	}

	fee := new(uint256.Int)
	if p.PrepaidFee != nil {
		fee.Set(p.PrepaidFee)
	}

	if err := m.ledger.TransferIn(ctx, p.TokenIn, p.Owner, p.TotalAmountIn); err != nil {
		return Order{}, fmt.Errorf("escrow principal: %w", err)
	}
	if !fee.IsZero() {
		if err := m.ledger.TransferIn(ctx, NativeAsset, p.Owner, fee); err != nil {
			m.refund(ctx, p.TokenIn, p.Owner, p.TotalAmountIn)
			return Order{}, fmt.Errorf("escrow execution fee: %w", err)
		}
	}

	if err := m.ledger.Sync(ctx); err != nil {
		m.refund(ctx, p.TokenIn, p.Owner, p.TotalAmountIn)
		if !fee.IsZero() {
			m.refund(ctx, NativeAsset, p.Owner, fee)
		}
		return Order{}, fmt.Errorf("persist escrow: %w", err)
	}

	now := m.clock.Now()
	o := Order{
		Owner:              p.Owner,
		TokenIn:            p.TokenIn,
		TokenOut:           p.TokenOut,
		Intervals:          p.Intervals,
		IntervalSeconds:    p.IntervalSeconds,
		RemainingIntervals: p.Intervals,
		IsActive:           true,
		Status:             StatusActive,
		CreatedAt:          now,
	}
	o.TotalAmountIn.Set(p.TotalAmountIn)
	o.AmountPerInterval.Set(&per)
	o.ExecutionFeeReserved.Set(fee)
	if p.MinAmountOut != nil {
		o.MinAmountOut.Set(p.MinAmountOut)
	}

	stored, err := m.repo.Insert(ctx, o)
	if err != nil {
		m.refund(ctx, p.TokenIn, p.Owner, p.TotalAmountIn)
		if !fee.IsZero() {
			m.refund(ctx, NativeAsset, p.Owner, fee)
		}
		return Order{}, fmt.Errorf("store order: %w", err)
	}

	log.Info().
		Uint64("order_id", stored.ID).
		Str("owner", stored.Owner.Hex()).
		Str("token_in", stored.TokenIn.String()).
		Str("token_out", stored.TokenOut.String()).
		Str("total", stored.TotalAmountIn.Dec()).
		Uint64("intervals", stored.Intervals).
		Msg("twap order created")
	emit(m.bus, events.EventOrderCreated, newOrderEvent(&stored, now))
	return stored, nil
}

// GetOrder returns the stored order or ErrOrderNotFound.
func (m *Manager) GetOrder(ctx context.Context, id uint64) (Order, error) {
	o, err := m.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return Order{}, err
		}
		return Order{}, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// GetUserOrders returns the owner's order ids in creation order.
func (m *Manager) GetUserOrders(ctx context.Context, owner common.Address) ([]uint64, error) {
	ids, err := m.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list orders of %s: %w", owner.Hex(), err)
	}
	return ids, nil
}

func (m *Manager) refund(ctx context.Context, asset Asset, to common.Address, amount *uint256.Int) {
	if err := m.ledger.TransferOut(ctx, asset, to, amount); err != nil {
		log.Error().Err(err).
			Str("asset", asset.String()).
			Str("to", to.Hex()).
			Str("amount", amount.Dec()).
			Msg("escrow refund failed")
	}
}
