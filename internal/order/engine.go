package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/events"
)

// EngineConfig tunes execution claims.
type EngineConfig struct {
	// ClaimTTL bounds how long one keeper may hold an order while its swap is in
	// flight. The swap itself is cut off at half the TTL.
	ClaimTTL time.Duration
}

// Engine executes single intervals and cancels orders. All stored mutations go through
// Repository.Update with the version read beforehand.
type Engine struct {
	repo     Repository
	ledger   Ledger
	venue    Venue
	clock    Clock
	bus      *events.Bus
	recorder AttemptRecorder
	claimTTL time.Duration
}

// NewEngine wires the execution engine. bus and recorder may be nil.
func NewEngine(repo Repository, ledger Ledger, venue Venue, clock Clock, bus *events.Bus, recorder AttemptRecorder, cfg EngineConfig) *Engine {
	ttl := cfg.ClaimTTL
	if ttl < 2*time.Second {
		ttl = 2 * time.Minute
	}
	return &Engine{
		repo:     repo,
		ledger:   ledger,
		venue:    venue,
		clock:    clock,
		bus:      bus,
		recorder: recorder,
		claimTTL: ttl,
	}
}

// ExecuteInterval swaps one slice of order id on behalf of keeper. Failed calls leave
// the order's progress untouched, so they are safe to retry later.
func (e *Engine) ExecuteInterval(ctx context.Context, id uint64, keeper common.Address, now int64) (Receipt, error) {
	if now <= 0 {
		return Receipt{}, fmt.Errorf("%w: execution time %d", ErrInvalidParameters, now)
	}
	snap, err := e.repo.Get(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if !CanExecute(&snap, now) {
		return Receipt{}, fmt.Errorf("%w: order %d (%s)", ErrOrderNotExecutable, id, notExecutableReason(&snap, now))
	}

	claim := snap
	claim.ClaimedBy = keeper
	claim.ClaimExpiresAt = now + int64(e.claimTTL/time.Second)
	claimed, err := e.repo.Update(ctx, claim, snap.Version)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Receipt{}, fmt.Errorf("%w: order %d executed concurrently", ErrOrderNotExecutable, id)
		}
		return Receipt{}, fmt.Errorf("claim order %d: %w", id, err)
	}

	attemptID := uuid.NewString()
	per := claimed.AmountPerInterval

	swapCtx, cancel := context.WithTimeout(ctx, e.claimTTL/2)
	swapStart := time.Now()
	out, swapErr := e.venue.Swap(swapCtx, SwapRequest{
		TokenIn:      claimed.TokenIn,
		TokenOut:     claimed.TokenOut,
		AmountIn:     &per,
		MinAmountOut: &claimed.MinAmountOut,
		Payer:        e.ledger.Escrow(),
		Recipient:    claimed.Owner,
	})
	late := swapCtx.Err() == context.DeadlineExceeded
	cancel()
	latencyMs := time.Since(swapStart).Milliseconds()

	// Past this point the swap may have moved funds; finish even if the caller gave up.
	ctx = context.WithoutCancel(ctx)

	if swapErr != nil {
		return Receipt{}, e.failAttempt(ctx, &claimed, attemptID, keeper, now, latencyMs, swapErr)
	}
	if late {
		// The venue settled past its deadline, so the claim may already have lapsed.
		log.Warn().Uint64("order_id", id).Str("attempt_id", attemptID).Int64("latency_ms", latencyMs).
			Msg("venue settled after swap deadline")
	}

	e.sync(ctx, id)

	next := claimed
	next.RemainingIntervals--
	next.ExecutedAmount.Add(&next.ExecutedAmount, &per)
	next.AmountOutTotal.Add(&next.AmountOutTotal, out)
	next.LastExecutionTime = now
	next.clearClaim()

	fee := next.FeePerInterval()
	if unused := next.UnusedFee(); fee.Gt(&unused) {
		fee = unused
	}
	next.FeePaid.Add(&next.FeePaid, &fee)

	completed := next.RemainingIntervals == 0
	if completed {
		next.IsActive = false
		next.Status = StatusCompleted
	}

	stored, err := e.repo.Update(ctx, next, claimed.Version)
	if err != nil {
		e.record(Attempt{
			ID: attemptID, OrderID: id, Keeper: keeper, Outcome: OutcomeCommitFailed,
			AmountIn: per, AmountOut: *out, Error: err.Error(), At: now, LatencyMs: latencyMs,
		})
		log.Error().Err(err).Uint64("order_id", id).Str("attempt_id", attemptID).
			Msg("swap settled but order commit failed")
		if e.bus != nil {
			e.bus.Publish(events.EventAlert, fmt.Sprintf("order %d: swap %s settled but commit failed: %v", id, attemptID, err))
		}
		return Receipt{}, fmt.Errorf("commit order %d: %w", id, err)
	}

	if !fee.IsZero() {
		e.pay(ctx, NativeAsset, keeper, &fee, "keeper fee")
	}
	if completed {
		dust := stored.UnexecutedPrincipal()
		e.pay(ctx, stored.TokenIn, stored.Owner, &dust, "principal dust refund")
		residual := stored.UnusedFee()
		e.pay(ctx, NativeAsset, stored.Owner, &residual, "residual fee refund")
	}
	e.sync(ctx, id)

	receipt := Receipt{
		AttemptID:          attemptID,
		OrderID:            id,
		Keeper:             keeper,
		AmountIn:           per,
		AmountOut:          *out,
		KeeperFee:          fee,
		RemainingIntervals: stored.RemainingIntervals,
		ExecutedAt:         now,
		Completed:          completed,
	}
	e.record(Attempt{
		ID: attemptID, OrderID: id, Keeper: keeper, Outcome: OutcomeExecuted,
		AmountIn: per, AmountOut: *out, At: now, LatencyMs: latencyMs,
	})

	log.Info().
		Uint64("order_id", id).
		Str("keeper", keeper.Hex()).
		Str("amount_in", per.Dec()).
		Str("amount_out", out.Dec()).
		Uint64("remaining", stored.RemainingIntervals).
		Msg("twap interval executed")

	ev := newOrderEvent(&stored, now)
	ev.Keeper = keeper.Hex()
	ev.AmountOut = out.Dec()
	emit(e.bus, events.EventOrderExecuted, ev)
	if completed {
		emit(e.bus, events.EventOrderCompleted, newOrderEvent(&stored, now))
	}
	return receipt, nil
}

// failAttempt releases the claim, records the attempt and maps the venue error.
func (e *Engine) failAttempt(ctx context.Context, claimed *Order, attemptID string, keeper common.Address, now, latencyMs int64, swapErr error) error {
	outcome := OutcomeVenueUnavailable
	mapped := fmt.Errorf("%w: %v", ErrVenueUnavailable, swapErr)
	if errors.Is(swapErr, ErrSlippageExceeded) {
		outcome = OutcomeSlippage
		mapped = swapErr
	}

	released := *claimed
	released.clearClaim()
	if _, err := e.repo.Update(ctx, released, claimed.Version); err != nil {
		log.Warn().Err(err).Uint64("order_id", claimed.ID).
			Msg("release claim failed; claim will lapse at expiry")
	}

	e.record(Attempt{
		ID: attemptID, OrderID: claimed.ID, Keeper: keeper, Outcome: outcome,
		AmountIn: claimed.AmountPerInterval, Error: swapErr.Error(), At: now, LatencyMs: latencyMs,
	})
	log.Warn().Err(swapErr).
		Uint64("order_id", claimed.ID).
		Str("outcome", string(outcome)).
		Msg("twap interval failed")

	ev := newOrderEvent(claimed, now)
	ev.Keeper = keeper.Hex()
	ev.Error = string(outcome)
	emit(e.bus, events.EventExecutionFailed, ev)
	return mapped
}

// CancelOrder deactivates the order and refunds unexecuted principal and unused fee
// to the owner.
func (e *Engine) CancelOrder(ctx context.Context, id uint64, caller common.Address) (Order, error) {
	// A conflict here means a claim was taken or released between read and write;
	// re-read and decide again.
	for try := 0; try < 3; try++ {
		o, err := e.repo.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		if o.Owner != caller {
			return Order{}, ErrNotOwner
		}
		if !o.IsActive {
			return Order{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotActive, id, o.Status)
		}
		now := e.clock.Now()
		if o.Claimed(now) {
			return Order{}, fmt.Errorf("%w: order %d", ErrOrderBusy, id)
		}

		next := o
		next.IsActive = false
		next.Status = StatusCancelled
		next.clearClaim()
		stored, err := e.repo.Update(ctx, next, o.Version)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Order{}, fmt.Errorf("cancel order %d: %w", id, err)
		}

		principal := stored.UnexecutedPrincipal()
		e.pay(ctx, stored.TokenIn, stored.Owner, &principal, "cancel principal refund")
		fee := stored.UnusedFee()
		e.pay(ctx, NativeAsset, stored.Owner, &fee, "cancel fee refund")
		e.sync(ctx, id)

		log.Info().Uint64("order_id", id).
			Str("refund_principal", principal.Dec()).
			Str("refund_fee", fee.Dec()).
			Msg("twap order cancelled")
		emit(e.bus, events.EventOrderCancelled, newOrderEvent(&stored, now))
		return stored, nil
	}
	return Order{}, fmt.Errorf("%w: order %d kept changing", ErrOrderBusy, id)
}

func (e *Engine) pay(ctx context.Context, asset Asset, to common.Address, amount *uint256.Int, what string) {
	if amount.IsZero() {
		return
	}
	if err := e.ledger.TransferOut(ctx, asset, to, amount); err != nil {
		log.Error().Err(err).
			Str("asset", asset.String()).
			Str("to", to.Hex()).
			Str("amount", amount.Dec()).
			Msg(what + " failed")
		if e.bus != nil {
			e.bus.Publish(events.EventAlert, fmt.Sprintf("%s of %s to %s failed: %v", what, amount.Dec(), to.Hex(), err))
		}
	}
}

// sync flushes the ledger journal. A failed flush stays buffered and is retried by
// the writer, so it is reported rather than returned.
func (e *Engine) sync(ctx context.Context, id uint64) {
	if err := e.ledger.Sync(ctx); err != nil {
		log.Error().Err(err).Uint64("order_id", id).Msg("ledger journal flush failed")
	}
}

func (e *Engine) record(a Attempt) {
	if e.recorder != nil {
		e.recorder.RecordAttempt(a)
	}
}

func notExecutableReason(o *Order, now int64) string {
	switch {
	case !o.IsActive:
		return "inactive"
	case o.RemainingIntervals == 0:
		return "exhausted"
	case o.Claimed(now):
		return "claimed"
	default:
		return "interval not elapsed"
	}
}
