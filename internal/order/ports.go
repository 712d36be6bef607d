package order

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Repository persists orders. Implementations must make Update a compare-and-swap on
// Version so concurrent keepers cannot both advance the same interval.
type Repository interface {
	// Insert assigns the next id (starting at 1), sets Version to 1 and stores o.
	Insert(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id uint64) (Order, error)
	// Update stores o if the stored version equals expectedVersion and returns the
	// stored order with Version bumped. ErrVersionConflict otherwise.
	Update(ctx context.Context, o Order, expectedVersion uint64) (Order, error)
	// ListByOwner returns order ids in insertion order.
	ListByOwner(ctx context.Context, owner common.Address) ([]uint64, error)
	// ListActive returns active orders in ascending id order.
	ListActive(ctx context.Context) ([]Order, error)
}

// Ledger moves funds between accounts and the escrow account. Transfers are
// all-or-nothing.
type Ledger interface {
	// TransferIn pulls amount of asset from an account into escrow. Non-native assets
	// require the account to have approved escrow for at least amount.
	TransferIn(ctx context.Context, asset Asset, from common.Address, amount *uint256.Int) error
	// TransferOut pays amount of asset from escrow to an account.
	TransferOut(ctx context.Context, asset Asset, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, asset Asset, account common.Address) (*uint256.Int, error)
	Escrow() common.Address
	// Sync makes every movement applied so far durable. Orders are only stored after
	// the movements they account for.
	Sync(ctx context.Context) error
}

// SwapRequest is one interval's swap. The venue takes AmountIn from Payer and delivers
// the output to Recipient.
type SwapRequest struct {
	TokenIn      Asset
	TokenOut     Asset
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	Payer        common.Address
	Recipient    common.Address
}

// Venue executes swaps. A swap either completes fully or moves nothing. Output below
// MinAmountOut must fail with ErrSlippageExceeded. Swap must not move funds once ctx is
// done: the engine's claim on the order only outlives the ctx deadline by a margin.
type Venue interface {
	Swap(ctx context.Context, req SwapRequest) (*uint256.Int, error)
}

// Clock returns the current time in unix seconds.
type Clock interface {
	Now() int64
}

// AttemptRecorder receives every execution attempt.
type AttemptRecorder interface {
	RecordAttempt(a Attempt)
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
