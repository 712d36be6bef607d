package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset identifies a fungible token by contract address. The zero address is the
// chain's native asset, which is what execution fees are paid in.
type Asset common.Address

// NativeAsset is the asset execution fees are denominated in.
var NativeAsset = Asset{}

// AssetFromHex parses a 0x-prefixed contract address.
func AssetFromHex(s string) Asset {
	return Asset(common.HexToAddress(s))
}

func (a Asset) Address() common.Address { return common.Address(a) }
func (a Asset) IsNative() bool          { return a == NativeAsset }
func (a Asset) String() string          { return common.Address(a).Hex() }

// Status is the lifecycle state of a TWAP order.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Order is a TWAP order: TotalAmountIn of TokenIn sold for TokenOut in Intervals equal
// slices spaced at least IntervalSeconds apart.
type Order struct {
	ID       uint64
	Owner    common.Address
	TokenIn  Asset
	TokenOut Asset

	TotalAmountIn      uint256.Int
	Intervals          uint64
	AmountPerInterval  uint256.Int
	IntervalSeconds    uint64
	RemainingIntervals uint64
	ExecutedAmount     uint256.Int
	AmountOutTotal     uint256.Int
	MinAmountOut       uint256.Int

	// Unix seconds; zero until the first interval executes.
	LastExecutionTime int64

	IsActive bool
	Status   Status

	ExecutionFeeReserved uint256.Int
	FeePaid              uint256.Int

	CreatedAt int64
	Version   uint64

	// In-flight execution claim. Zero ClaimExpiresAt means unclaimed.
	ClaimedBy      common.Address
	ClaimExpiresAt int64
}

// ExecutedIntervals is how many slices have been swapped so far.
func (o *Order) ExecutedIntervals() uint64 {
	return o.Intervals - o.RemainingIntervals
}

// Claimed reports whether an unexpired execution claim is held at now.
func (o *Order) Claimed(now int64) bool {
	return o.ClaimExpiresAt != 0 && now < o.ClaimExpiresAt
}

// UnexecutedPrincipal is the tokenIn still held in escrow for this order.
func (o *Order) UnexecutedPrincipal() uint256.Int {
	var out uint256.Int
	out.Sub(&o.TotalAmountIn, &o.ExecutedAmount)
	return out
}

// UnusedFee is the prepaid fee not yet paid to keepers.
func (o *Order) UnusedFee() uint256.Int {
	var out uint256.Int
	out.Sub(&o.ExecutionFeeReserved, &o.FeePaid)
	return out
}

// FeePerInterval is the keeper incentive paid for each executed slice.
func (o *Order) FeePerInterval() uint256.Int {
	var out uint256.Int
	if o.Intervals == 0 {
		return out
	}
	out.Div(&o.ExecutionFeeReserved, uint256.NewInt(o.Intervals))
	return out
}

func (o *Order) clearClaim() {
	o.ClaimedBy = common.Address{}
	o.ClaimExpiresAt = 0
}

// CreateParams is the input to Manager.CreateOrder.
type CreateParams struct {
	Owner           common.Address
	TokenIn         Asset
	TokenOut        Asset
	TotalAmountIn   *uint256.Int
	Intervals       uint64
	IntervalSeconds uint64
	MinAmountOut    *uint256.Int
	PrepaidFee      *uint256.Int
}

// Receipt describes one successfully executed interval.
type Receipt struct {
	AttemptID          string
	OrderID            uint64
	Keeper             common.Address
	AmountIn           uint256.Int
	AmountOut          uint256.Int
	KeeperFee          uint256.Int
	RemainingIntervals uint64
	ExecutedAt         int64
	Completed          bool
}

// Summary is the derived progress view of an order.
type Summary struct {
	OrderID            uint64
	ProgressPct        float64
	NextEligibleTime   int64
	SecondsUntilNext   int64
	IsActive           bool
	Status             Status
	RemainingIntervals uint64
}

// AttemptOutcome classifies an execution attempt for the attempt log.
type AttemptOutcome string

const (
	OutcomeExecuted         AttemptOutcome = "EXECUTED"
	OutcomeSlippage         AttemptOutcome = "SLIPPAGE_EXCEEDED"
	OutcomeVenueUnavailable AttemptOutcome = "VENUE_UNAVAILABLE"
	OutcomeCommitFailed     AttemptOutcome = "COMMIT_FAILED"
)

// Attempt is one recorded call into the swap venue on behalf of an order.
type Attempt struct {
	ID        string
	OrderID   uint64
	Keeper    common.Address
	Outcome   AttemptOutcome
	AmountIn  uint256.Int
	AmountOut uint256.Int
	Error     string
	At        int64
	LatencyMs int64 // venue round trip
}
