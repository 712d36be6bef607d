package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/balance"
	"twap-core/internal/events"
	"twap-core/internal/order"
)

var (
	escrow = common.HexToAddress("0xe5c0")
	alice  = common.HexToAddress("0xa11ce")
	usdc   = order.AssetFromHex("0x1111")
	weth   = order.AssetFromHex("0x2222")
)

type fixedClock int64

func (c fixedClock) Now() int64 { return int64(c) }

func activeOrder(principal, executed, fee uint64) order.Order {
	o := order.Order{
		Owner: alice, TokenIn: usdc, TokenOut: weth,
		Intervals: 4, RemainingIntervals: 4, IsActive: true, Status: order.StatusActive,
	}
	o.TotalAmountIn.SetUint64(principal)
	o.AmountPerInterval.SetUint64(principal / 4)
	o.ExecutedAmount.SetUint64(executed)
	o.ExecutionFeeReserved.SetUint64(fee)
	return o
}

func setup(t *testing.T, orders ...order.Order) (*order.MemoryStore, *balance.Ledger) {
	t.Helper()
	store := order.NewMemoryStore()
	for _, o := range orders {
		_, err := store.Insert(context.Background(), o)
		require.NoError(t, err)
	}
	return store, balance.NewLedger(escrow, nil)
}

func TestReconcileBalanced(t *testing.T) {
	store, ledger := setup(t, activeOrder(400, 100, 8))
	ctx := context.Background()
	require.NoError(t, ledger.Mint(ctx, usdc, escrow, uint256.NewInt(300)))
	require.NoError(t, ledger.Mint(ctx, order.NativeAsset, escrow, uint256.NewInt(8)))

	svc := NewService(store, ledger, fixedClock(0), nil, time.Minute)
	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasShortfall)
	assert.Equal(t, 1, report.ActiveOrders)
	require.Len(t, report.Assets, 2)
	assert.Same(t, report, svc.Last())
}

func TestReconcileFlagsShortfall(t *testing.T) {
	store, ledger := setup(t, activeOrder(400, 0, 0))
	ctx := context.Background()
	require.NoError(t, ledger.Mint(ctx, usdc, escrow, uint256.NewInt(350)))

	bus := events.NewBus()
	alerts, unsub := bus.Subscribe(events.EventAlert, 4)
	defer unsub()

	report, err := NewService(store, ledger, fixedClock(0), bus, 0).Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasShortfall)

	var usdcDiff AssetDiff
	for _, d := range report.Assets {
		if d.Asset == usdc.String() {
			usdcDiff = d
		}
	}
	assert.False(t, usdcDiff.OK)
	assert.Equal(t, "50", usdcDiff.Shortfall)
	require.Len(t, alerts, 1)
	assert.Contains(t, (<-alerts).(string), "short 50")
}

func TestReconcileToleratesInFlightSlice(t *testing.T) {
	o := activeOrder(400, 0, 0)
	o.ClaimedBy = alice
	o.ClaimExpiresAt = 100
	store, ledger := setup(t, o)
	ctx := context.Background()
	require.NoError(t, ledger.Mint(ctx, usdc, escrow, uint256.NewInt(300)))

	report, err := NewService(store, ledger, fixedClock(50), nil, 0).Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasShortfall)

	// Once the claim has lapsed the slice must be back in escrow.
	report, err = NewService(store, ledger, fixedClock(100), nil, 0).Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasShortfall)
}
