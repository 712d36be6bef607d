package db

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/balance"
	"twap-core/internal/order"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc  = order.AssetFromHex("0x0000000000000000000000000000000000001111")
	weth  = order.AssetFromHex("0x0000000000000000000000000000000000002222")
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func sampleOrder(owner common.Address) order.Order {
	o := order.Order{
		Owner:              owner,
		TokenIn:            usdc,
		TokenOut:           weth,
		Intervals:          4,
		IntervalSeconds:    60,
		RemainingIntervals: 4,
		IsActive:           true,
		Status:             order.StatusActive,
		CreatedAt:          1_700_000_000,
	}
	o.TotalAmountIn.SetUint64(1000)
	o.AmountPerInterval.SetUint64(250)
	o.MinAmountOut.SetUint64(10)
	o.ExecutionFeeReserved.SetUint64(8)
	return o
}

func TestMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database, "execution_attempts", "latency_ms")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrderStoreRoundTrip(t *testing.T) {
	database := newTestDB(t)
	var observed int
	store := NewOrderStore(database, func(time.Duration) { observed++ })
	ctx := context.Background()

	created, err := store.Insert(ctx, sampleOrder(alice))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), created.ID)
	assert.Equal(t, uint64(1), created.Version)

	// Values beyond 64 bits survive the text encoding.
	big := sampleOrder(bob)
	big.TotalAmountIn.SetAllOne()
	second, err := store.Insert(ctx, big)
	require.NoError(t, err)

	got, err := store.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmountIn.Eq(new(uint256.Int).SetAllOne()))
	assert.Equal(t, bob, got.Owner)
	assert.Equal(t, order.StatusActive, got.Status)
	assert.True(t, got.IsActive)

	_, err = store.Get(ctx, 99)
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	ids, err := store.ListByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	none, err := store.ListByOwner(ctx, common.HexToAddress("0x1"))
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.Positive(t, observed)
}

func TestOrderStoreCompareAndSwap(t *testing.T) {
	database := newTestDB(t)
	store := NewOrderStore(database, nil)
	ctx := context.Background()

	o, err := store.Insert(ctx, sampleOrder(alice))
	require.NoError(t, err)

	next := o
	next.RemainingIntervals = 3
	next.ExecutedAmount.SetUint64(250)
	next.ClaimedBy = bob
	next.ClaimExpiresAt = o.CreatedAt + 60
	next.Owner = bob // immutable, ignored

	stored, err := store.Update(ctx, next, o.Version)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Version)
	assert.Equal(t, uint64(3), stored.RemainingIntervals)
	assert.Equal(t, alice, stored.Owner)
	assert.Equal(t, bob, stored.ClaimedBy)

	// Stale version loses.
	_, err = store.Update(ctx, next, o.Version)
	require.ErrorIs(t, err, order.ErrVersionConflict)

	missing := next
	missing.ID = 42
	_, err = store.Update(ctx, missing, 1)
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	done := stored
	done.IsActive = false
	done.Status = order.StatusCompleted
	done.ClaimedBy = common.Address{}
	done.ClaimExpiresAt = 0
	_, err = store.Update(ctx, done, stored.Version)
	require.NoError(t, err)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestAttemptsAndLedgerEntries(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	attempts := []order.Attempt{
		{ID: "a1", OrderID: 1, Keeper: bob, Outcome: order.OutcomeExecuted, At: 100, LatencyMs: 12},
		{ID: "a2", OrderID: 1, Keeper: bob, Outcome: order.OutcomeSlippage, Error: "slippage", At: 200},
		{ID: "b1", OrderID: 2, Keeper: bob, Outcome: order.OutcomeExecuted, At: 150},
	}
	attempts[0].AmountIn.SetUint64(250)
	attempts[0].AmountOut.SetUint64(11)
	for _, a := range attempts {
		_, err := database.DB.ExecContext(ctx, database.Rebind(InsertAttemptSQL), AttemptArgs(a)...)
		require.NoError(t, err)
	}

	got, err := database.AttemptsByOrder(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, order.OutcomeSlippage, got[0].Outcome)
	assert.Equal(t, uint64(11), got[1].AmountOut.Uint64())
	assert.Equal(t, int64(12), got[1].LatencyMs)

	entries := []balance.Entry{
		{Seq: 2, Kind: balance.EntryTransfer, Asset: usdc, From: alice, To: bob, At: 5},
		{Seq: 1, Kind: balance.EntryMint, Asset: usdc, To: alice, At: 4},
	}
	entries[0].Amount.SetUint64(40)
	entries[1].Amount.SetUint64(100)
	for _, e := range entries {
		_, err := database.DB.ExecContext(ctx, database.Rebind(InsertEntrySQL), EntryArgs(e)...)
		require.NoError(t, err)
	}

	loaded, err := database.LedgerEntries(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, uint64(1), loaded[0].Seq)
	assert.Equal(t, balance.EntryMint, loaded[0].Kind)
	assert.Equal(t, uint64(40), loaded[1].Amount.Uint64())
	assert.Equal(t, bob, loaded[1].To)
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?`
	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2`, Rebind(DialectPostgres, q))
}
