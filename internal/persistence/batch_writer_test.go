package persistence

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
	"twap-core/pkg/db"
)

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database, 2, time.Hour, nil)
	defer bw.Close()

	attempts := NewAttemptLog(bw, database)
	attempts.RecordAttempt(order.Attempt{ID: "a", OrderID: 7, Outcome: order.OutcomeExecuted, At: 1})
	assert.Equal(t, 1, bw.Pending())
	attempts.RecordAttempt(order.Attempt{ID: "b", OrderID: 7, Outcome: order.OutcomeSlippage, At: 2})
	assert.Equal(t, 0, bw.Pending())

	m := bw.GetMetrics()
	assert.EqualValues(t, 2, m.TotalWrites)
	assert.EqualValues(t, 1, m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
}

func TestAttemptLogByOrderFlushesFirst(t *testing.T) {
	database := newDB(t)
	var observed int
	bw := NewBatchWriter(database, 100, time.Hour, func(time.Duration) { observed++ })
	defer bw.Close()

	attempts := NewAttemptLog(bw, database)
	a := order.Attempt{ID: "x", OrderID: 3, Keeper: common.HexToAddress("0xbeef"), Outcome: order.OutcomeExecuted, At: 10}
	a.AmountIn.SetUint64(5)
	attempts.RecordAttempt(a)

	got, err := attempts.ByOrder(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].AmountIn.Uint64())
	assert.Equal(t, 1, observed)
}

func TestBatchWriterRetriesFailedBatch(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database, 100, time.Hour, nil)
	defer bw.Close()

	bw.WriteQuery("missing", "INSERT INTO no_such_table (x) VALUES (?)", 1)
	require.Error(t, bw.Flush())
	assert.Equal(t, 1, bw.Pending())
	assert.EqualValues(t, 1, bw.GetMetrics().TotalErrors)
}

func TestLedgerJournalReplay(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database, 100, time.Hour, nil)

	escrow := common.HexToAddress("0xe5c0")
	alice := common.HexToAddress("0xa11ce")
	usdc := order.AssetFromHex("0x1111")
	ctx := context.Background()

	ledger := balance.NewLedger(escrow, NewLedgerJournal(bw))
	require.NoError(t, ledger.Mint(ctx, usdc, alice, uint256.NewInt(100)))
	require.NoError(t, ledger.Approve(ctx, usdc, alice, uint256.NewInt(60)))
	require.NoError(t, ledger.TransferIn(ctx, usdc, alice, uint256.NewInt(40)))
	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())

	entries, err := database.LedgerEntries(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	restored := balance.NewLedger(escrow, nil)
	require.NoError(t, restored.Replay(entries))

	bal, err := restored.BalanceOf(ctx, usdc, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), bal.Uint64())
	held, err := restored.BalanceOf(ctx, usdc, escrow)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), held.Uint64())
	assert.Equal(t, uint64(20), restored.Allowance(ctx, usdc, alice).Uint64())
}

func TestLedgerSyncStoresEntriesImmediately(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database, 100, time.Hour, nil)
	defer bw.Close()

	ctx := context.Background()
	ledger := balance.NewLedger(common.HexToAddress("0xe5c0"), NewLedgerJournal(bw))
	require.NoError(t, ledger.Mint(ctx, order.NativeAsset, common.HexToAddress("0xa11ce"), uint256.NewInt(9)))
	assert.Equal(t, 1, bw.Pending())

	require.NoError(t, ledger.Sync(ctx))
	assert.Equal(t, 0, bw.Pending())
	entries, err := database.LedgerEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
