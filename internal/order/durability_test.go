package order_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/balance"
	"twap-core/internal/order"
)

// bufferedJournal holds entries until Sync, like the batch-written journal.
type bufferedJournal struct {
	mu       sync.Mutex
	buffered int
	stored   int
	fail     error
}

func (j *bufferedJournal) Append(balance.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buffered++
}

func (j *bufferedJournal) Sync(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.stored += j.buffered
	j.buffered = 0
	return nil
}

func (j *bufferedJournal) pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.buffered
}

// journalCheckedStore counts order writes made while ledger entries were unstored.
type journalCheckedStore struct {
	*order.MemoryStore
	journal *bufferedJournal
	ahead   atomic.Int32
}

func (s *journalCheckedStore) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	if s.journal.pending() > 0 {
		s.ahead.Add(1)
	}
	return s.MemoryStore.Insert(ctx, o)
}

func (s *journalCheckedStore) Update(ctx context.Context, o order.Order, expected uint64) (order.Order, error) {
	if s.journal.pending() > 0 {
		s.ahead.Add(1)
	}
	return s.MemoryStore.Update(ctx, o, expected)
}

type journaledFixture struct {
	ctx     context.Context
	clock   *manualClock
	journal *bufferedJournal
	ledger  *balance.Ledger
	store   *journalCheckedStore
	manager *order.Manager
	engine  *order.Engine
}

func newJournaledFixture(t *testing.T) *journaledFixture {
	t.Helper()
	ctx := context.Background()
	j := &bufferedJournal{}
	f := &journaledFixture{
		ctx:     ctx,
		clock:   newClock(1_700_000_000),
		journal: j,
		ledger:  balance.NewLedger(escrow, j),
	}
	f.store = &journalCheckedStore{MemoryStore: order.NewMemoryStore(), journal: j}
	v := &stubVenue{ledger: f.ledger, out: uint256.NewInt(45)}
	f.manager = order.NewManager(f.store, f.ledger, f.clock, nil, uint256.NewInt(1))
	f.engine = order.NewEngine(f.store, f.ledger, v, f.clock, nil, nil, order.EngineConfig{ClaimTTL: time.Minute})

	require.NoError(t, f.ledger.Mint(ctx, tusdc, owner, uint256.NewInt(10_000)))
	require.NoError(t, f.ledger.Mint(ctx, order.NativeAsset, owner, uint256.NewInt(1_000)))
	require.NoError(t, f.ledger.Mint(ctx, teth, pool, uint256.NewInt(1_000_000)))
	require.NoError(t, f.ledger.Approve(ctx, tusdc, owner, uint256.NewInt(10_000)))
	return f
}

func (f *journaledFixture) params(total, intervals uint64) order.CreateParams {
	return order.CreateParams{
		Owner:           owner,
		TokenIn:         tusdc,
		TokenOut:        teth,
		TotalAmountIn:   uint256.NewInt(total),
		Intervals:       intervals,
		IntervalSeconds: 3600,
		MinAmountOut:    uint256.NewInt(40),
		PrepaidFee:      uint256.NewInt(intervals * 2),
	}
}

func TestOrderWritesFollowStoredLedgerEntries(t *testing.T) {
	f := newJournaledFixture(t)

	a, err := f.manager.CreateOrder(f.ctx, f.params(1000, 2))
	require.NoError(t, err)
	b, err := f.manager.CreateOrder(f.ctx, f.params(500, 5))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.engine.ExecuteInterval(f.ctx, a.ID, keeper, f.clock.Now())
		require.NoError(t, err)
		f.clock.Advance(3600)
	}
	_, err = f.engine.CancelOrder(f.ctx, b.ID, owner)
	require.NoError(t, err)

	assert.Zero(t, f.store.ahead.Load())
	assert.Zero(t, f.journal.pending())
}

func TestCreateOrderFailsWhenLedgerCannotSync(t *testing.T) {
	f := newJournaledFixture(t)
	f.journal.fail = errors.New("disk full")

	_, err := f.manager.CreateOrder(f.ctx, f.params(1000, 2))
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, f.store.Len())

	bal, err := f.ledger.BalanceOf(f.ctx, tusdc, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), bal.Uint64())
	held, err := f.ledger.BalanceOf(f.ctx, tusdc, escrow)
	require.NoError(t, err)
	assert.True(t, held.IsZero())
}
