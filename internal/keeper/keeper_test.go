package keeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/balance"
	"twap-core/internal/market"
	"twap-core/internal/monitor"
	"twap-core/internal/order"
	"twap-core/internal/venue"
)

var (
	escrow    = common.HexToAddress("0xe5c0")
	liquidity = common.HexToAddress("0x1")
	owner     = common.HexToAddress("0xa11ce")
	keeperAdr = common.HexToAddress("0xbeef")
	usdc      = order.AssetFromHex("0x1111")
	weth      = order.AssetFromHex("0x2222")
)

type clock struct{ now atomic.Int64 }

func (c *clock) Now() int64 { return c.now.Load() }

type harness struct {
	store   *order.MemoryStore
	ledger  *balance.Ledger
	manager *order.Manager
	engine  *order.Engine
	query   *order.QueryService
	clock   *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	c := &clock{}
	c.now.Store(1_700_000_000)

	store := order.NewMemoryStore()
	ledger := balance.NewLedger(escrow, nil)
	require.NoError(t, ledger.Mint(ctx, usdc, owner, uint256.NewInt(1_000_000)))
	require.NoError(t, ledger.Mint(ctx, weth, liquidity, uint256.NewInt(1_000_000)))
	require.NoError(t, ledger.Approve(ctx, usdc, owner, uint256.NewInt(1_000_000)))

	prices := market.NewPriceTable()
	prices.Register(usdc, "USDC", 0, decimal.NewFromInt(1))
	prices.Register(weth, "WETH", 0, decimal.NewFromInt(1))
	v := venue.NewSimulated(ledger, liquidity, prices, venue.SimConfig{Seed: 1})

	return &harness{
		store:   store,
		ledger:  ledger,
		manager: order.NewManager(store, ledger, c, nil, nil),
		engine:  order.NewEngine(store, ledger, v, c, nil, nil, order.EngineConfig{ClaimTTL: time.Minute}),
		query:   order.NewQueryService(store, c),
		clock:   c,
	}
}

func (h *harness) create(t *testing.T, amount uint64) order.Order {
	t.Helper()
	o, err := h.manager.CreateOrder(context.Background(), order.CreateParams{
		Owner:           owner,
		TokenIn:         usdc,
		TokenOut:        weth,
		TotalAmountIn:   uint256.NewInt(amount),
		Intervals:       4,
		IntervalSeconds: 60,
		MinAmountOut:    uint256.NewInt(1),
		PrepaidFee:      new(uint256.Int),
	})
	require.NoError(t, err)
	return o
}

func TestKeeperExecutesDueOrdersOnce(t *testing.T) {
	h := newHarness(t)
	ids := []uint64{h.create(t, 400).ID, h.create(t, 800).ID, h.create(t, 1200).ID}

	metrics := monitor.NewSystemMetrics()
	k := New(Config{ScanInterval: 10 * time.Millisecond, Workers: 3, Address: keeperAdr},
		h.query, h.store, h.engine, h.clock, nil, metrics, nil, nil)
	k.Start(context.Background())

	require.Eventually(t, func() bool {
		return metrics.GetSnapshot().IntervalsExecuted == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Many more scans within the same interval must not execute again.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, k.Stop())

	for _, id := range ids {
		o, err := h.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), o.RemainingIntervals, "order %d", id)
	}
	s := metrics.GetSnapshot()
	assert.EqualValues(t, 3, s.IntervalsExecuted)
	assert.Equal(t, 3, s.ActiveOrders)
	assert.True(t, s.KeeperLeader)
}

func TestKeeperConcurrentReplicasExecuteOnce(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, 400).ID

	m1, m2 := monitor.NewSystemMetrics(), monitor.NewSystemMetrics()
	k1 := New(Config{ScanInterval: 5 * time.Millisecond, Workers: 4, Address: keeperAdr},
		h.query, h.store, h.engine, h.clock, nil, m1, nil, nil)
	k2 := New(Config{ScanInterval: 5 * time.Millisecond, Workers: 4, Address: common.HexToAddress("0xcafe")},
		h.query, h.store, h.engine, h.clock, nil, m2, nil, nil)
	k1.Start(context.Background())
	k2.Start(context.Background())

	require.Eventually(t, func() bool {
		o, err := h.store.Get(context.Background(), id)
		return err == nil && o.RemainingIntervals == 3 && o.ClaimExpiresAt == 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, k1.Stop())
	require.NoError(t, k2.Stop())

	total := m1.GetSnapshot().IntervalsExecuted + m2.GetSnapshot().IntervalsExecuted
	assert.EqualValues(t, 1, total)
}

type followerLease struct{ err error }

func (l followerLease) Acquire(context.Context) (bool, error) { return false, l.err }
func (followerLease) Release(context.Context) error           { return nil }

func TestKeeperFollowerDoesNotScan(t *testing.T) {
	h := newHarness(t)
	h.create(t, 400)

	for _, lease := range []Lease{followerLease{}, followerLease{err: errors.New("redis down")}} {
		k := New(Config{Address: keeperAdr}, h.query, h.store, h.engine, h.clock, lease, nil, nil, nil)
		queued, _ := k.ScanOnce(context.Background())
		assert.Equal(t, 0, queued)
		assert.False(t, k.Leader())
	}
}

func TestScanOnceDedupes(t *testing.T) {
	h := newHarness(t)
	h.create(t, 400)
	h.create(t, 400)

	k := New(Config{Address: keeperAdr}, h.query, h.store, h.engine, h.clock, nil, nil, nil, nil)
	queued, err := k.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	queued, err = k.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

func TestResolveAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	addr, err := ResolveAddress("0x"+hexKey, "")
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	addr, err = ResolveAddress("", "0x000000000000000000000000000000000000beef")
	require.NoError(t, err)
	assert.Equal(t, keeperAdr, addr)

	_, err = ResolveAddress("", "nope")
	require.Error(t, err)
	_, err = ResolveAddress("zz", "")
	require.Error(t, err)

	assert.NotEmpty(t, InstanceID("twap-core"))
}

func TestRedisLeaseConfig(t *testing.T) {
	_, err := NewRedisLease(LeaseConfig{}, "me")
	require.Error(t, err)
	_, err = NewRedisLease(LeaseConfigDefaults(), "")
	require.Error(t, err)

	// Nothing listens on this port, so Acquire reports an error rather than leadership.
	cfg := LeaseConfigDefaults()
	cfg.Addr = "127.0.0.1:1"
	l, err := NewRedisLease(cfg, "me")
	require.NoError(t, err)
	defer l.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := l.Acquire(ctx)
	require.Error(t, err)
	assert.False(t, ok)
}
