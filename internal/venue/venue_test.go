package venue

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twap-core/internal/balance"
	"twap-core/internal/monitor"
	"twap-core/internal/order"
)

var (
	liquidity = common.HexToAddress("0x0000000000000000000000000000000000000001")
	payer     = common.HexToAddress("0x000000000000000000000000000000000000e5c0")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	usdc      = order.AssetFromHex("0x0000000000000000000000000000000000001111")
	weth      = order.AssetFromHex("0x0000000000000000000000000000000000002222")
)

type fixedPrices map[[2]order.Asset]decimal.Decimal

func (p fixedPrices) Rate(in, out order.Asset) (decimal.Decimal, bool) {
	r, ok := p[[2]order.Asset{in, out}]
	return r, ok
}

func newLedger(t *testing.T, payerIn, poolOut uint64) *balance.Ledger {
	t.Helper()
	ctx := context.Background()
	l := balance.NewLedger(payer, nil)
	require.NoError(t, l.Mint(ctx, usdc, payer, uint256.NewInt(payerIn)))
	if poolOut > 0 {
		require.NoError(t, l.Mint(ctx, weth, liquidity, uint256.NewInt(poolOut)))
	}
	return l
}

func balanceOf(t *testing.T, l *balance.Ledger, a order.Asset, who common.Address) uint64 {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), a, who)
	require.NoError(t, err)
	return b.Uint64()
}

func TestQuote(t *testing.T) {
	rate := decimal.RequireFromString("0.5")
	assert.Equal(t, uint64(50), Quote(uint256.NewInt(100), rate, 0, 0).Uint64())
	// 30 bps fee: 50 * 0.997 = 49.85, floored.
	assert.Equal(t, uint64(49), Quote(uint256.NewInt(100), rate, 30, 0).Uint64())
	assert.Equal(t, uint64(45), Quote(uint256.NewInt(100), rate, 0, 0.1).Uint64())
	assert.True(t, Quote(uint256.NewInt(1), rate, 0, 0).IsZero())
}

func TestSimulatedSwapSettles(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	prices := fixedPrices{{usdc, weth}: decimal.NewFromInt(2)}
	v := NewSimulated(l, liquidity, prices, SimConfig{Seed: 7})

	out, err := v.Swap(context.Background(), order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(150),
		Payer: payer, Recipient: recipient,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(200), out.Uint64())
	assert.Equal(t, uint64(900), balanceOf(t, l, usdc, payer))
	assert.Equal(t, uint64(100), balanceOf(t, l, usdc, liquidity))
	assert.Equal(t, uint64(200), balanceOf(t, l, weth, recipient))
}

func TestSimulatedSwapSlippage(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	v := NewSimulated(l, liquidity, fixedPrices{{usdc, weth}: decimal.NewFromInt(1)}, SimConfig{FeeBps: 100})

	_, err := v.Swap(context.Background(), order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(100),
		Payer: payer, Recipient: recipient,
	})
	require.ErrorIs(t, err, order.ErrSlippageExceeded)
	assert.Equal(t, uint64(1000), balanceOf(t, l, usdc, payer))
}

func TestSimulatedSwapNoPrice(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	v := NewSimulated(l, liquidity, fixedPrices{}, SimConfig{})
	_, err := v.Swap(context.Background(), order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(1), MinAmountOut: new(uint256.Int),
		Payer: payer, Recipient: recipient,
	})
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestSimulatedSwapReversesOnShortLiquidity(t *testing.T) {
	l := newLedger(t, 1000, 10)
	v := NewSimulated(l, liquidity, fixedPrices{{usdc, weth}: decimal.NewFromInt(1)}, SimConfig{})

	_, err := v.Swap(context.Background(), order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(1),
		Payer: payer, Recipient: recipient,
	})
	require.Error(t, err)
	assert.Equal(t, uint64(1000), balanceOf(t, l, usdc, payer))
	assert.Equal(t, uint64(0), balanceOf(t, l, usdc, liquidity))
}

func TestSimulatedSwapHonoursContext(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	v := NewSimulated(l, liquidity, fixedPrices{{usdc, weth}: decimal.NewFromInt(1)}, SimConfig{LatencyMinMs: 500, LatencyMaxMs: 500})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Swap(ctx, order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(1), MinAmountOut: new(uint256.Int),
		Payer: payer, Recipient: recipient,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRouterQuotedSwapSettlesNothingAfterDeadline(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	v := NewRouterQuoted(&fakeQuoter{amounts: []*big.Int{big.NewInt(100), big.NewInt(42)}}, l, liquidity)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := v.Swap(ctx, order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(40),
		Payer: payer, Recipient: recipient,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1000), balanceOf(t, l, usdc, payer))
	assert.Equal(t, uint64(0), balanceOf(t, l, weth, recipient))
}

type fakeQuoter struct {
	amounts []*big.Int
	err     error
	path    []common.Address
}

func (q *fakeQuoter) GetAmountsOut(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	q.path = path
	if q.err != nil {
		return nil, q.err
	}
	return q.amounts, nil
}

func TestRouterQuotedSwap(t *testing.T) {
	l := newLedger(t, 1000, 1000)
	q := &fakeQuoter{amounts: []*big.Int{big.NewInt(100), big.NewInt(42)}}
	v := NewRouterQuoted(q, l, liquidity)

	req := order.SwapRequest{
		TokenIn: usdc, TokenOut: weth,
		AmountIn: uint256.NewInt(100), MinAmountOut: uint256.NewInt(40),
		Payer: payer, Recipient: recipient,
	}
	out, err := v.Swap(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), out.Uint64())
	assert.Equal(t, []common.Address{usdc.Address(), weth.Address()}, q.path)

	req.MinAmountOut = uint256.NewInt(43)
	_, err = v.Swap(context.Background(), req)
	require.ErrorIs(t, err, order.ErrSlippageExceeded)

	q.err = errors.New("rpc down")
	_, err = v.Swap(context.Background(), req)
	require.ErrorContains(t, err, "rpc down")
}

type errVenue struct{ err error }

func (v errVenue) Swap(context.Context, order.SwapRequest) (*uint256.Int, error) {
	if v.err != nil {
		return nil, v.err
	}
	return uint256.NewInt(1), nil
}

func TestInstrumentedCounts(t *testing.T) {
	m := monitor.NewSystemMetrics()
	ctx := context.Background()
	_, _ = NewInstrumented(errVenue{}, m).Swap(ctx, order.SwapRequest{})
	_, _ = NewInstrumented(errVenue{err: order.ErrSlippageExceeded}, m).Swap(ctx, order.SwapRequest{})
	_, _ = NewInstrumented(errVenue{err: errors.New("boom")}, m).Swap(ctx, order.SwapRequest{})

	s := m.GetSnapshot()
	assert.EqualValues(t, 1, s.Swaps)
	assert.EqualValues(t, 1, s.SlippageRejects)
	assert.EqualValues(t, 1, s.VenueErrors)
	assert.Equal(t, 3, s.VenueLatency.Count)
}
