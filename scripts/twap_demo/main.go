package main

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"twap-core/internal/balance"
	"twap-core/internal/market"
	"twap-core/internal/order"
	"twap-core/internal/venue"
	"twap-core/pkg/logger"
	"twap-core/pkg/tokens"
)

// twap_demo walks one TWAP order through its whole life on a manual clock. It does
// not touch a database or a chain.
//
// Usage:
//   go run ./scripts/twap_demo
//
// It will:
//   1) Sell 1000 USDC for WETH over 10 intervals of one hour.
//   2) Try an early execution inside the first interval.
//   3) Execute every interval as it comes due and print the timeline.
//   4) Cancel a second order halfway and show the refund.

const (
	usdcDecimals = 6
	wethDecimals = 18
	ethDecimals  = 18
)

var (
	escrow    = common.HexToAddress("0x000000000000000000000000000000000000E5C0")
	liquidity = common.HexToAddress("0x0000000000000000000000000000000000001100")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	keeperAdr = common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	usdc      = order.AssetFromHex("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth      = order.AssetFromHex("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

type manualClock struct{ now atomic.Int64 }

func (c *manualClock) Now() int64      { return c.now.Load() }
func (c *manualClock) Advance(s int64) { c.now.Add(s) }

func mustAmount(s string, decimals int32) *uint256.Int {
	v, err := tokens.ParseAmount(s, decimals)
	if err != nil {
		log.Fatal().Err(err).Str("amount", s).Msg("bad amount")
	}
	return v
}

func main() {
	logger.Setup("info", false)
	log.Info().Msg("=== TWAP demo starting ===")
	ctx := context.Background()

	clock := &manualClock{}
	clock.now.Store(1_700_000_000)
	start := clock.Now()

	ledger := balance.NewLedger(escrow, nil)
	must(ledger.Mint(ctx, usdc, alice, mustAmount("2000", usdcDecimals)))
	must(ledger.Mint(ctx, order.NativeAsset, alice, mustAmount("1", ethDecimals)))
	must(ledger.Mint(ctx, weth, liquidity, mustAmount("100", wethDecimals)))
	must(ledger.Approve(ctx, usdc, alice, mustAmount("2000", usdcDecimals)))

	prices := market.NewPriceTable()
	prices.Register(usdc, "USDC", usdcDecimals, decimal.NewFromInt(1))
	prices.Register(weth, "WETH", wethDecimals, decimal.NewFromInt(3000))
	v := venue.NewSimulated(ledger, liquidity, prices, venue.SimConfig{FeeBps: 30, SlippageBps: 20, Seed: 42})

	store := order.NewMemoryStore()
	manager := order.NewManager(store, ledger, clock, nil, mustAmount("0.0001", ethDecimals))
	engine := order.NewEngine(store, ledger, v, clock, nil, nil, order.EngineConfig{})
	query := order.NewQueryService(store, clock)

	log.Info().Msg("[SCENARIO 1] 1000 USDC -> WETH, 10 intervals of 3600s")
	o, err := manager.CreateOrder(ctx, order.CreateParams{
		Owner:           alice,
		TokenIn:         usdc,
		TokenOut:        weth,
		TotalAmountIn:   mustAmount("1000", usdcDecimals),
		Intervals:       10,
		IntervalSeconds: 3600,
		MinAmountOut:    mustAmount("0.033", wethDecimals), // 100 USDC at 3000 less ~1% tolerance
		PrepaidFee:      mustAmount("0.01", ethDecimals),
	})
	must(err)
	log.Info().
		Uint64("order_id", o.ID).
		Str("per_interval", tokens.FormatAmount(&o.AmountPerInterval, usdcDecimals)).
		Msg("order created")

	// First interval runs immediately.
	execute(ctx, engine, o.ID, clock.Now(), start)

	log.Info().Msg("[SCENARIO 2] early execution 30 minutes later")
	clock.Advance(1800)
	if _, err := engine.ExecuteInterval(ctx, o.ID, keeperAdr, clock.Now()); errors.Is(err, order.ErrOrderNotExecutable) {
		sum, _ := query.GetOrderSummary(ctx, o.ID)
		log.Info().Int64("seconds_until_next", sum.SecondsUntilNext).Msg("rejected as expected: not executable yet")
	} else {
		log.Warn().Err(err).Msg("unexpected early execution result")
	}
	clock.Advance(1800)

	log.Info().Msg("[SCENARIO 3] remaining intervals")
	for {
		due, err := query.ListExecutableNow(ctx)
		must(err)
		if len(due) == 0 {
			break
		}
		for _, id := range due {
			execute(ctx, engine, id, clock.Now(), start)
		}
		clock.Advance(3600)
	}

	final, err := manager.GetOrder(ctx, o.ID)
	must(err)
	spent := tokens.FromBaseUnits(&final.ExecutedAmount, usdcDecimals)
	got := tokens.FromBaseUnits(&final.AmountOutTotal, wethDecimals)
	log.Info().
		Str("status", string(final.Status)).
		Str("usdc_spent", spent.String()).
		Str("weth_received", got.String()).
		Str("avg_usdc_per_weth", spent.Div(got).StringFixed(2)).
		Str("keeper_fees", tokens.FormatAmount(&final.FeePaid, ethDecimals)).
		Msg("order finished")

	log.Info().Msg("[SCENARIO 4] cancel halfway")
	second, err := manager.CreateOrder(ctx, order.CreateParams{
		Owner:           alice,
		TokenIn:         usdc,
		TokenOut:        weth,
		TotalAmountIn:   mustAmount("500", usdcDecimals),
		Intervals:       4,
		IntervalSeconds: 3600,
		MinAmountOut:    new(uint256.Int),
		PrepaidFee:      mustAmount("0.004", ethDecimals),
	})
	must(err)
	execute(ctx, engine, second.ID, clock.Now(), start)
	clock.Advance(3600)
	execute(ctx, engine, second.ID, clock.Now(), start)

	before, _ := ledger.BalanceOf(ctx, usdc, alice)
	cancelled, err := engine.CancelOrder(ctx, second.ID, alice)
	must(err)
	after, _ := ledger.BalanceOf(ctx, usdc, alice)
	var refund uint256.Int
	refund.Sub(after, before)
	log.Info().
		Uint64("order_id", cancelled.ID).
		Str("status", string(cancelled.Status)).
		Str("usdc_refunded", tokens.FormatAmount(&refund, usdcDecimals)).
		Msg("order cancelled")

	if _, err := engine.CancelOrder(ctx, second.ID, alice); errors.Is(err, order.ErrOrderNotActive) {
		log.Info().Msg("second cancel rejected, nothing refunded twice")
	}

	usdcLeft, _ := ledger.BalanceOf(ctx, usdc, alice)
	wethHeld, _ := ledger.BalanceOf(ctx, weth, alice)
	escrowUSDC, _ := ledger.BalanceOf(ctx, usdc, escrow)
	log.Info().
		Str("alice_usdc", tokens.FormatAmount(usdcLeft, usdcDecimals)).
		Str("alice_weth", tokens.FormatAmount(wethHeld, wethDecimals)).
		Str("escrow_usdc", tokens.FormatAmount(escrowUSDC, usdcDecimals)).
		Msg("=== TWAP demo finished ===")
}

func execute(ctx context.Context, engine *order.Engine, id uint64, now, start int64) {
	r, err := engine.ExecuteInterval(ctx, id, keeperAdr, now)
	if err != nil {
		log.Warn().Err(err).Uint64("order_id", id).Int64("t_plus", now-start).Msg("interval failed")
		return
	}
	log.Info().
		Uint64("order_id", id).
		Int64("t_plus", now-start).
		Str("usdc_in", tokens.FormatAmount(&r.AmountIn, usdcDecimals)).
		Str("weth_out", tokens.FormatAmount(&r.AmountOut, wethDecimals)).
		Uint64("remaining", r.RemainingIntervals).
		Bool("completed", r.Completed).
		Msg("interval executed")
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("demo failed")
	}
}
