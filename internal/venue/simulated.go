// Package venue provides swap venues the execution engine trades through.
package venue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"twap-core/internal/order"
)

var ErrNoPrice = errors.New("no price for pair")

// Transferer is the ledger capability venues settle with.
type Transferer interface {
	Transfer(ctx context.Context, asset order.Asset, from, to common.Address, amount *uint256.Int) error
}

// PriceSource quotes how many base units of tokenOut one base unit of tokenIn buys.
type PriceSource interface {
	Rate(tokenIn, tokenOut order.Asset) (decimal.Decimal, bool)
}

// SimConfig shapes simulated fills.
type SimConfig struct {
	FeeBps       float64 // venue fee taken from the output
	SlippageBps  float64 // upper bound of random adverse slippage
	LatencyMinMs int
	LatencyMaxMs int
	Seed         int64 // zero seeds from the clock
}

// Simulated fills swaps at the price source's rate less fee and random slippage, and
// settles against a liquidity account on the ledger.
type Simulated struct {
	ledger    Transferer
	liquidity common.Address
	prices    PriceSource
	cfg       SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated venue holding its inventory at liquidity.
func NewSimulated(ledger Transferer, liquidity common.Address, prices PriceSource, cfg SimConfig) *Simulated {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	if cfg.LatencyMinMs < 0 {
		cfg.LatencyMinMs = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		ledger:    ledger,
		liquidity: liquidity,
		prices:    prices,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Liquidity is the account holding the venue's inventory.
func (v *Simulated) Liquidity() common.Address { return v.liquidity }

func (v *Simulated) Swap(ctx context.Context, req order.SwapRequest) (*uint256.Int, error) {
	rate, ok := v.prices.Rate(req.TokenIn, req.TokenOut)
	if !ok || !rate.IsPositive() {
		return nil, fmt.Errorf("%w %s/%s", ErrNoPrice, req.TokenIn, req.TokenOut)
	}

	if err := v.simulateLatency(ctx); err != nil {
		return nil, err
	}

	noise := v.slippage()
	out := Quote(req.AmountIn, rate, v.cfg.FeeBps, noise)
	if out.Lt(req.MinAmountOut) {
		return nil, fmt.Errorf("%w: got %s, min %s", order.ErrSlippageExceeded, out.Dec(), req.MinAmountOut.Dec())
	}

	if err := settle(ctx, v.ledger, v.liquidity, req, out); err != nil {
		return nil, err
	}
	log.Debug().
		Str("token_in", req.TokenIn.String()).
		Str("token_out", req.TokenOut.String()).
		Str("amount_in", req.AmountIn.Dec()).
		Str("amount_out", out.Dec()).
		Float64("slippage_bps", noise*10000).
		Msg("simulated swap filled")
	return out, nil
}

// Quote applies rate, a fee in bps and a slippage fraction to amountIn, rounding down.
func Quote(amountIn *uint256.Int, rate decimal.Decimal, feeBps, slippageFrac float64) *uint256.Int {
	gross := decimal.NewFromBigInt(amountIn.ToBig(), 0).Mul(rate)
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(feeBps).Div(decimal.NewFromInt(10000)))
	keep = keep.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippageFrac)))
	net := gross.Mul(keep).Floor()
	if !net.IsPositive() {
		return new(uint256.Int)
	}
	out, overflow := uint256.FromBig(net.BigInt())
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

func (v *Simulated) slippage() float64 {
	if v.cfg.SlippageBps <= 0 {
		return 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rng.Float64() * v.cfg.SlippageBps / 10000
}

func (v *Simulated) simulateLatency(ctx context.Context) error {
	if v.cfg.LatencyMaxMs <= 0 {
		return nil
	}
	delayMs := v.cfg.LatencyMinMs
	if span := v.cfg.LatencyMaxMs - v.cfg.LatencyMinMs; span > 0 {
		v.mu.Lock()
		delayMs += v.rng.Intn(span + 1)
		v.mu.Unlock()
	}
	if delayMs == 0 {
		return nil
	}
	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle moves the input to the venue and the output to the recipient. If the second
// leg fails the first is reversed. Nothing moves once ctx is done.
func settle(ctx context.Context, ledger Transferer, liquidity common.Address, req order.SwapRequest, out *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("swap deadline passed before settlement: %w", err)
	}
	if err := ledger.Transfer(ctx, req.TokenIn, req.Payer, liquidity, req.AmountIn); err != nil {
		return fmt.Errorf("collect input: %w", err)
	}
	if err := ledger.Transfer(ctx, req.TokenOut, liquidity, req.Recipient, out); err != nil {
		if rerr := ledger.Transfer(ctx, req.TokenIn, liquidity, req.Payer, req.AmountIn); rerr != nil {
			log.Error().Err(rerr).Msg("venue failed to return input after aborted swap")
		}
		return fmt.Errorf("insufficient venue liquidity: %w", err)
	}
	return nil
}
