package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"twap-core/internal/events"
	"twap-core/internal/order"
)

// AmountsOutQuoter prices a path against an on-chain router.
type AmountsOutQuoter interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// ChainFeed refreshes prices by quoting one whole unit of each asset against a USD
// reference token on a router.
type ChainFeed struct {
	Quoter    AmountsOutQuoter
	Bus       *events.Bus
	Table     *PriceTable
	Reference order.Asset // USD-pegged token priced at 1
	Decimals  map[order.Asset]int32
	Interval  time.Duration
}

// Start polls until ctx is done.
func (f *ChainFeed) Start(ctx context.Context) {
	if f.Quoter == nil || f.Table == nil {
		log.Warn().Msg("chain feed not fully configured; skipping start")
		return
	}
	if f.Interval == 0 {
		f.Interval = 30 * time.Second
	}
	go func() {
		f.Refresh(ctx)
		t := time.NewTicker(f.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				f.Refresh(ctx)
			}
		}
	}()
}

// Refresh quotes every asset once. Failures keep the previous price.
func (f *ChainFeed) Refresh(ctx context.Context) int {
	refDecimals, ok := f.Decimals[f.Reference]
	if !ok {
		refDecimals = 6
	}
	updated := 0
	for _, asset := range f.Table.assets() {
		if asset == f.Reference || asset.IsNative() {
			continue
		}
		dec, ok := f.Decimals[asset]
		if !ok {
			dec = 18
		}
		one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
		amounts, err := f.Quoter.GetAmountsOut(ctx, one, []common.Address{asset.Address(), f.Reference.Address()})
		if err != nil || len(amounts) != 2 {
			log.Warn().Err(err).Str("asset", asset.String()).Msg("chain feed: quote failed")
			continue
		}
		price := decimal.NewFromBigInt(amounts[1], -refDecimals)
		if !price.IsPositive() || !f.Table.Set(asset, price) {
			continue
		}
		updated++
		if tick, ok := f.Table.tick(asset); ok {
			f.Bus.Publish(events.EventPriceTick, tick)
		}
	}
	return updated
}
