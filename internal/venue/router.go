package venue

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/order"
)

// AmountsOutQuoter asks an on-chain router what a swap along path would return.
type AmountsOutQuoter interface {
	GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// RouterQuoted prices every swap with a live router quote and settles it on the local
// ledger against a liquidity account.
type RouterQuoted struct {
	quoter    AmountsOutQuoter
	ledger    Transferer
	liquidity common.Address
}

func NewRouterQuoted(quoter AmountsOutQuoter, ledger Transferer, liquidity common.Address) *RouterQuoted {
	return &RouterQuoted{quoter: quoter, ledger: ledger, liquidity: liquidity}
}

func (v *RouterQuoted) Swap(ctx context.Context, req order.SwapRequest) (*uint256.Int, error) {
	path := []common.Address{req.TokenIn.Address(), req.TokenOut.Address()}
	amounts, err := v.quoter.GetAmountsOut(ctx, req.AmountIn.ToBig(), path)
	if err != nil {
		return nil, fmt.Errorf("router quote: %w", err)
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("router quote returned %d amounts for %d hops", len(amounts), len(path))
	}
	out, overflow := uint256.FromBig(amounts[len(amounts)-1])
	if overflow {
		return nil, fmt.Errorf("router quote overflows uint256")
	}
	if out.Lt(req.MinAmountOut) {
		return nil, fmt.Errorf("%w: router quoted %s, min %s", order.ErrSlippageExceeded, out.Dec(), req.MinAmountOut.Dec())
	}
	if err := settle(ctx, v.ledger, v.liquidity, req, out); err != nil {
		return nil, err
	}
	log.Debug().Str("amount_in", req.AmountIn.Dec()).Str("amount_out", out.Dec()).Msg("router-quoted swap filled")
	return out, nil
}
