package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

// Quoter reads getAmountsOut from a Uniswap V2 style router.
type Quoter struct {
	caller Backend
	router common.Address
	abi    abi.ABI
}

func NewQuoter(caller Backend, router common.Address) (*Quoter, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	return &Quoter{caller: caller, router: router, abi: parsed}, nil
}

func (q *Quoter) GetAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := q.abi.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}
	msg := ethereum.CallMsg{To: &q.router, Data: data}
	result, err := q.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}
	unpacked, err := q.abi.Unpack("getAmountsOut", result)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("getAmountsOut returned %d values", len(unpacked))
	}
	amounts, ok := unpacked[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut returned %T", unpacked[0])
	}
	return amounts, nil
}
