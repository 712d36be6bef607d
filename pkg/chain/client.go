// Package chain talks to an EVM JSON-RPC endpoint: router quotes and chain time.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

// Backend is the subset of ethclient.Client this package needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client throttles calls to a Backend.
type Client struct {
	backend Backend
	limiter *rate.Limiter
	closeFn func()
}

// Dial connects to url and limits outgoing calls to rps per second. rps <= 0 disables
// the limit.
func Dial(ctx context.Context, url string, rps float64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := NewClient(ec, rps)
	c.closeFn = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, rps float64) *Client {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Client{backend: backend, limiter: rate.NewLimiter(limit, burst)}
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.CallContract(ctx, msg, blockNumber)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.HeaderByNumber(ctx, number)
}

func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}
