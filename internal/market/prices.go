// Package market maintains USD reference prices for registered tokens and turns them
// into base-unit exchange rates for the venue.
package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"twap-core/internal/order"
)

// Tick is published on events.EventPriceTick.
type Tick struct {
	Asset    string          `json:"asset"`
	Symbol   string          `json:"symbol"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	At       int64           `json:"at"`
}

type quote struct {
	symbol   string
	decimals int32
	price    decimal.Decimal
	at       time.Time
}

// PriceTable holds the latest USD price per asset.
type PriceTable struct {
	mu     sync.RWMutex
	quotes map[order.Asset]quote
}

func NewPriceTable() *PriceTable {
	return &PriceTable{quotes: make(map[order.Asset]quote)}
}

// Register adds an asset with its starting price.
func (p *PriceTable) Register(asset order.Asset, symbol string, decimals int32, priceUSD decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[asset] = quote{symbol: symbol, decimals: decimals, price: priceUSD, at: time.Now()}
}

// Set updates the price of a registered asset. Unknown assets are ignored.
func (p *PriceTable) Set(asset order.Asset, priceUSD decimal.Decimal) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[asset]
	if !ok {
		return false
	}
	q.price = priceUSD
	q.at = time.Now()
	p.quotes[asset] = q
	return true
}

func (p *PriceTable) Price(asset order.Asset) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[asset]
	return q.price, ok
}

// Rate is how many base units of tokenOut one base unit of tokenIn buys.
func (p *PriceTable) Rate(tokenIn, tokenOut order.Asset) (decimal.Decimal, bool) {
	p.mu.RLock()
	in, okIn := p.quotes[tokenIn]
	out, okOut := p.quotes[tokenOut]
	p.mu.RUnlock()
	if !okIn || !okOut || !in.price.IsPositive() || !out.price.IsPositive() {
		return decimal.Zero, false
	}
	rate := in.price.DivRound(out.price, 24).Shift(out.decimals - in.decimals)
	return rate, true
}

// Snapshot returns a tick per asset.
func (p *PriceTable) Snapshot() []Tick {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Tick, 0, len(p.quotes))
	for a, q := range p.quotes {
		out = append(out, Tick{Asset: a.String(), Symbol: q.symbol, PriceUSD: q.price, At: q.at.Unix()})
	}
	return out
}

func (p *PriceTable) assets() []order.Asset {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]order.Asset, 0, len(p.quotes))
	for a := range p.quotes {
		out = append(out, a)
	}
	return out
}

func (p *PriceTable) tick(asset order.Asset) (Tick, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.quotes[asset]
	if !ok {
		return Tick{}, false
	}
	return Tick{Asset: asset.String(), Symbol: q.symbol, PriceUSD: q.price, At: q.at.Unix()}, true
}
