package market

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"twap-core/internal/events"
	"twap-core/internal/order"
)

// MockFeed random-walks every asset in the table for local development.
type MockFeed struct {
	Bus      *events.Bus
	Table    *PriceTable
	Steps    map[order.Asset]float64 // per-tick step as a fraction of price; zero pins the price
	Interval time.Duration
	Seed     int64
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Table == nil {
		log.Warn().Msg("mock feed: price table not set")
		return
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Step(rng)
			}
		}
	}()
}

// Step moves each volatile asset once and publishes its tick.
func (m *MockFeed) Step(rng *rand.Rand) {
	for _, asset := range m.Table.assets() {
		step := m.Steps[asset]
		if step <= 0 {
			continue
		}
		price, _ := m.Table.Price(asset)
		move := decimal.NewFromFloat((rng.Float64()*2 - 1) * step)
		next := price.Mul(decimal.NewFromInt(1).Add(move)).Round(8)
		if !next.IsPositive() {
			continue
		}
		m.Table.Set(asset, next)
		if tick, ok := m.Table.tick(asset); ok {
			m.Bus.Publish(events.EventPriceTick, tick)
		}
	}
}
