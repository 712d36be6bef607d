// Package reconciliation audits that the escrow account covers every active order.
package reconciliation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/events"
	"twap-core/internal/order"
)

// OrderSource lists the orders whose funds escrow must hold.
type OrderSource interface {
	ListActive(ctx context.Context) ([]order.Order, error)
}

// BalanceReader reads escrow holdings.
type BalanceReader interface {
	BalanceOf(ctx context.Context, asset order.Asset, account common.Address) (*uint256.Int, error)
	Escrow() common.Address
}

// Service handles periodic reconciliation
type Service struct {
	orders   OrderSource
	balances BalanceReader
	clock    order.Clock
	bus      *events.Bus
	interval time.Duration

	mu   sync.Mutex
	last *Report
}

// Report contains reconciliation results
type Report struct {
	Timestamp    time.Time   `json:"timestamp"`
	ActiveOrders int         `json:"active_orders"`
	Assets       []AssetDiff `json:"assets"`
	HasShortfall bool        `json:"has_shortfall"`
}

// AssetDiff compares what escrow holds with what active orders are owed.
type AssetDiff struct {
	Asset     string `json:"asset"`
	Required  string `json:"required"`
	Held      string `json:"held"`
	Shortfall string `json:"shortfall"`
	OK        bool   `json:"ok"`
}

// NewService creates a new reconciliation service
func NewService(orders OrderSource, balances BalanceReader, clock order.Clock, bus *events.Bus, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{orders: orders, balances: balances, clock: clock, bus: bus, interval: interval}
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					log.Error().Err(err).Msg("reconciliation error")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("interval", s.interval).Msg("reconciliation service started")
}

// Reconcile performs one audit and publishes an alert per short asset.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	active, err := s.orders.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	now := s.clock.Now()

	required := make(map[order.Asset]*uint256.Int)
	need := func(a order.Asset, v *uint256.Int) {
		cur, ok := required[a]
		if !ok {
			cur = new(uint256.Int)
			required[a] = cur
		}
		cur.Add(cur, v)
	}
	for i := range active {
		o := &active[i]
		principal := o.UnexecutedPrincipal()
		// An in-flight slice has already left escrow but is not committed yet.
		if o.Claimed(now) {
			if principal.Lt(&o.AmountPerInterval) {
				principal.Clear()
			} else {
				principal.Sub(&principal, &o.AmountPerInterval)
			}
		}
		need(o.TokenIn, &principal)
		fee := o.UnusedFee()
		need(order.NativeAsset, &fee)
	}

	assets := make([]order.Asset, 0, len(required))
	for a := range required {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Address().Cmp(assets[j].Address()) < 0 })

	report := &Report{Timestamp: time.Now(), ActiveOrders: len(active), Assets: []AssetDiff{}}
	for _, a := range assets {
		req := required[a]
		held, err := s.balances.BalanceOf(ctx, a, s.balances.Escrow())
		if err != nil {
			return nil, fmt.Errorf("escrow balance of %s: %w", a, err)
		}
		diff := AssetDiff{Asset: a.String(), Required: req.Dec(), Held: held.Dec(), Shortfall: "0", OK: true}
		if held.Lt(req) {
			var short uint256.Int
			short.Sub(req, held)
			diff.Shortfall = short.Dec()
			diff.OK = false
			report.HasShortfall = true
		}
		report.Assets = append(report.Assets, diff)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	s.handleReport(report)
	return report, nil
}

// Last returns the most recent report, or nil before the first run.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) handleReport(report *Report) {
	if !report.HasShortfall {
		log.Debug().Int("active_orders", report.ActiveOrders).Msg("reconciliation: escrow covers all orders")
		return
	}
	for _, d := range report.Assets {
		if d.OK {
			continue
		}
		msg := fmt.Sprintf("escrow short on %s: holds %s, owes %s (short %s)", d.Asset, d.Held, d.Required, d.Shortfall)
		log.Error().Str("asset", d.Asset).Str("shortfall", d.Shortfall).Msg("reconciliation: escrow shortfall")
		s.bus.Publish(events.EventAlert, msg)
	}
}
