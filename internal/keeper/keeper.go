// Package keeper periodically finds due TWAP orders and executes their next interval.
package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"twap-core/internal/events"
	"twap-core/internal/monitor"
	"twap-core/internal/order"
)

// Scanner lists orders eligible right now.
type Scanner interface {
	ListExecutableNow(ctx context.Context) ([]uint64, error)
}

// ActiveCounter reports how many orders are active, for the gauge.
type ActiveCounter interface {
	ListActive(ctx context.Context) ([]order.Order, error)
}

// Config tunes the keeper loop.
type Config struct {
	ScanInterval time.Duration
	Workers      int
	QueueSize    int
	Address      common.Address // receives execution fees
}

// Keeper scans for due orders, queues them and executes them on a worker pool.
type Keeper struct {
	cfg     Config
	scanner Scanner
	active  ActiveCounter
	queue   *order.Queue
	exec    *order.AsyncExecutor
	lease   Lease
	metrics *monitor.SystemMetrics
	rules   *monitor.RuleEvaluator
	bus     *events.Bus

	mu     sync.Mutex
	t      *tomb.Tomb
	leader bool
}

// New wires a keeper. lease may be nil for a single replica; rules may be nil.
func New(cfg Config, scanner Scanner, active ActiveCounter, executor order.IntervalExecutor, clock order.Clock,
	lease Lease, metrics *monitor.SystemMetrics, rules *monitor.RuleEvaluator, bus *events.Bus) *Keeper {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if lease == nil {
		lease = Solo{}
	}
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	return &Keeper{
		cfg:     cfg,
		scanner: scanner,
		active:  active,
		queue:   order.NewQueue(cfg.QueueSize),
		exec:    order.NewAsyncExecutor(executor, clock, cfg.Address, cfg.Workers),
		lease:   lease,
		metrics: metrics,
		rules:   rules,
		bus:     bus,
	}
}

// Start launches the scan, drain and result loops.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.t != nil {
		return
	}
	t, ctx := tomb.WithContext(ctx)
	k.t = t

	t.Go(func() error {
		k.queue.Drain(ctx, func(id uint64) { k.exec.ExecuteAsync(ctx, id) })
		return nil
	})
	t.Go(func() error { return k.collect(t) })
	t.Go(func() error { return k.scanLoop(ctx, t) })

	log.Info().
		Str("keeper", k.cfg.Address.Hex()).
		Dur("interval", k.cfg.ScanInterval).
		Int("workers", k.cfg.Workers).
		Msg("keeper started")
}

// Stop ends the loops, waits for in-flight executions and gives up the lease.
func (k *Keeper) Stop() error {
	k.mu.Lock()
	t := k.t
	k.mu.Unlock()
	if t == nil {
		return nil
	}
	t.Kill(nil)
	err := t.Wait()

	k.exec.Close()
	for r := range k.exec.Results() {
		k.record(r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if rerr := k.lease.Release(ctx); rerr != nil {
		log.Warn().Err(rerr).Msg("keeper lease release failed")
	}
	log.Info().Msg("keeper stopped")
	return err
}

func (k *Keeper) scanLoop(ctx context.Context, t *tomb.Tomb) error {
	ticker := time.NewTicker(k.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		if _, err := k.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("keeper scan failed")
		}
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
		}
	}
}

// ScanOnce enqueues every due order if this replica holds the lease. It returns the
// number of ids newly queued.
func (k *Keeper) ScanOnce(ctx context.Context) (int, error) {
	leader, err := k.lease.Acquire(ctx)
	if err != nil {
		leader = false
	}
	k.setLeader(leader)
	if !leader {
		k.updateGauges(ctx)
		return 0, err
	}

	ids, err := k.scanner.ListExecutableNow(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if k.queue.Enqueue(id) {
			queued++
		}
	}
	if queued > 0 {
		log.Debug().Int("due", len(ids)).Int("queued", queued).Msg("keeper scan")
	}
	k.updateGauges(ctx)
	k.evaluateRules()
	return queued, nil
}

func (k *Keeper) setLeader(leader bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if leader != k.leader {
		log.Info().Bool("leader", leader).Msg("keeper leadership changed")
	}
	k.leader = leader
}

// Leader reports whether the last scan held the lease.
func (k *Keeper) Leader() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.leader
}

func (k *Keeper) updateGauges(ctx context.Context) {
	active := 0
	if k.active != nil {
		if orders, err := k.active.ListActive(ctx); err == nil {
			active = len(orders)
		}
	}
	k.metrics.SetKeeperGauges(active, k.queue.Len()+k.exec.Pending(), k.Leader())
}

func (k *Keeper) evaluateRules() {
	if k.rules == nil {
		return
	}
	for _, msg := range k.rules.Check(k.metrics.GetSnapshot()) {
		log.Warn().Str("rule", msg).Msg("keeper health rule fired")
		k.bus.Publish(events.EventAlert, msg)
	}
}

func (k *Keeper) collect(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case r, ok := <-k.exec.Results():
			if !ok {
				return nil
			}
			k.record(r)
		}
	}
}

func (k *Keeper) record(r order.ExecutionResult) {
	switch {
	case r.Success:
		k.metrics.IncrementIntervals()
		k.metrics.ExecutionLatency.RecordDuration(r.Latency)
	case errors.Is(r.Error, order.ErrOrderNotExecutable):
		k.metrics.IncrementLostRaces()
	default:
		k.metrics.IncrementExecutionFailures()
	}
}
