package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks engine, keeper and API performance.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	ExecutionLatency *LatencyHistogram
	VenueLatency     *LatencyHistogram
	DBLatency        *LatencyHistogram
	APILatency       *LatencyHistogram

	// Counters
	ordersCreated     uint64
	ordersCancelled   uint64
	intervalsExecuted uint64
	executionFailures uint64
	lostRaces         uint64
	swaps             uint64
	slippageRejects   uint64
	venueErrors       uint64
	apiRequests       uint64
	apiErrors         uint64
	errorsCount       uint64

	// Gauges updated by the keeper loop.
	activeOrders int
	queueDepth   int
	keeperLeader bool

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next Record.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ExecutionLatency: NewLatencyHistogram(1000),
		VenueLatency:     NewLatencyHistogram(1000),
		DBLatency:        NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
		startedAt:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementOrdersCreated()     { atomic.AddUint64(&m.ordersCreated, 1) }
func (m *SystemMetrics) IncrementOrdersCancelled()   { atomic.AddUint64(&m.ordersCancelled, 1) }
func (m *SystemMetrics) IncrementIntervals()         { atomic.AddUint64(&m.intervalsExecuted, 1) }
func (m *SystemMetrics) IncrementExecutionFailures() { atomic.AddUint64(&m.executionFailures, 1) }
func (m *SystemMetrics) IncrementLostRaces()         { atomic.AddUint64(&m.lostRaces, 1) }
func (m *SystemMetrics) IncrementSwaps()             { atomic.AddUint64(&m.swaps, 1) }
func (m *SystemMetrics) IncrementSlippageRejects()   { atomic.AddUint64(&m.slippageRejects, 1) }
func (m *SystemMetrics) IncrementVenueErrors()       { atomic.AddUint64(&m.venueErrors, 1) }
func (m *SystemMetrics) IncrementAPI()               { atomic.AddUint64(&m.apiRequests, 1) }
func (m *SystemMetrics) IncrementAPIErrors()         { atomic.AddUint64(&m.apiErrors, 1) }
func (m *SystemMetrics) IncrementErrors()            { atomic.AddUint64(&m.errorsCount, 1) }

// SetKeeperGauges updates the keeper-loop gauges.
func (m *SystemMetrics) SetKeeperGauges(activeOrders, queueDepth int, leader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrders = activeOrders
	m.queueDepth = queueDepth
	m.keeperLeader = leader
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	ExecutionLatency  LatencyStats `json:"execution_latency"`
	VenueLatency      LatencyStats `json:"venue_latency"`
	DBLatency         LatencyStats `json:"db_latency"`
	APILatency        LatencyStats `json:"api_latency"`
	OrdersCreated     uint64       `json:"orders_created"`
	OrdersCancelled   uint64       `json:"orders_cancelled"`
	IntervalsExecuted uint64       `json:"intervals_executed"`
	ExecutionFailures uint64       `json:"execution_failures"`
	LostRaces         uint64       `json:"lost_races"`
	Swaps             uint64       `json:"swaps"`
	SlippageRejects   uint64       `json:"slippage_rejects"`
	VenueErrors       uint64       `json:"venue_errors"`
	APIRequests       uint64       `json:"api_requests"`
	APIErrors         uint64       `json:"api_errors"`
	ErrorsCount       uint64       `json:"errors_count"`
	ActiveOrders      int          `json:"active_orders"`
	QueueDepth        int          `json:"queue_depth"`
	KeeperLeader      bool         `json:"keeper_leader"`
	GoroutineCount    int          `json:"goroutine_count"`
	HeapAlloc         uint64       `json:"heap_alloc_bytes"`
	HeapSys           uint64       `json:"heap_sys_bytes"`
	UptimeSeconds     int64        `json:"uptime_seconds"`
	Timestamp         time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	active, depth, leader := m.activeOrders, m.queueDepth, m.keeperLeader
	m.mu.RUnlock()

	return MetricsSnapshot{
		ExecutionLatency:  m.ExecutionLatency.Stats(),
		VenueLatency:      m.VenueLatency.Stats(),
		DBLatency:         m.DBLatency.Stats(),
		APILatency:        m.APILatency.Stats(),
		OrdersCreated:     atomic.LoadUint64(&m.ordersCreated),
		OrdersCancelled:   atomic.LoadUint64(&m.ordersCancelled),
		IntervalsExecuted: atomic.LoadUint64(&m.intervalsExecuted),
		ExecutionFailures: atomic.LoadUint64(&m.executionFailures),
		LostRaces:         atomic.LoadUint64(&m.lostRaces),
		Swaps:             atomic.LoadUint64(&m.swaps),
		SlippageRejects:   atomic.LoadUint64(&m.slippageRejects),
		VenueErrors:       atomic.LoadUint64(&m.venueErrors),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		APIErrors:         atomic.LoadUint64(&m.apiErrors),
		ErrorsCount:       atomic.LoadUint64(&m.errorsCount),
		ActiveOrders:      active,
		QueueDepth:        depth,
		KeeperLeader:      leader,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		HeapSys:           memStats.HeapSys,
		UptimeSeconds:     int64(time.Since(m.startedAt).Seconds()),
		Timestamp:         time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
