package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks engine throughput and latency.
type Metrics struct {
	// Latency histograms
	TickLatency   *LatencyHistogram
	SignalLatency *LatencyHistogram

	ticks           atomic.Uint64
	recoveredPanics atomic.Uint64
	signals         atomic.Uint64
	executed        atomic.Uint64
	rejected        atomic.Uint64
	failed          atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersFailed    atomic.Uint64
	stopsMoved      atomic.Uint64
	closes          atomic.Uint64
	halts           atomic.Uint64
	disconnects     atomic.Uint64
	alerts          atomic.Uint64

	mu         sync.RWMutex
	rejections map[string]uint64
	started    time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		TickLatency:   NewLatencyHistogram(1000),
		SignalLatency: NewLatencyHistogram(1000),
		rejections:    make(map[string]uint64),
		started:       time.Now(),
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
		// Shift window: remove oldest
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

func (m *Metrics) rejectedFor(reason string) {
	m.rejected.Add(1)
	if reason == "" {
		reason = "unknown"
	}
	m.mu.Lock()
	m.rejections[reason]++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	TickLatency     LatencyStats      `json:"tick_latency_ms"`
	SignalLatency   LatencyStats      `json:"signal_latency_ms"`
	Ticks           uint64            `json:"ticks"`
	RecoveredPanics uint64            `json:"recovered_panics"`
	Signals         uint64            `json:"signals"`
	Executed        uint64            `json:"executed"`
	Rejected        uint64            `json:"rejected"`
	Failed          uint64            `json:"failed"`
	Rejections      map[string]uint64 `json:"rejections"`
	OrdersPlaced    uint64            `json:"orders_placed"`
	OrdersFailed    uint64            `json:"orders_failed"`
	StopsMoved      uint64            `json:"stops_moved"`
	Closes          uint64            `json:"closes"`
	Halts           uint64            `json:"halts"`
	Disconnects     uint64            `json:"disconnects"`
	Alerts          uint64            `json:"alerts"`
	BusDropped      int64             `json:"bus_dropped"`
	Uptime          string            `json:"uptime"`
	GoroutineCount  int               `json:"goroutine_count"`
	HeapAlloc       uint64            `json:"heap_alloc_bytes"`
	HeapSys         uint64            `json:"heap_sys_bytes"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Snapshot returns a point-in-time metrics snapshot.
func (m *Metrics) Snapshot() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	rejections := make(map[string]uint64, len(m.rejections))
	for k, v := range m.rejections {
		rejections[k] = v
	}
	m.mu.RUnlock()

	return Snapshot{
		TickLatency:     m.TickLatency.Stats(),
		SignalLatency:   m.SignalLatency.Stats(),
		Ticks:           m.ticks.Load(),
		RecoveredPanics: m.recoveredPanics.Load(),
		Signals:         m.signals.Load(),
		Executed:        m.executed.Load(),
		Rejected:        m.rejected.Load(),
		Failed:          m.failed.Load(),
		Rejections:      rejections,
		OrdersPlaced:    m.ordersPlaced.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		StopsMoved:      m.stopsMoved.Load(),
		Closes:          m.closes.Load(),
		Halts:           m.halts.Load(),
		Disconnects:     m.disconnects.Load(),
		Alerts:          m.alerts.Load(),
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}
