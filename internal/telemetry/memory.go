package telemetry

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Sink backed by atomic counters. It is safe for
// concurrent use from all pipeline workers.
type Memory struct {
	mu         sync.RWMutex
	counters   map[string]*uint64
	gauges     map[string]*uint64 // float64 bits
	histograms map[string]*LatencyStats
}

// NewMemory allocates an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{
		counters:   make(map[string]*uint64),
		gauges:     make(map[string]*uint64),
		histograms: make(map[string]*LatencyStats),
	}
}

// IncCounter adds delta to the named counter
func (m *Memory) IncCounter(name string, delta uint64) {
	atomic.AddUint64(m.counter(name), delta)
}

// ObserveLatency records a duration sample for the named histogram
func (m *Memory) ObserveLatency(name string, d time.Duration) {
	m.histogram(name).Observe(d)
}

// SetGauge sets the named gauge to value
func (m *Memory) SetGauge(name string, value float64) {
	atomic.StoreUint64(m.gauge(name), math.Float64bits(value))
}

// Counter returns the current value of the named counter
func (m *Memory) Counter(name string) uint64 {
	return atomic.LoadUint64(m.counter(name))
}

// Gauge returns the current value of the named gauge
func (m *Memory) Gauge(name string) float64 {
	return math.Float64frombits(atomic.LoadUint64(m.gauge(name)))
}

// Latency returns a point-in-time view of the named histogram
func (m *Memory) Latency(name string) LatencySnapshot {
	return m.histogram(name).Snapshot()
}

func (m *Memory) counter(name string) *uint64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = new(uint64)
		m.counters[name] = c
	}
	return c
}

func (m *Memory) gauge(name string) *uint64 {
	m.mu.RLock()
	g, ok := m.gauges[name]
	m.mu.RUnlock()
	if ok {
		return g
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok = m.gauges[name]; !ok {
		g = new(uint64)
		m.gauges[name] = g
	}
	return g
}

func (m *Memory) histogram(name string) *LatencyStats {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.histograms[name]; !ok {
		h = &LatencyStats{}
		m.histograms[name] = h
	}
	return h
}

// LatencyStats aggregates duration samples in nanoseconds
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records a duration sample
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
