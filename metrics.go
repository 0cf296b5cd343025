package portalauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricCodeSent
	MetricCodeRejected
	MetricCodeExhausted
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricReplayDetected counts presentations of rotated or mismatched
	// refresh secrets.
	MetricReplayDetected
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricLogoutAll
	MetricGateAllowed
	MetricGateForbidden
	// MetricGateSessionMissing counts gate checks that found no cache entry.
	MetricGateSessionMissing
	MetricCacheUnavailable
	MetricAccountStatusChanged
	// MetricGateLatency is the only histogram-backed metric.
	MetricGateLatency
	metricIDCount
)

// The gate does one token verification and one Redis GET, so its buckets
// sit in the sub-millisecond range.
var gateLatencyBounds = [...]time.Duration{
	250 * time.Microsecond,
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
}

// HistogramBuckets is the number of buckets in a snapshot histogram: one
// per bound plus the overflow bucket.
const HistogramBuckets = len(gateLatencyBounds) + 1

const cacheLineSize = 64

// GateLatencyBounds returns the finite upper bounds of the gate latency
// histogram, smallest first.
func GateLatencyBounds() []time.Duration {
	out := make([]time.Duration, len(gateLatencyBounds))
	copy(out, gateLatencyBounds[:])
	return out
}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

type latencyHistogram struct {
	buckets [HistogramBuckets]atomic.Uint64
	sumNs   atomic.Uint64
}

func (h *latencyHistogram) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i := 0
	for i < len(gateLatencyBounds) && d > gateLatencyBounds[i] {
		i++
	}
	h.buckets[i].Add(1)
	h.sumNs.Add(uint64(d))
}

// Metrics is a fixed set of lock-free counters. Each counter sits on its own
// cache line. A nil or disabled Metrics ignores all updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	gate          latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histograms hold
// HistogramBuckets non-cumulative counts laid out against
// GateLatencyBounds; HistogramSums holds the total observed time.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records a latency sample. Only MetricGateLatency is histogram-backed.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricGateLatency {
		return
	}
	m.gate.observe(d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = m.gate.buckets[i].Load()
		}
		s.Histograms[MetricGateLatency] = buckets
		s.HistogramSums[MetricGateLatency] = time.Duration(m.gate.sumNs.Load())
	}
	return s
}
