package portalauth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/principal"
)

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		m.Inc(MetricGateAllowed)
	}
}

func BenchmarkMetricsIncDisabledParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricGateAllowed)
		}
	})
}

func BenchmarkMetricsObserveGateLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	d := 300 * time.Microsecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricGateLatency, d)
		}
	})
}

type packedBenchmarkMetrics struct {
	counters [metricIDCount]uint64
}

func (m *packedBenchmarkMetrics) Inc(id MetricID) {
	atomic.AddUint64(&m.counters[id], 1)
}

// The counters a busy portal touches on nearly every request.
var requestPathMetricIDs = [...]MetricID{
	MetricGateAllowed,
	MetricGateForbidden,
	MetricGateSessionMissing,
	MetricRefreshSuccess,
	MetricSessionCreated,
	MetricSessionRevoked,
}

func BenchmarkMetricsIncRequestPathPadded(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(requestPathMetricIDs[idx])
			idx = (idx + 1) % len(requestPathMetricIDs)
		}
	})
}

func BenchmarkMetricsIncRequestPathPacked(b *testing.B) {
	m := &packedBenchmarkMetrics{}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(requestPathMetricIDs[idx])
			idx = (idx + 1) % len(requestPathMetricIDs)
		}
	})
}

func BenchmarkAuthorize(b *testing.B) {
	env := newTestEnv(b, testConfig(), nil)
	env.seed(b, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(b, "asha@uni.edu")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:read"); err != nil {
			b.Fatalf("Authorize: %v", err)
		}
	}
}

func BenchmarkAuthorizeParallel(b *testing.B) {
	env := newTestEnv(b, testConfig(), nil)
	env.seed(b, "p-1", "asha@uni.edu", principal.StatusActive)
	res := env.login(b, "asha@uni.edu")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := env.engine.Authorize(ctx, res.AccessToken, "notice:read"); err != nil {
				b.Errorf("Authorize: %v", err)
				return
			}
		}
	})
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b, testConfig(), nil)
	env.seed(b, "p-1", "asha@uni.edu", principal.StatusActive)
	credential := encodeCredential(b, env.login(b, "asha@uni.edu").Credential)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := env.engine.Refresh(ctx, credential)
		if err != nil {
			b.Fatalf("Refresh: %v", err)
		}
		credential = encodeCredential(b, res.Credential)
	}
}
