// Package prometheus publishes portalauth engine metrics through
// client_golang.
//
// [Collector] implements prometheus.Collector over Engine.MetricsSnapshot:
// counters become portalauth_*_total series and the gate latency buckets
// become the portalauth_gate_latency_seconds histogram. Register it on the
// registry the binary serves, or use [Handler] for a private registry.
package prometheus
