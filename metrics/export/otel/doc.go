// Package otel mirrors portalauth engine metrics into OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and
// an Int64ObservableGauge per gate latency bucket on a caller-supplied
// Meter. The caller owns the MeterProvider.
package otel
