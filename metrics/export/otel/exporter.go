package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() portalauth.MetricsSnapshot
	AuditDropped() uint64
}

// intSeries is one integer instrument plus the function that reads its
// value out of a snapshot. ok=false skips the observation.
type intSeries struct {
	instrument metric.Int64Observable
	read       func(portalauth.MetricsSnapshot) (int64, bool)
}

type floatSeries struct {
	instrument metric.Float64Observable
	read       func(portalauth.MetricsSnapshot) (float64, bool)
}

// Exporter mirrors engine metrics into OpenTelemetry observable
// instruments. Histograms are flattened into one cumulative gauge per
// bucket plus _count and _sum gauges. A single callback takes one snapshot
// per collection cycle.
type Exporter struct {
	source       metricsSource
	ints         []intSeries
	floats       []floatSeries
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

func NewExporter(meter metric.Meter, engine *portalauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	if err := e.addCounters(meter); err != nil {
		return nil, err
	}
	if err := e.addHistograms(meter); err != nil {
		return nil, err
	}

	var err error
	e.auditDropped, err = meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", internaldefs.AuditDroppedName, err)
	}

	observables := []metric.Observable{e.auditDropped}
	for _, s := range e.ints {
		observables = append(observables, s.instrument)
	}
	for _, s := range e.floats {
		observables = append(observables, s.instrument)
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) addCounters(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return fmt.Errorf("create %s: %w", def.Name, err)
		}
		id := def.ID
		e.ints = append(e.ints, intSeries{
			instrument: ins,
			read: func(s portalauth.MetricsSnapshot) (int64, bool) {
				return int64(s.Counters[id]), true
			},
		})
	}
	return nil
}

func (e *Exporter) addHistograms(meter metric.Meter) error {
	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		cumulative := func(s portalauth.MetricsSnapshot) ([]uint64, bool) {
			raw, ok := s.Histograms[id]
			if !ok {
				return nil, false
			}
			return internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw)), true
		}

		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			bucket := i
			e.ints = append(e.ints, intSeries{
				instrument: ins,
				read: func(s portalauth.MetricsSnapshot) (int64, bool) {
					c, ok := cumulative(s)
					if !ok {
						return 0, false
					}
					return int64(c[bucket]), true
				},
			})
		}

		count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return fmt.Errorf("create %s_count: %w", def.Name, err)
		}
		e.ints = append(e.ints, intSeries{
			instrument: count,
			read: func(s portalauth.MetricsSnapshot) (int64, bool) {
				c, ok := cumulative(s)
				if !ok {
					return 0, false
				}
				return int64(c[len(c)-1]), true
			},
		})

		sum, err := meter.Float64ObservableGauge(def.Name+"_sum",
			metric.WithDescription("Histogram total observed time."),
			metric.WithUnit("s"),
		)
		if err != nil {
			return fmt.Errorf("create %s_sum: %w", def.Name, err)
		}
		e.floats = append(e.floats, floatSeries{
			instrument: sum,
			read: func(s portalauth.MetricsSnapshot) (float64, bool) {
				d, ok := s.HistogramSums[id]
				return d.Seconds(), ok
			},
		})
	}
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, s := range e.ints {
		if v, ok := s.read(snapshot); ok {
			o.ObserveInt64(s.instrument, v)
		}
	}
	for _, s := range e.floats {
		if v, ok := s.read(snapshot); ok {
			o.ObserveFloat64(s.instrument, v)
		}
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The Meter stays owned by the caller.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
