package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agrivision/agriauth"
	"github.com/agrivision/agriauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads. *agriauth.Engine satisfies it.
type Source interface {
	MetricsSnapshot() agriauth.MetricsSnapshot
	AuditDropped() uint64
}

type counter struct {
	id agriauth.MetricID
	in metric.Int64ObservableCounter
}

// latency observes one engine histogram as a cumulative bucket gauge
// labelled by le, plus a sample count.
type latency struct {
	id      agriauth.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter holds the callback registration for the engine instruments.
type Exporter struct {
	registration metric.Registration
}

// leOptions carry one precomputed attribute set per engine bucket.
var leOptions = func() []metric.ObserveOption {
	out := make([]metric.ObserveOption, 0, len(internaldefs.HistogramUpperBounds)+1)
	for _, bound := range internaldefs.HistogramUpperBounds {
		out = append(out, metric.WithAttributeSet(attribute.NewSet(
			attribute.String("le", strconv.FormatFloat(bound, 'g', -1, 64)),
		)))
	}
	return append(out, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", "+Inf"))))
}()

// NewExporter registers the engine instruments on meter. A single callback
// takes one snapshot per collection so every series in a cycle agrees.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var (
		counters    = make([]counter, 0, len(internaldefs.CounterDefs))
		latencies   = make([]latency, 0, len(internaldefs.HistogramDefs))
		observables []metric.Observable
	)

	for _, def := range internaldefs.CounterDefs {
		in, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		counters = append(counters, counter{id: def.ID, in: in})
		observables = append(observables, in)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per le bound."),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		latencies = append(latencies, latency{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snapshot := source.MetricsSnapshot()
		for _, c := range counters {
			o.ObserveInt64(c.in, int64(snapshot.Counters[c.id]))
		}
		for _, l := range latencies {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[l.id]))
			for i, opt := range leOptions {
				o.ObserveInt64(l.buckets, int64(cumulative[i]), opt)
			}
			o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
		}
		o.ObserveInt64(dropped, int64(source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	return &Exporter{registration: registration}, nil
}

// Close unregisters the callback. The instruments stay on the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
