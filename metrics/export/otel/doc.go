// Package otel exports engine metrics through an OpenTelemetry meter.
//
// Counters keep the names the Prometheus collector uses. Each latency
// histogram becomes a <name>_bucket gauge with an le attribute per bound
// and a <name>_count gauge. Callers own the MeterProvider.
package otel
