// Package prometheus exposes engine metrics as a client_golang collector.
//
// [NewCollector] wraps an [agriauth.Engine]. Register it on a
// prometheus.Registerer, or mount [Collector.Handler] directly. Counter
// names are agriauth_*_total; latency histograms are present only when
// the engine records them.
//
// The collector never registers itself on the global registry.
package prometheus
