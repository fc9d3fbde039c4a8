// Package prometheus renders credguard engine metrics in the Prometheus text
// exposition format.
//
// Counter names are prefixed credguard_ and end in _total; the single
// histogram is credguard_hash_latency_seconds. Callers mount
// [PrometheusExporter.Handler] themselves; nothing is registered globally.
package prometheus
