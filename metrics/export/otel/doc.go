// Package otel publishes credguard engine metrics as OpenTelemetry
// observable instruments.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. One callback reads Engine.MetricsSnapshot per
// collection cycle. The caller owns the MeterProvider.
package otel
