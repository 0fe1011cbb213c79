// Package otel publishes goGate engine metrics through an OpenTelemetry Meter.
//
// New registers an Int64ObservableCounter for every engine counter and an
// Int64ObservableGauge for every latency bucket. One callback reads
// Engine.MetricsSnapshot per collection. The caller owns the MeterProvider.
package otel
