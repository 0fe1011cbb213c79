// Package prometheus renders goGate engine counters and the authenticate
// latency histogram in the Prometheus text exposition format.
//
// Mount Exporter.Handler on a metrics route. Counters are named gogate_*_total
// and the histogram is gogate_authenticate_latency_seconds. Nothing is
// registered globally and engine state is only read.
package prometheus
