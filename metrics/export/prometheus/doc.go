// Package prometheus renders login hook engine metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads [loginhook.Engine.MetricsSnapshot] on every
// scrape. Counters are named loginhook_*_total and the latency histogram is
// loginhook_dispatch_latency_seconds.
//
// Nothing is registered in a global registry; callers mount the Handler.
package prometheus
