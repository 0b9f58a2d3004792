// Package metrics exposes this module's Prometheus metrics: session
// lifecycle gauges, event-queue and result-cache depth, query gate wait
// times, Raft leadership/applied-index, and client RPC outcome/retry
// counters.
//
// Collector polls a Source (pkg/service.Host implements it) on an interval
// and republishes its ServiceSnapshot as gauges. Handler returns the
// standard promhttp scrape handler; HealthHandler/ReadyHandler/
// LivenessHandler back a process's /health, /ready, and /live endpoints from
// the component registry in health.go.
package metrics
