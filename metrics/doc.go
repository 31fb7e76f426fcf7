// Package metrics exposes Prometheus collectors for invocations, events,
// registry evictions and HTTP traffic.
//
// The collectors live on a private registry so several Metrics values can
// coexist in one process, which keeps tests isolated. Handler serves the
// registry in the Prometheus text format.
//
// Usage:
//
//	m := metrics.New()
//	m.Register(eng.Callbacks())
//	mux.Handle("GET /metrics", m.Handler())
package metrics
