// Package metrics exposes expvar-published counters and gauges used by the
// lazy dataflow runtime (notifications, requests, block caches and project
// stores). It is consumed by the debug-server command for the /debug/vars and
// /metrics endpoints.
package metrics
