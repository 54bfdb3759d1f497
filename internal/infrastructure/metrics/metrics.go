package metrics

import (
	"expvar"
	"time"
)

// Notification and event metrics using expvar maps keyed by source name.
var (
	notificationsSent = expvar.NewMap("ilastik_notifications_sent_total")
	eventsQueued      = expvar.NewMap("ilastik_events_queued_total")
	eventsDropped     = expvar.NewMap("ilastik_events_dropped_total")
)

// Request / operator metrics keyed by operator name.
var (
	requestsExecuted = expvar.NewMap("ilastik_requests_executed_total")
	requestErrors    = expvar.NewMap("ilastik_request_errors_total")
	requestNanos     = expvar.NewMap("ilastik_request_duration_ns_total")
	setupOutputs     = expvar.NewMap("ilastik_setup_outputs_total")
	dirtyPropagated  = expvar.NewMap("ilastik_dirty_propagated_total")
)

// Block cache metrics keyed by cache name.
var (
	cacheHits    = expvar.NewMap("ilastik_cache_hits_total")
	cacheMisses  = expvar.NewMap("ilastik_cache_misses_total")
	cacheEvicted = expvar.NewMap("ilastik_cache_evicted_total")
	cacheBytes   = expvar.NewMap("ilastik_cache_size_bytes")
)

// Project store metrics keyed by store kind.
var (
	projectSaves = expvar.NewMap("ilastik_project_saves_total")
	projectLoads = expvar.NewMap("ilastik_project_loads_total")
)

// Graph gauges.
var (
	operatorsRegistered = new(expvar.Int)
	requestsInFlight    = new(expvar.Int)
	warningsEmitted     = new(expvar.Int)
)

func init() {
	expvar.Publish("ilastik_operators_registered", operatorsRegistered)
	expvar.Publish("ilastik_requests_in_flight", requestsInFlight)
	expvar.Publish("ilastik_warnings_emitted_total", warningsEmitted)
}

// Notification helpers
func NotificationsSent(source string, n int64) {
	if n > 0 {
		notificationsSent.Add(source, n)
	}
}
func EventQueued(kind string) { eventsQueued.Add(kind, 1) }
func EventDropped(kind string) { eventsDropped.Add(kind, 1) }

// Request helpers
func RequestExecuted(op string, d time.Duration, err error) {
	requestsExecuted.Add(op, 1)
	requestNanos.Add(op, d.Nanoseconds())
	if err != nil {
		requestErrors.Add(op, 1)
	}
}
func RequestStarted() { requestsInFlight.Add(1) }
func RequestFinished() { requestsInFlight.Add(-1) }
func SetupOutputsRun(op string) { setupOutputs.Add(op, 1) }
func DirtyPropagated(op string) { dirtyPropagated.Add(op, 1) }
func OperatorRegistered() { operatorsRegistered.Add(1) }
func OperatorUnregistered(n int) { operatorsRegistered.Add(-int64(n)) }

// Cache helpers
func CacheHit(name string) { cacheHits.Add(name, 1) }
func CacheMiss(name string) { cacheMisses.Add(name, 1) }
func CacheEvicted(name string, n int64) { cacheEvicted.Add(name, n) }
func CacheSizeBytes(name string, v int64) { setMapInt(cacheBytes, name, v) }

// Project helpers
func ProjectSaved(kind string) { projectSaves.Add(kind, 1) }
func ProjectLoaded(kind string) { projectLoads.Add(kind, 1) }

// Logging helpers
func WarningEmitted() { warningsEmitted.Add(1) }

// setMapInt replaces value for a key in an expvar.Map with an *expvar.Int set to v.
func setMapInt(m *expvar.Map, key string, v int64) {
	x := new(expvar.Int)
	x.Set(v)
	m.Set(key, x)
}
