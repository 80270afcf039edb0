/*
Package metrics exposes Prometheus metrics and a health endpoint.

Metrics cover the whole pipeline: events received and filtered, dispatcher
queue depth, deposit task outcomes and durations, packages assembled and
bytes streamed, transport failures by kind, compare-and-set retries, and
refresh loop cycles with probe results.

The Timer helper times an operation and feeds a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DepositDuration)

Handler serves /metrics; HealthHandler serves /healthz with per-component
health reported by the loops.
*/
package metrics
