package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositd_events_total",
			Help: "Total number of repository events received, by filter disposition",
		},
		[]string{"disposition"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "depositd_queue_depth",
			Help: "Number of jobs waiting in the dispatcher queue",
		},
	)

	// Deposit task metrics
	DepositsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositd_deposits_total",
			Help: "Total number of deposit task outcomes",
		},
		[]string{"outcome"},
	)

	DepositTasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "depositd_deposit_tasks_active",
			Help: "Number of deposit tasks currently running",
		},
	)

	DepositDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "depositd_deposit_duration_seconds",
			Help:    "End-to-end duration of a deposit task in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// Assembly metrics
	PackagesAssembledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositd_packages_assembled_total",
			Help: "Total number of packages assembled, by packaging spec",
		},
		[]string{"spec"},
	)

	PackageBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depositd_package_bytes_total",
			Help: "Total package bytes streamed to transports",
		},
	)

	// Transport metrics
	TransportFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositd_transport_failures_total",
			Help: "Total transport failures, by error kind",
		},
		[]string{"kind"},
	)

	// Critical section metrics
	CRIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depositd_cri_retries_total",
			Help: "Total compare-and-set retries inside critical repository interactions",
		},
	)

	// Refresh loop metrics
	RefreshCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "depositd_refresh_cycles_total",
			Help: "Total refresh loop cycles",
		},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "depositd_refresh_duration_seconds",
			Help:    "Duration of one refresh loop cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatusProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositd_status_probes_total",
			Help: "Total status probes, by mapped result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DepositsTotal)
	prometheus.MustRegister(DepositTasksActive)
	prometheus.MustRegister(DepositDuration)
	prometheus.MustRegister(PackagesAssembledTotal)
	prometheus.MustRegister(PackageBytesTotal)
	prometheus.MustRegister(TransportFailuresTotal)
	prometheus.MustRegister(CRIRetriesTotal)
	prometheus.MustRegister(RefreshCyclesTotal)
	prometheus.MustRegister(RefreshDuration)
	prometheus.MustRegister(StatusProbesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
