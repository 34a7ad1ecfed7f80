package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	adapterLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "adapter",
			Name:      "loads_total",
			Help:      "Adapter tokenizer loads by result",
		},
		[]string{"result"},
	)

	adapterLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tokpool",
			Subsystem: "adapter",
			Name:      "load_duration_seconds",
			Help:      "Duration of adapter tokenizer loads in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	adapterEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "adapter",
			Name:      "evictions_total",
			Help:      "Adapter tokenizers evicted to stay within capacity",
		},
	)

	adapterCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokpool",
			Subsystem: "adapter",
			Name:      "cache_entries",
			Help:      "Adapter tokenizers currently cached",
		},
	)

	encodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tokpool",
			Subsystem: "encode",
			Name:      "duration_seconds",
			Help:      "Duration of encode requests in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"target"},
	)

	encodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "encode",
			Name:      "errors_total",
			Help:      "Failed encode requests by reason",
		},
		[]string{"reason"},
	)

	dispatchRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "dispatch",
			Name:      "rejections_total",
			Help:      "Encode jobs rejected by the worker pool, by stage",
		},
		[]string{"stage"},
	)

	workerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tokpool",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Encode workers restarted after failure",
		},
	)

	workersHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokpool",
			Subsystem: "worker",
			Name:      "healthy",
			Help:      "Encode workers currently running",
		},
	)

	poolHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tokpool",
			Name:      "healthy",
			Help:      "1 when the last health check passed, 0 otherwise",
		},
	)
)

func init() {
	prometheus.MustRegister(
		adapterLoadsTotal, adapterLoadDuration, adapterEvictionsTotal, adapterCacheEntries,
		encodeDuration, encodeErrorsTotal, dispatchRejectionsTotal,
		workerRestartsTotal, workersHealthy, poolHealthy,
	)
}

// errorReason maps an encode error to a low-cardinality label value.
func errorReason(err error) string {
	switch {
	case IsAdapterLoad(err):
		return "adapter_load"
	case IsContextLengthExceeded(err):
		return "context_length"
	case IsPoolUnhealthy(err):
		return "unhealthy"
	case isContextErr(err):
		return "canceled"
	default:
		return "tokenizer"
	}
}
