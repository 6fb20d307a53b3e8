package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visibility_aggregation_duration_seconds",
			Help:    "Time spent building the per-question visibility rows",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	ViewComposeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visibility_view_compose_duration_seconds",
			Help:    "Time spent filtering, scoring and paginating a view",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"deferred"},
	)

	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_checks_total",
			Help: "LLM checks executed by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_batch_runs_total",
			Help: "Batch runs reaching a terminal state",
		},
		[]string{"status"},
	)

	BatchRunsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_batch_runs_rejected_total",
			Help: "Batch start requests rejected by a precondition",
		},
		[]string{"reason"},
	)

	PollTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visibility_poll_ticks_total",
			Help: "Status poll requests issued by active pollers",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_cache_hits_total",
			Help: "View cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visibility_cache_misses_total",
			Help: "View cache misses",
		},
		[]string{"cache_type"},
	)

	CreditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visibility_credits_refunded_total",
			Help: "Credits returned for checks that could not run",
		},
	)
)

func Init() {
	prometheus.MustRegister(AggregationDuration)
	prometheus.MustRegister(ViewComposeDuration)
	prometheus.MustRegister(ChecksTotal)
	prometheus.MustRegister(BatchRunsTotal)
	prometheus.MustRegister(BatchRunsRejected)
	prometheus.MustRegister(PollTicks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CreditsRefunded)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
