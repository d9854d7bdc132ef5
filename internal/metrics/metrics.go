// Package metrics exposes Prometheus collectors for the article pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal         *prometheus.CounterVec
	keyRotationsTotal          prometheus.Counter
	articlesRejectedTotal      *prometheus.CounterVec
	articlesAcceptedTotal      *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	stageRecordsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_requests_total",
				Help: "Upstream article API requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		keyRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_key_rotations_total",
				Help: "Total API key rotations caused by auth or rate-limit failures.",
			},
		)

		articlesRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_articles_rejected_total",
				Help: "Fetched articles dropped during cleaning, labeled by reason.",
			},
			[]string{"reason"},
		)

		articlesAcceptedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_articles_accepted_total",
				Help: "Fetched articles accepted after cleaning, labeled by topic kind.",
			},
			[]string{"topic_kind"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage and status.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"stage", "status"},
		)

		stageRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_stage_records_total",
				Help: "Records written by each pipeline stage.",
			},
			[]string{"stage"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchRequest counts one upstream request.
func ObserveFetchRequest(endpoint, outcome string) {
	Init()
	fetchRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveKeyRotation counts one key rotation.
func ObserveKeyRotation() {
	Init()
	keyRotationsTotal.Inc()
}

// ObserveRejected counts an article dropped while cleaning.
func ObserveRejected(reason string) {
	Init()
	articlesRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveAccepted counts an article that survived cleaning.
func ObserveAccepted(topicKind string) {
	Init()
	articlesAcceptedTotal.WithLabelValues(topicKind).Inc()
}

// ObserveStage records how long a stage took and how it ended.
func ObserveStage(stage, status string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// AddStageRecords adds n written records to the stage counter.
func AddStageRecords(stage string, n int) {
	if n <= 0 {
		return
	}
	Init()
	stageRecordsTotal.WithLabelValues(stage).Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
