package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	apiRequestsTotal      *prometheus.CounterVec
	apiLatencySeconds     *prometheus.HistogramVec
	apiErrorsTotal        *prometheus.CounterVec
	submissionsCreated    *prometheus.CounterVec
	updatesPublished      *prometheus.CounterVec
	judgeJobDuration      *prometheus.HistogramVec
	updateStreamConnected prometheus.Counter
	updateStreamActive    prometheus.Gauge
	updatesDropped        prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the lab API and judge.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		submissionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_submissions_created_total",
			Help: "Submissions accepted for judging, by type.",
		}, []string{"type"})

		updatesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lab_submission_updates_published_total",
			Help: "Submission status updates published, by status and transport.",
		}, []string{"status", "transport"})

		judgeJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lab_judge_job_duration_seconds",
			Help:    "Time spent judging a submission, by type and verdict.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"type", "status"})

		updateStreamConnected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_ws_connections_total",
			Help: "Total number of update stream connections accepted.",
		})

		updateStreamActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lab_ws_connections_active",
			Help: "Update stream connections currently open.",
		})

		updatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lab_ws_updates_dropped_total",
			Help: "Updates dropped because a subscriber was too slow.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			submissionsCreated,
			updatesPublished,
			judgeJobDuration,
			updateStreamConnected,
			updateStreamActive,
			updatesDropped,
		)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the request latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the error response counter.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// SubmissionsCreated counts accepted submissions.
func SubmissionsCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsCreated
}

// UpdatesPublished counts published status updates.
func UpdatesPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return updatesPublished
}

// JudgeJobDuration observes judging time.
func JudgeJobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return judgeJobDuration
}

// UpdateStreamConnections counts accepted update stream connections.
func UpdateStreamConnections() prometheus.Counter {
	RegisterMetrics()
	return updateStreamConnected
}

// UpdateStreamActive tracks open update stream connections.
func UpdateStreamActive() prometheus.Gauge {
	RegisterMetrics()
	return updateStreamActive
}

// UpdatesDropped counts updates dropped for slow subscribers.
func UpdatesDropped() prometheus.Counter {
	RegisterMetrics()
	return updatesDropped
}
