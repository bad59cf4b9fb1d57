package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pinclab/derived-image-qa/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the review queue.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	acquisitions    prometheus.Counter
	conflicts       prometheus.Counter
	releases        *prometheus.CounterVec
	submissions     prometheus.Counter
	skippedMissing  prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	dbQueryDuration *prometheus.HistogramVec
}

// NewMetricsService registers the queue and HTTP collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	acquisitions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qa_acquisitions_total",
		Help: "Records successfully locked by a review session",
	})

	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qa_assignment_conflicts_total",
		Help: "Lock attempts lost to a concurrent session",
	})

	releases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qa_releases_total",
		Help: "Locked records released, by outcome",
	}, []string{"outcome"})

	submissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qa_reviews_submitted_total",
		Help: "Completed review submissions",
	})

	skippedMissing := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qa_records_skipped_missing_total",
		Help: "Records parked because their source files were absent",
	})

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qa_queue_depth",
		Help: "Number of queue records per status",
	}, []string{"status"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, acquisitions, conflicts,
		releases, submissions, skippedMissing, queueDepth, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		acquisitions:    acquisitions,
		conflicts:       conflicts,
		releases:        releases,
		submissions:     submissions,
		skippedMissing:  skippedMissing,
		queueDepth:      queueDepth,
		dbQueryDuration: dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records admin API request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordAcquisition counts a successful record lock.
func (m *MetricsService) RecordAcquisition() {
	if m == nil {
		return
	}
	m.acquisitions.Inc()
}

// RecordConflict counts a lock attempt lost to another session.
func (m *MetricsService) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RecordRelease counts a release by its outcome.
func (m *MetricsService) RecordRelease(outcome models.ReleaseOutcome) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(string(outcome)).Inc()
}

// RecordSubmission counts a completed review.
func (m *MetricsService) RecordSubmission() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

// RecordSkippedMissing counts a record parked for absent source files.
func (m *MetricsService) RecordSkippedMissing() {
	if m == nil {
		return
	}
	m.skippedMissing.Inc()
}

// SetQueueDepth publishes the per-status record counts.
func (m *MetricsService) SetQueueDepth(counts map[models.Status]int) {
	if m == nil {
		return
	}
	for _, status := range models.AllStatuses() {
		m.queueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
