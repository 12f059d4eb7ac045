// Package metrics defines the Prometheus collectors exported by safestride.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "safestride"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	AnalyzeDuration prometheus.Histogram
	Recommendations *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	Trainings       *prometheus.CounterVec
	Outliers        *prometheus.CounterVec
	ActiveProfiles  prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		AnalyzeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "analyze_duration_seconds",
			Help:      "Time spent ingesting, retraining and scoring one sample",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs to ~1.6s
		}),
		Recommendations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "recommendations_total",
			Help:      "Analyses by recommended action",
		}, []string{"recommendation"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Engine operation failures by kind",
		}, []string{"kind"}),
		Trainings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "trainings_total",
			Help:      "Detector refits by signal",
		}, []string{"signal"}),
		Outliers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "outliers_total",
			Help:      "Signal values beyond the detector's contamination threshold",
		}, []string{"signal"}),
		ActiveProfiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_profiles",
			Help:      "Number of user profiles held in memory",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"method", "route"}),
	}
}

// ObserveAnalysis records a completed analysis.
func (m *Metrics) ObserveAnalysis(d time.Duration, recommendation string) {
	if m == nil {
		return
	}
	m.AnalyzeDuration.Observe(d.Seconds())
	m.Recommendations.WithLabelValues(recommendation).Inc()
}

// RecordError counts a failed engine operation.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

// RecordTraining counts a detector refit.
func (m *Metrics) RecordTraining(signal string) {
	if m == nil {
		return
	}
	m.Trainings.WithLabelValues(signal).Inc()
}

// RecordOutlier counts a signal value flagged as an outlier.
func (m *Metrics) RecordOutlier(signal string) {
	if m == nil {
		return
	}
	m.Outliers.WithLabelValues(signal).Inc()
}

// SetActiveProfiles updates the profile gauge.
func (m *Metrics) SetActiveProfiles(n int) {
	if m == nil {
		return
	}
	m.ActiveProfiles.Set(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
