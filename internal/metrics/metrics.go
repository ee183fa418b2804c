package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhaseAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchline_phase_advances_total",
			Help: "Phase advance attempts by result",
		},
		[]string{"result"}, // result: ok, invalid, error
	)

	ApprovalReviews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchline_approval_reviews_total",
			Help: "Reviewer decisions by outcome",
		},
		[]string{"decision"}, // APPROVED, CHANGES_REQUESTED, rejected
	)

	ApprovalRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "launchline_approval_requests_total",
			Help: "Approval requests created",
		},
	)

	BulkItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "launchline_bulk_items_total",
			Help: "Bulk operation items by operation and result",
		},
		[]string{"operation", "result"},
	)

	ReadinessScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "launchline_readiness_score",
			Help: "Last computed launch readiness score per project",
		},
		[]string{"project_id"},
	)

	IntegrityViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "launchline_integrity_violations_total",
			Help: "Phase lists found without an active phase or otherwise corrupt",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "launchline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordPhaseAdvance(result string) {
	PhaseAdvances.WithLabelValues(result).Inc()
}

func RecordApprovalReview(decision string) {
	ApprovalReviews.WithLabelValues(decision).Inc()
}

func RecordBulkItem(operation string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	BulkItems.WithLabelValues(operation, result).Inc()
}

func SetReadinessScore(projectID string, score int) {
	ReadinessScore.WithLabelValues(projectID).Set(float64(score))
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
