package transform

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts and times transform applications.
type Metrics struct {
	applied  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates transform metrics registered with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "framepivot",
			Name:      "transform_total",
			Help:      "Transform applications by transform and outcome.",
		}, []string{"transform", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "framepivot",
			Name:      "transform_duration_seconds",
			Help:      "Time spent applying a transform.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"transform"}),
	}
}

func (m *Metrics) observe(id string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.applied.WithLabelValues(id, status).Inc()
	m.duration.WithLabelValues(id).Observe(d.Seconds())
}
