package types

import "time"

// MetricNameLabel is the reserved label that carries the metric name in selectors
const MetricNameLabel = "__name__"

// Sample represents a single time-series sample
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Metric identifies a time-series by name and labels
type Metric struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Series represents a complete time-series
type Series struct {
	Metric  Metric   `json:"metric"`
	Samples []Sample `json:"samples"`
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	TenantID string   `json:"tenant_id,omitempty"`
	Series   []Series `json:"series"`
}

// QueryRequest selects series with a metric selector over [StartTime, EndTime]
type QueryRequest struct {
	TenantID  string
	Query     string
	StartTime time.Time
	EndTime   time.Time
}
