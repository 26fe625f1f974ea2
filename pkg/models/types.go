package models

import "time"

// Improvement is a (step, value) pair recorded when a training step beats
// the best average reward seen so far in a run.
type Improvement struct {
	Step  int     `json:"step" yaml:"step"`
	Value float64 `json:"value" yaml:"value"`
}

// RunStatus represents the lifecycle state of an optimizer
type RunStatus string

const (
	RunStatusUnbuilt  RunStatus = "unbuilt"
	RunStatusBuilt    RunStatus = "built"
	RunStatusRunning  RunStatus = "running"
	RunStatusFinished RunStatus = "finished"
)

// MetricPoint represents a single metric data point
type MetricPoint struct {
	Timestamp time.Time         `json:"timestamp"`
	Step      int               `json:"step"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// MetricsSummary represents a summary of collected metrics
type MetricsSummary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Metrics      map[string][]float64    `json:"metrics"` // metric name -> values
	Aggregations map[string]*Aggregation `json:"aggregations,omitempty"`
}

// Aggregation represents aggregated statistics for a metric
type Aggregation struct {
	Count  int64   `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}
