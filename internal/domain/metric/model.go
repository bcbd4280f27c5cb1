// Package metric holds the Metric entity (spec §3): rows emitted per
// workflow-execution and per node-execution for analytics queries. The
// in-memory Prometheus registry (internal/metrics) is not authoritative
// storage; this is.
package metric

import "time"

// Type distinguishes the two metric shapes the engine emits.
type Type string

const (
	TypeWorkflowExecution Type = "workflow_execution"
	TypeNodeExecution     Type = "node_execution"
)

// Status is the outcome recorded alongside a metric row.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Metric is one analytics row.
type Metric struct {
	ID         string
	Timestamp  time.Time
	MetricType Type
	FlowID     string
	RunID      string
	NodeID     string
	DurationMs *int64
	Status     Status
	ErrorType  string
	Tags       []string
	Metadata   map[string]any
}
