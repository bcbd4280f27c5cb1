// Package cleanupaudit holds the CleanupAudit entity (spec §3/§4.4): a
// durable record of what a retention cleanup run considered and did.
package cleanupaudit

import "time"

// TriggeredBy distinguishes a scheduled run from an operator-initiated one.
type TriggeredBy string

const (
	TriggeredScheduled TriggeredBy = "scheduled"
	TriggeredManual    TriggeredBy = "manual"
)

// Counts is a per-category count map, used for both the preview and the
// final deleted tallies.
type Counts struct {
	RunsSuccessful int64
	RunsFailed     int64
	RunsCancelled  int64
	LogsDebug      int64
	LogsInfo       int64
	LogsWarn       int64
	LogsError      int64
	Artifacts      int64
	FlowVersions   int64
	MetricsRaw     int64
}

// Total sums every category.
func (c Counts) Total() int64 {
	return c.RunsSuccessful + c.RunsFailed + c.RunsCancelled +
		c.LogsDebug + c.LogsInfo + c.LogsWarn + c.LogsError +
		c.Artifacts + c.FlowVersions + c.MetricsRaw
}

// Audit is one retention run's durable record.
type Audit struct {
	ID             string
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMs     *int64
	Success        bool
	DryRun         bool
	PolicySnapshot map[string]any
	Preview        Counts
	Deleted        Counts
	Errors         []string
	TriggeredBy    TriggeredBy
}
