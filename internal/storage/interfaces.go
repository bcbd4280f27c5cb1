// Package storage defines the persistence contracts for flows, runs, run
// logs, artifacts, metrics, and cleanup audits (spec §3). Concrete
// implementations live in internal/storage/postgres (durable) and
// internal/storage/memory (tests, dev mode).
package storage

import (
	"context"
	"time"

	"github.com/reflux-run/reflux/internal/domain/artifact"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/metric"
	"github.com/reflux-run/reflux/internal/domain/run"
)

// FlowStore persists Flow and FlowVersion rows.
type FlowStore interface {
	Create(ctx context.Context, f flow.Flow) (flow.Flow, error)
	// Update snapshots the prior spec into a FlowVersion before overwriting.
	Update(ctx context.Context, f flow.Flow) (flow.Flow, error)
	Get(ctx context.Context, id string) (flow.Flow, error)
	GetByNameVersion(ctx context.Context, name, version string) (flow.Flow, error)
	List(ctx context.Context, limit int) ([]flow.Flow, error)
	ListActive(ctx context.Context) ([]flow.Flow, error)
	Delete(ctx context.Context, id string) error

	ListVersions(ctx context.Context, flowID string, limit int) ([]flow.Version, error)
	GetVersion(ctx context.Context, flowID, versionID string) (flow.Version, error)
	// Rollback writes two version rows (pre-rollback and restored state)
	// and returns the flow with the restored spec applied.
	Rollback(ctx context.Context, flowID, versionID string) (flow.Flow, error)

	DeleteVersionsBatch(ctx context.Context, keepRecent int, minAge time.Duration, batchSize int) (int64, error)
}

// RunStore persists Run rows and enforces idempotent terminal transitions.
type RunStore interface {
	Create(ctx context.Context, r run.Run) (run.Run, error)
	Get(ctx context.Context, id string) (run.Run, error)
	List(ctx context.Context, limit int) ([]run.Run, error)
	ListByFlow(ctx context.Context, flowID string, limit int) ([]run.Run, error)

	MarkRunning(ctx context.Context, id string) (run.Run, error)
	// MarkCompleted is a no-op if the run is already completed
	// (WHERE status != 'completed').
	MarkCompleted(ctx context.Context, id string, outputs map[string]any) (run.Run, error)
	// MarkFailed is a no-op if the run is already failed or completed
	// (WHERE status NOT IN ('failed','completed')).
	MarkFailed(ctx context.Context, id string, errMsg string) (run.Run, error)
	MarkCancelled(ctx context.Context, id string) (run.Run, error)

	DeleteCompletedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
	DeleteFailedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
	DeleteCancelledBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
	CountCompletedBefore(ctx context.Context, olderThan time.Time) (int64, error)
	CountFailedBefore(ctx context.Context, olderThan time.Time) (int64, error)
	CountCancelledBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// RunLogStore persists RunLog rows, called from internal/runlog's batch
// flush path.
type RunLogStore interface {
	AppendBatch(ctx context.Context, entries []run.Log) error
	ListByRun(ctx context.Context, runID string, limit int) ([]run.Log, error)

	DeleteByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time, batchSize int) (int64, error)
	CountByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time) (int64, error)
}

// ArtifactStore persists Artifact metadata rows.
type ArtifactStore interface {
	Create(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)
	Get(ctx context.Context, id string) (artifact.Artifact, error)
	ListExpiredBefore(ctx context.Context, olderThan time.Time, limit int) ([]artifact.Artifact, error)
	Delete(ctx context.Context, id string) error
	CountBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// MetricStore persists Metric rows.
type MetricStore interface {
	Record(ctx context.Context, m metric.Metric) error
	DeleteBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
	CountBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// CleanupAuditStore persists CleanupAudit rows.
type CleanupAuditStore interface {
	Create(ctx context.Context, a cleanupaudit.Audit) (cleanupaudit.Audit, error)
	Latest(ctx context.Context) (cleanupaudit.Audit, error)
	List(ctx context.Context, limit int) ([]cleanupaudit.Audit, error)
}

// Lock is the cross-instance advisory lock used by the retention service
// (spec §4.4). A Postgres implementation uses pg_try_advisory_lock on a
// session-scoped connection.
type Lock interface {
	// TryAcquire attempts to take the lock, returning (false, nil) if
	// another instance already holds it.
	TryAcquire(ctx context.Context, lockID int64) (acquired bool, release func(context.Context) error, err error)
}

// Store aggregates every repository plus the advisory lock, the shape
// services are constructed against.
type Store interface {
	Flows() FlowStore
	Runs() RunStore
	RunLogs() RunLogStore
	Artifacts() ArtifactStore
	Metrics() MetricStore
	CleanupAudits() CleanupAuditStore
	Lock() Lock
}
