package retention

import (
	"context"
	"errors"
	"time"

	"github.com/reflux-run/reflux/internal/domain/artifact"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/metrics"
	"github.com/reflux-run/reflux/internal/storage"
	"github.com/reflux-run/reflux/pkg/logger"
)

// ErrLockHeld is returned by Cleanup when another instance already holds
// the cross-instance advisory lock (spec §4.4); internal/httpapi maps it
// to 409 Conflict.
var ErrLockHeld = errors.New("retention cleanup lock held by another instance")

// Request parameterizes one cleanup invocation.
type Request struct {
	DryRun      bool
	TriggeredBy cleanupaudit.TriggeredBy
}

// Result is the outcome of one cleanup invocation: what was (or would be)
// deleted, plus the audit row written for it.
type Result struct {
	Preview cleanupaudit.Counts
	Deleted cleanupaudit.Counts
	Errors  []string
	Audit   cleanupaudit.Audit
}

// Service runs preview and cleanup passes against a Store under the
// cross-instance advisory lock.
type Service struct {
	store   storage.Store
	blobs   artifact.Storage
	policy  Policy
	log     *logger.Logger
}

// New constructs a Service. blobs may be nil, in which case artifact row
// deletion proceeds without a blob-store call (dev mode / no backend
// configured).
func New(store storage.Store, blobs artifact.Storage, policy Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("retention")
	}
	return &Service{store: store, blobs: blobs, policy: policy, log: log}
}

// Policy returns the service's active policy.
func (s *Service) Policy() Policy { return s.policy }

// Preview runs read-only COUNT(*) queries per category without acquiring
// the lock or deleting anything.
func (s *Service) Preview(ctx context.Context) (cleanupaudit.Counts, error) {
	now := time.Now().UTC()
	var c cleanupaudit.Counts
	var err error

	if c.RunsSuccessful, err = s.store.Runs().CountCompletedBefore(ctx, now.Add(-s.policy.RunsSuccessful)); err != nil {
		return c, err
	}
	if c.RunsFailed, err = s.store.Runs().CountFailedBefore(ctx, now.Add(-s.policy.RunsFailed)); err != nil {
		return c, err
	}
	if c.RunsCancelled, err = s.store.Runs().CountCancelledBefore(ctx, now.Add(-s.policy.RunsCancelled)); err != nil {
		return c, err
	}
	if c.LogsDebug, err = s.store.RunLogs().CountByLevelBefore(ctx, run.LevelDebug, now.Add(-s.policy.LogsDebug)); err != nil {
		return c, err
	}
	if c.LogsInfo, err = s.store.RunLogs().CountByLevelBefore(ctx, run.LevelInfo, now.Add(-s.policy.LogsInfo)); err != nil {
		return c, err
	}
	if c.LogsWarn, err = s.store.RunLogs().CountByLevelBefore(ctx, run.LevelWarn, now.Add(-s.policy.LogsWarn)); err != nil {
		return c, err
	}
	if c.LogsError, err = s.store.RunLogs().CountByLevelBefore(ctx, run.LevelError, now.Add(-s.policy.LogsError)); err != nil {
		return c, err
	}
	if c.Artifacts, err = s.store.Artifacts().CountBefore(ctx, now.Add(-s.policy.ArtifactsDefault)); err != nil {
		return c, err
	}
	if c.MetricsRaw, err = s.store.Metrics().CountBefore(ctx, now.Add(-s.policy.MetricsRaw)); err != nil {
		return c, err
	}
	// FlowVersions has no direct count query in the store contract
	// (it's ranked per-flow, not a flat "before" predicate); the batched
	// delete call itself reports how many rows it removed, so the
	// preview leaves this category at zero for a dry run and the
	// Cleanup path fills it in post-delete count.
	return c, nil
}

// Cleanup acquires the cross-instance advisory lock, previews every
// category, and — unless DryRun — deletes in batches until each category
// is exhausted. A call that finds the lock held returns ErrLockHeld without
// an audit; once the lock is acquired a CleanupAudit row is always written,
// including when Preview fails. Audit write failures are logged and
// swallowed, never propagated (spec §7).
func (s *Service) Cleanup(ctx context.Context, req Request) (Result, error) {
	started := time.Now().UTC()

	acquired, release, err := s.store.Lock().TryAcquire(ctx, CleanupLockID)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, ErrLockHeld
	}
	defer func() {
		if release != nil {
			if relErr := release(context.Background()); relErr != nil {
				s.log.WithError(relErr).Warn("retention lock release failed")
			}
		}
	}()

	preview, err := s.Preview(ctx)
	if err != nil {
		errs := []string{"preview: " + err.Error()}
		s.writeAudit(ctx, started, req.DryRun, req.TriggeredBy, cleanupaudit.Counts{}, cleanupaudit.Counts{}, errs)
		return Result{}, err
	}

	result := Result{Preview: preview}

	if req.DryRun {
		result.Audit = s.writeAudit(ctx, started, true, req.TriggeredBy, preview, cleanupaudit.Counts{}, nil)
		return result, nil
	}

	deleted, errs := s.deleteAll(ctx)
	result.Deleted = deleted
	result.Errors = errs
	result.Audit = s.writeAudit(ctx, started, false, req.TriggeredBy, preview, deleted, errs)
	return result, nil
}

func (s *Service) deleteAll(ctx context.Context) (cleanupaudit.Counts, []string) {
	now := time.Now().UTC()
	var deleted cleanupaudit.Counts
	var errs []string

	drain := func(name string, total *int64, fn func(context.Context, time.Time, int) (int64, error), cutoff time.Time) {
		for {
			n, err := fn(ctx, cutoff, s.policy.BatchSize)
			if err != nil {
				errs = append(errs, name+": "+err.Error())
				s.log.WithError(err).WithField("category", name).Warn("retention batch delete failed")
				return
			}
			*total += n
			if n < int64(s.policy.BatchSize) {
				return
			}
		}
	}

	drain("runs.successful", &deleted.RunsSuccessful, s.store.Runs().DeleteCompletedBefore, now.Add(-s.policy.RunsSuccessful))
	drain("runs.failed", &deleted.RunsFailed, s.store.Runs().DeleteFailedBefore, now.Add(-s.policy.RunsFailed))
	drain("runs.cancelled", &deleted.RunsCancelled, s.store.Runs().DeleteCancelledBefore, now.Add(-s.policy.RunsCancelled))

	drainLevel := func(name string, total *int64, level run.LogLevel, cutoff time.Time) {
		for {
			n, err := s.store.RunLogs().DeleteByLevelBefore(ctx, level, cutoff, s.policy.BatchSize)
			if err != nil {
				errs = append(errs, name+": "+err.Error())
				s.log.WithError(err).WithField("category", name).Warn("retention batch delete failed")
				return
			}
			*total += n
			if n < int64(s.policy.BatchSize) {
				return
			}
		}
	}
	drainLevel("logs.debug", &deleted.LogsDebug, run.LevelDebug, now.Add(-s.policy.LogsDebug))
	drainLevel("logs.info", &deleted.LogsInfo, run.LevelInfo, now.Add(-s.policy.LogsInfo))
	drainLevel("logs.warn", &deleted.LogsWarn, run.LevelWarn, now.Add(-s.policy.LogsWarn))
	drainLevel("logs.error", &deleted.LogsError, run.LevelError, now.Add(-s.policy.LogsError))

	deleted.Artifacts = s.deleteArtifacts(ctx, now.Add(-s.policy.ArtifactsDefault), &errs)

	for {
		n, err := s.store.Flows().DeleteVersionsBatch(ctx, s.policy.FlowVersionsKeep, s.policy.FlowVersionsMinAge, s.policy.BatchSize)
		if err != nil {
			errs = append(errs, "flowVersions: "+err.Error())
			s.log.WithError(err).Warn("retention flow version batch delete failed")
			break
		}
		deleted.FlowVersions += n
		if n < int64(s.policy.BatchSize) {
			break
		}
	}

	for {
		n, err := s.store.Metrics().DeleteBefore(ctx, now.Add(-s.policy.MetricsRaw), s.policy.BatchSize)
		if err != nil {
			errs = append(errs, "metrics.raw: "+err.Error())
			s.log.WithError(err).Warn("retention metrics batch delete failed")
			break
		}
		deleted.MetricsRaw += n
		if n < int64(s.policy.BatchSize) {
			break
		}
	}

	return deleted, errs
}

// deleteArtifacts lists expired artifact rows in pages, calling the blob
// store's Delete for each key before deleting the metadata row. Blob
// deletion errors are logged and counted but never abort the batch
// (spec §4.4: tolerates orphaned blobs over lost rows).
func (s *Service) deleteArtifacts(ctx context.Context, cutoff time.Time, errs *[]string) int64 {
	var deleted int64
	for {
		page, err := s.store.Artifacts().ListExpiredBefore(ctx, cutoff, s.policy.BatchSize)
		if err != nil {
			*errs = append(*errs, "artifacts: "+err.Error())
			s.log.WithError(err).Warn("retention artifact list failed")
			return deleted
		}
		if len(page) == 0 {
			return deleted
		}
		for _, a := range page {
			if s.blobs != nil {
				if err := s.blobs.Delete(a.Key); err != nil {
					s.log.WithError(err).WithField("key", a.Key).Warn("retention artifact blob delete failed")
					*errs = append(*errs, "artifacts blob "+a.Key+": "+err.Error())
				}
			}
			if err := s.store.Artifacts().Delete(ctx, a.ID); err != nil {
				*errs = append(*errs, "artifacts row "+a.ID+": "+err.Error())
				s.log.WithError(err).WithField("id", a.ID).Warn("retention artifact row delete failed")
				continue
			}
			deleted++
		}
		if len(page) < s.policy.BatchSize {
			return deleted
		}
	}
}

func (s *Service) writeAudit(ctx context.Context, started time.Time, dryRun bool, triggeredBy cleanupaudit.TriggeredBy, preview, deleted cleanupaudit.Counts, errs []string) cleanupaudit.Audit {
	completed := time.Now().UTC()
	duration := completed.Sub(started).Milliseconds()

	audit := cleanupaudit.Audit{
		StartedAt:      started,
		CompletedAt:    &completed,
		DurationMs:     &duration,
		Success:        len(errs) == 0,
		DryRun:         dryRun,
		PolicySnapshot: s.policy.Snapshot(),
		Preview:        preview,
		Deleted:        deleted,
		Errors:         errs,
		TriggeredBy:    triggeredBy,
	}

	metrics.RecordCleanup(string(triggeredBy), audit.Success, map[string]int64{
		"runs.successful": deleted.RunsSuccessful,
		"runs.failed":     deleted.RunsFailed,
		"runs.cancelled":  deleted.RunsCancelled,
		"logs.debug":      deleted.LogsDebug,
		"logs.info":       deleted.LogsInfo,
		"logs.warn":       deleted.LogsWarn,
		"logs.error":      deleted.LogsError,
		"artifacts":       deleted.Artifacts,
		"flow_versions":   deleted.FlowVersions,
		"metrics.raw":     deleted.MetricsRaw,
	})

	written, err := s.store.CleanupAudits().Create(ctx, audit)
	if err != nil {
		// Audit-write failure is logged and swallowed per spec §7: the
		// cleanup itself still succeeds if deletion succeeded.
		s.log.WithError(err).Warn("cleanup audit write failed")
		return audit
	}
	return written
}
