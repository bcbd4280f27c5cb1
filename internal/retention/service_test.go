package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflux-run/reflux/internal/domain/artifact"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/metric"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/storage"
)

// fakeStore is a hand-rolled storage.Store used to give retention tests
// precise control over counts and delete behavior without needing the
// in-memory store to backdate rows, which its exported API doesn't allow.
type fakeStore struct {
	runsSuccessful int64
	runsFailed     int64
	runsCancelled  int64
	logsByLevel    map[run.LogLevel]int64
	artifactsCount int64
	metricsCount   int64

	deleteCalls   []string
	lockAcquired  bool
	lockHeldByOther bool
	auditWritten []cleanupaudit.Audit
	auditErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{logsByLevel: map[run.LogLevel]int64{}}
}

func (f *fakeStore) Flows() storage.FlowStore             { return fakeFlowStore{f} }
func (f *fakeStore) Runs() storage.RunStore                { return fakeRunStore{f} }
func (f *fakeStore) RunLogs() storage.RunLogStore          { return fakeRunLogStore{f} }
func (f *fakeStore) Artifacts() storage.ArtifactStore      { return fakeArtifactStore{f} }
func (f *fakeStore) Metrics() storage.MetricStore          { return fakeMetricStore{f} }
func (f *fakeStore) CleanupAudits() storage.CleanupAuditStore { return fakeAuditStore{f} }
func (f *fakeStore) Lock() storage.Lock                    { return fakeLock{f} }

type fakeFlowStore struct{ f *fakeStore }

func (fakeFlowStore) Create(ctx context.Context, fl flow.Flow) (flow.Flow, error) { return fl, nil }
func (fakeFlowStore) Update(ctx context.Context, fl flow.Flow) (flow.Flow, error) { return fl, nil }
func (fakeFlowStore) Get(ctx context.Context, id string) (flow.Flow, error)       { return flow.Flow{}, nil }
func (fakeFlowStore) GetByNameVersion(ctx context.Context, name, version string) (flow.Flow, error) {
	return flow.Flow{}, nil
}
func (fakeFlowStore) List(ctx context.Context, limit int) ([]flow.Flow, error)       { return nil, nil }
func (fakeFlowStore) ListActive(ctx context.Context) ([]flow.Flow, error)            { return nil, nil }
func (fakeFlowStore) Delete(ctx context.Context, id string) error                    { return nil }
func (fakeFlowStore) ListVersions(ctx context.Context, flowID string, limit int) ([]flow.Version, error) {
	return nil, nil
}
func (fakeFlowStore) GetVersion(ctx context.Context, flowID, versionID string) (flow.Version, error) {
	return flow.Version{}, nil
}
func (fakeFlowStore) Rollback(ctx context.Context, flowID, versionID string) (flow.Flow, error) {
	return flow.Flow{}, nil
}
func (s fakeFlowStore) DeleteVersionsBatch(ctx context.Context, keepRecent int, minAge time.Duration, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "flowVersions")
	return 0, nil
}

type fakeRunStore struct{ f *fakeStore }

func (fakeRunStore) Create(ctx context.Context, r run.Run) (run.Run, error) { return r, nil }
func (fakeRunStore) Get(ctx context.Context, id string) (run.Run, error)    { return run.Run{}, nil }
func (fakeRunStore) List(ctx context.Context, limit int) ([]run.Run, error) { return nil, nil }
func (fakeRunStore) ListByFlow(ctx context.Context, flowID string, limit int) ([]run.Run, error) {
	return nil, nil
}
func (fakeRunStore) MarkRunning(ctx context.Context, id string) (run.Run, error) { return run.Run{}, nil }
func (fakeRunStore) MarkCompleted(ctx context.Context, id string, outputs map[string]any) (run.Run, error) {
	return run.Run{}, nil
}
func (fakeRunStore) MarkFailed(ctx context.Context, id string, errMsg string) (run.Run, error) {
	return run.Run{}, nil
}
func (fakeRunStore) MarkCancelled(ctx context.Context, id string) (run.Run, error) {
	return run.Run{}, nil
}
func (s fakeRunStore) DeleteCompletedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "runs.successful")
	n := s.f.runsSuccessful
	s.f.runsSuccessful = 0
	return n, nil
}
func (s fakeRunStore) DeleteFailedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "runs.failed")
	n := s.f.runsFailed
	s.f.runsFailed = 0
	return n, nil
}
func (s fakeRunStore) DeleteCancelledBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "runs.cancelled")
	n := s.f.runsCancelled
	s.f.runsCancelled = 0
	return n, nil
}
func (s fakeRunStore) CountCompletedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.f.runsSuccessful, nil
}
func (s fakeRunStore) CountFailedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.f.runsFailed, nil
}
func (s fakeRunStore) CountCancelledBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.f.runsCancelled, nil
}

type fakeRunLogStore struct{ f *fakeStore }

func (fakeRunLogStore) AppendBatch(ctx context.Context, entries []run.Log) error { return nil }
func (fakeRunLogStore) ListByRun(ctx context.Context, runID string, limit int) ([]run.Log, error) {
	return nil, nil
}
func (s fakeRunLogStore) DeleteByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "logs."+string(level))
	n := s.f.logsByLevel[level]
	s.f.logsByLevel[level] = 0
	return n, nil
}
func (s fakeRunLogStore) CountByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time) (int64, error) {
	return s.f.logsByLevel[level], nil
}

type fakeArtifactStore struct{ f *fakeStore }

func (fakeArtifactStore) Create(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	return a, nil
}
func (fakeArtifactStore) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	return artifact.Artifact{}, nil
}
func (fakeArtifactStore) ListExpiredBefore(ctx context.Context, olderThan time.Time, limit int) ([]artifact.Artifact, error) {
	return nil, nil
}
func (s fakeArtifactStore) Delete(ctx context.Context, id string) error {
	s.f.deleteCalls = append(s.f.deleteCalls, "artifacts")
	return nil
}
func (s fakeArtifactStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.f.artifactsCount, nil
}

type fakeMetricStore struct{ f *fakeStore }

func (fakeMetricStore) Record(ctx context.Context, m metric.Metric) error { return nil }
func (s fakeMetricStore) DeleteBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	s.f.deleteCalls = append(s.f.deleteCalls, "metrics.raw")
	n := s.f.metricsCount
	s.f.metricsCount = 0
	return n, nil
}
func (s fakeMetricStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.f.metricsCount, nil
}

type fakeAuditStore struct{ f *fakeStore }

func (s fakeAuditStore) Create(ctx context.Context, a cleanupaudit.Audit) (cleanupaudit.Audit, error) {
	if s.f.auditErr != nil {
		return cleanupaudit.Audit{}, s.f.auditErr
	}
	a.ID = "audit-1"
	s.f.auditWritten = append(s.f.auditWritten, a)
	return a, nil
}
func (fakeAuditStore) Latest(ctx context.Context) (cleanupaudit.Audit, error) {
	return cleanupaudit.Audit{}, nil
}
func (fakeAuditStore) List(ctx context.Context, limit int) ([]cleanupaudit.Audit, error) {
	return nil, nil
}

type fakeLock struct{ f *fakeStore }

func (l fakeLock) TryAcquire(ctx context.Context, lockID int64) (bool, func(context.Context) error, error) {
	if l.f.lockHeldByOther {
		return false, nil, nil
	}
	l.f.lockAcquired = true
	return true, func(context.Context) error { l.f.lockAcquired = false; return nil }, nil
}

func TestPreviewCountsWithoutDeleting(t *testing.T) {
	f := newFakeStore()
	f.runsSuccessful = 5
	f.logsByLevel[run.LevelDebug] = 10

	svc := New(f, nil, DefaultPolicy(), nil)
	preview, err := svc.Preview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), preview.RunsSuccessful)
	assert.Equal(t, int64(10), preview.LogsDebug)
	assert.Empty(t, f.deleteCalls)
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	f := newFakeStore()
	f.runsSuccessful = 5

	svc := New(f, nil, DefaultPolicy(), nil)
	result, err := svc.Cleanup(context.Background(), Request{DryRun: true, TriggeredBy: cleanupaudit.TriggeredManual})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Preview.RunsSuccessful)
	assert.Equal(t, int64(0), result.Deleted.Total())
	assert.True(t, result.Audit.DryRun)
	assert.Empty(t, f.deleteCalls)
	assert.Equal(t, int64(5), f.runsSuccessful, "dry run must not mutate store state")
}

func TestCleanupRealRunDeletesAndAudits(t *testing.T) {
	f := newFakeStore()
	f.runsSuccessful = 5
	f.runsFailed = 2

	svc := New(f, nil, DefaultPolicy(), nil)
	result, err := svc.Cleanup(context.Background(), Request{TriggeredBy: cleanupaudit.TriggeredManual})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Deleted.RunsSuccessful)
	assert.Equal(t, int64(2), result.Deleted.RunsFailed)
	assert.False(t, result.Audit.DryRun)
	assert.True(t, result.Audit.Success)
	require.Len(t, f.auditWritten, 1)
	assert.False(t, f.lockAcquired, "lock must be released after cleanup")
}

func TestCleanupReturnsErrLockHeldWhenLocked(t *testing.T) {
	f := newFakeStore()
	f.lockHeldByOther = true

	svc := New(f, nil, DefaultPolicy(), nil)
	_, err := svc.Cleanup(context.Background(), Request{TriggeredBy: cleanupaudit.TriggeredManual})
	assert.True(t, errors.Is(err, ErrLockHeld) || err == ErrLockHeld)
}

func TestCleanupSwallowsAuditWriteFailure(t *testing.T) {
	f := newFakeStore()
	f.auditErr = errors.New("audit store unavailable")

	svc := New(f, nil, DefaultPolicy(), nil)
	result, err := svc.Cleanup(context.Background(), Request{TriggeredBy: cleanupaudit.TriggeredManual})
	require.NoError(t, err, "audit write failure must not fail the cleanup")
	assert.Empty(t, result.Audit.ID)
}
