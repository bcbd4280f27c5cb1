// Package memory provides an in-memory Store implementation used by unit
// tests and local dev mode, grounded on the teacher's
// internal/app/storage/memory.go in-process-map style.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/artifact"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/metric"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	flows    map[string]flow.Flow
	versions map[string]flow.Version // versionID -> version

	runs    map[string]run.Run
	logs    []run.Log
	arts    map[string]artifact.Artifact
	metrics []metric.Metric
	audits  []cleanupaudit.Audit

	lockHeld bool
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		flows:    make(map[string]flow.Flow),
		versions: make(map[string]flow.Version),
		runs:     make(map[string]run.Run),
		arts:     make(map[string]artifact.Artifact),
	}
}

func (s *Store) Flows() storage.FlowStore               { return (*flowStore)(s) }
func (s *Store) Runs() storage.RunStore                 { return (*runStore)(s) }
func (s *Store) RunLogs() storage.RunLogStore           { return (*runLogStore)(s) }
func (s *Store) Artifacts() storage.ArtifactStore       { return (*artifactStore)(s) }
func (s *Store) Metrics() storage.MetricStore           { return (*metricStore)(s) }
func (s *Store) CleanupAudits() storage.CleanupAuditStore { return (*cleanupAuditStore)(s) }
func (s *Store) Lock() storage.Lock                     { return (*lockImpl)(s) }

// --- flows -------------------------------------------------------------

type flowStore Store

func (f *flowStore) Create(ctx context.Context, fl flow.Flow) (flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	if fl.ID == "" {
		fl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fl.CreatedAt, fl.UpdatedAt = now, now
	for _, existing := range s.flows {
		if existing.Name == fl.Name && existing.Version == fl.Version {
			return flow.Flow{}, apperr.NewValidationError("flow %s@%s already exists", fl.Name, fl.Version)
		}
	}
	s.flows[fl.ID] = fl
	return fl, nil
}

func (f *flowStore) Update(ctx context.Context, fl flow.Flow) (flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flows[fl.ID]
	if !ok {
		return flow.Flow{}, apperr.NewNotFoundError("flow", fl.ID)
	}
	versionID := uuid.NewString()
	s.versions[versionID] = flow.Version{
		ID:        versionID,
		FlowID:    existing.ID,
		Version:   existing.Version,
		Spec:      existing.Spec,
		CreatedAt: time.Now().UTC(),
	}
	fl.CreatedAt = existing.CreatedAt
	fl.UpdatedAt = time.Now().UTC()
	s.flows[fl.ID] = fl
	return fl, nil
}

func (f *flowStore) Get(ctx context.Context, id string) (flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	fl, ok := s.flows[id]
	if !ok {
		return flow.Flow{}, apperr.NewNotFoundError("flow", id)
	}
	return fl, nil
}

func (f *flowStore) GetByNameVersion(ctx context.Context, name, version string) (flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fl := range s.flows {
		if fl.Name == name && fl.Version == version {
			return fl, nil
		}
	}
	return flow.Flow{}, apperr.NewNotFoundError("flow", name+"@"+version)
}

func (f *flowStore) List(ctx context.Context, limit int) ([]flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Flow, 0, len(s.flows))
	for _, fl := range s.flows {
		out = append(out, fl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *flowStore) ListActive(ctx context.Context) ([]flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Flow, 0)
	for _, fl := range s.flows {
		if fl.IsActive {
			out = append(out, fl)
		}
	}
	return out, nil
}

func (f *flowStore) Delete(ctx context.Context, id string) error {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return apperr.NewNotFoundError("flow", id)
	}
	delete(s.flows, id)
	for vid, v := range s.versions {
		if v.FlowID == id {
			delete(s.versions, vid)
		}
	}
	return nil
}

func (f *flowStore) ListVersions(ctx context.Context, flowID string, limit int) ([]flow.Version, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flow.Version, 0)
	for _, v := range s.versions {
		if v.FlowID == flowID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *flowStore) GetVersion(ctx context.Context, flowID, versionID string) (flow.Version, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok || v.FlowID != flowID {
		return flow.Version{}, apperr.NewNotFoundError("flow_version", versionID)
	}
	return v, nil
}

func (f *flowStore) Rollback(ctx context.Context, flowID, versionID string) (flow.Flow, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[versionID]
	if !ok || target.FlowID != flowID {
		return flow.Flow{}, apperr.NewNotFoundError("flow_version", versionID)
	}
	current, ok := s.flows[flowID]
	if !ok {
		return flow.Flow{}, apperr.NewNotFoundError("flow", flowID)
	}

	now := time.Now().UTC()
	preID := uuid.NewString()
	s.versions[preID] = flow.Version{
		ID: preID, FlowID: flowID, Version: current.Version, Spec: current.Spec,
		CreatedAt: now, Changelog: "pre-rollback snapshot",
	}

	restoredID := uuid.NewString()
	s.versions[restoredID] = flow.Version{
		ID: restoredID, FlowID: flowID, Version: target.Version, Spec: target.Spec,
		CreatedAt: now, Changelog: "restored via rollback to " + versionID,
	}

	current.Spec = target.Spec
	current.Version = target.Version
	current.UpdatedAt = now
	s.flows[flowID] = current
	return current, nil
}

func (f *flowStore) DeleteVersionsBatch(ctx context.Context, keepRecent int, minAge time.Duration, batchSize int) (int64, error) {
	s := (*Store)(f)
	s.mu.Lock()
	defer s.mu.Unlock()

	byFlow := make(map[string][]flow.Version)
	for _, v := range s.versions {
		byFlow[v.FlowID] = append(byFlow[v.FlowID], v)
	}

	var deleted int64
	cutoff := time.Now().Add(-minAge)
	for _, versions := range byFlow {
		sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.After(versions[j].CreatedAt) })
		for rank, v := range versions {
			if int64(deleted) >= int64(batchSize) && batchSize > 0 {
				return deleted, nil
			}
			if rank >= keepRecent && v.CreatedAt.Before(cutoff) {
				delete(s.versions, v.ID)
				deleted++
			}
		}
	}
	return deleted, nil
}

// --- runs ----------------------------------------------------------------

type runStore Store

func (r *runStore) Create(ctx context.Context, rn run.Run) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rn.ID == "" {
		rn.ID = uuid.NewString()
	}
	if rn.StartedAt.IsZero() {
		rn.StartedAt = time.Now().UTC()
	}
	s.runs[rn.ID] = rn
	return rn, nil
}

func (r *runStore) Get(ctx context.Context, id string) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[id]
	if !ok {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	return rn, nil
}

func (r *runStore) List(ctx context.Context, limit int) ([]run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]run.Run, 0, len(s.runs))
	for _, rn := range s.runs {
		out = append(out, rn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *runStore) ListByFlow(ctx context.Context, flowID string, limit int) ([]run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]run.Run, 0)
	for _, rn := range s.runs {
		if rn.FlowID == flowID {
			out = append(out, rn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *runStore) MarkRunning(ctx context.Context, id string) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[id]
	if !ok {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	if rn.Status == run.StatusPending {
		rn.Status = run.StatusRunning
		s.runs[id] = rn
	}
	return rn, nil
}

func (r *runStore) MarkCompleted(ctx context.Context, id string, outputs map[string]any) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[id]
	if !ok {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	if rn.Status == run.StatusCompleted {
		return rn, nil // idempotent no-op
	}
	now := time.Now().UTC()
	rn.Status = run.StatusCompleted
	rn.Outputs = outputs
	rn.CompletedAt = &now
	d := now.Sub(rn.StartedAt).Milliseconds()
	rn.DurationMs = &d
	s.runs[id] = rn
	return rn, nil
}

func (r *runStore) MarkFailed(ctx context.Context, id string, errMsg string) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[id]
	if !ok {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	if rn.Status == run.StatusFailed || rn.Status == run.StatusCompleted {
		return rn, nil // idempotent no-op
	}
	now := time.Now().UTC()
	rn.Status = run.StatusFailed
	rn.Error = errMsg
	rn.CompletedAt = &now
	d := now.Sub(rn.StartedAt).Milliseconds()
	rn.DurationMs = &d
	s.runs[id] = rn
	return rn, nil
}

func (r *runStore) MarkCancelled(ctx context.Context, id string) (run.Run, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rn, ok := s.runs[id]
	if !ok {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	if rn.Status.IsTerminal() {
		return rn, nil
	}
	now := time.Now().UTC()
	rn.Status = run.StatusCancelled
	rn.CompletedAt = &now
	s.runs[id] = rn
	return rn, nil
}

func (r *runStore) deleteByStatusBefore(status run.Status, olderThan time.Time, batchSize int) int64 {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, rn := range s.runs {
		if batchSize > 0 && deleted >= int64(batchSize) {
			break
		}
		if rn.Status == status && rn.CompletedAt != nil && rn.CompletedAt.Before(olderThan) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted
}

func (r *runStore) countByStatusBefore(status run.Status, olderThan time.Time) int64 {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rn := range s.runs {
		if rn.Status == status && rn.CompletedAt != nil && rn.CompletedAt.Before(olderThan) {
			count++
		}
	}
	return count
}

func (r *runStore) DeleteCompletedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return r.deleteByStatusBefore(run.StatusCompleted, olderThan, batchSize), nil
}
func (r *runStore) DeleteFailedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return r.deleteByStatusBefore(run.StatusFailed, olderThan, batchSize), nil
}
func (r *runStore) DeleteCancelledBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return r.deleteByStatusBefore(run.StatusCancelled, olderThan, batchSize), nil
}
func (r *runStore) CountCompletedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return r.countByStatusBefore(run.StatusCompleted, olderThan), nil
}
func (r *runStore) CountFailedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return r.countByStatusBefore(run.StatusFailed, olderThan), nil
}
func (r *runStore) CountCancelledBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return r.countByStatusBefore(run.StatusCancelled, olderThan), nil
}

// --- run logs --------------------------------------------------------------

type runLogStore Store

func (l *runLogStore) AppendBatch(ctx context.Context, entries []run.Log) error {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}
	s.logs = append(s.logs, entries...)
	return nil
}

func (l *runLogStore) ListByRun(ctx context.Context, runID string, limit int) ([]run.Log, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]run.Log, 0)
	for _, entry := range s.logs {
		if entry.RunID == runID {
			out = append(out, entry)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *runLogStore) DeleteByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time, batchSize int) (int64, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	var deleted int64
	for _, entry := range s.logs {
		if entry.Level == level && entry.Timestamp.Before(olderThan) && (batchSize <= 0 || deleted < int64(batchSize)) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return deleted, nil
}

func (l *runLogStore) CountByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time) (int64, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, entry := range s.logs {
		if entry.Level == level && entry.Timestamp.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

// --- artifacts ---------------------------------------------------------

type artifactStore Store

func (a *artifactStore) Create(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if art.ID == "" {
		art.ID = uuid.NewString()
	}
	art.CreatedAt = time.Now().UTC()
	s.arts[art.ID] = art
	return art, nil
}

func (a *artifactStore) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.arts[id]
	if !ok {
		return artifact.Artifact{}, apperr.NewNotFoundError("artifact", id)
	}
	return art, nil
}

func (a *artifactStore) ListExpiredBefore(ctx context.Context, olderThan time.Time, limit int) ([]artifact.Artifact, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]artifact.Artifact, 0)
	for _, art := range s.arts {
		if art.CreatedAt.Before(olderThan) {
			out = append(out, art)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (a *artifactStore) Delete(ctx context.Context, id string) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.arts, id)
	return nil
}

func (a *artifactStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, art := range s.arts {
		if art.CreatedAt.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

// --- metrics -------------------------------------------------------------

type metricStore Store

func (m *metricStore) Record(ctx context.Context, met metric.Metric) error {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	if met.ID == "" {
		met.ID = uuid.NewString()
	}
	s.metrics = append(s.metrics, met)
	return nil
}

func (m *metricStore) DeleteBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.metrics[:0]
	var deleted int64
	for _, met := range s.metrics {
		if met.Timestamp.Before(olderThan) && (batchSize <= 0 || deleted < int64(batchSize)) {
			deleted++
			continue
		}
		kept = append(kept, met)
	}
	s.metrics = kept
	return deleted, nil
}

func (m *metricStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	s := (*Store)(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, met := range s.metrics {
		if met.Timestamp.Before(olderThan) {
			count++
		}
	}
	return count, nil
}

// --- cleanup audits ------------------------------------------------------

type cleanupAuditStore Store

func (c *cleanupAuditStore) Create(ctx context.Context, a cleanupaudit.Audit) (cleanupaudit.Audit, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.audits = append(s.audits, a)
	return a, nil
}

func (c *cleanupAuditStore) Latest(ctx context.Context) (cleanupaudit.Audit, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audits) == 0 {
		return cleanupaudit.Audit{}, apperr.NewNotFoundError("cleanup_audit", "")
	}
	return s.audits[len(s.audits)-1], nil
}

func (c *cleanupAuditStore) List(ctx context.Context, limit int) ([]cleanupaudit.Audit, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cleanupaudit.Audit, len(s.audits))
	copy(out, s.audits)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- advisory lock -------------------------------------------------------

type lockImpl Store

func (l *lockImpl) TryAcquire(ctx context.Context, lockID int64) (bool, func(context.Context) error, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHeld {
		return false, nil, nil
	}
	s.lockHeld = true
	release := func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lockHeld = false
		return nil
	}
	return true, release, nil
}

var _ storage.Store = (*Store)(nil)
