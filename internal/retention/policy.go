// Package retention implements the retention / cleanup service (spec
// §4.4): a policy-driven, advisory-locked, batched garbage collector for
// runs, logs, artifacts, flow versions, and metrics. Grounded on the
// teacher's internal/app/services/automation/scheduler.go for the
// lifecycle-managed daily loop shape, and on internal/storage's
// already-batched delete primitives for the actual row removal.
package retention

import (
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/config"
)

// CLEANUP_LOCK_ID is the fixed advisory lock key coordinating cleanup
// across instances (spec §4.4).
const CleanupLockID int64 = 0x52464c58 // "RFLX" packed into an int64

// DefaultBatchSize is the number of rows considered per delete batch.
const DefaultBatchSize = 1000

// Policy is the validated, env-overridable retention policy (spec §4.4's
// table). Day fields are expressed as time.Duration for direct use
// against "older than" cutoffs.
type Policy struct {
	RunsSuccessful    time.Duration
	RunsFailed        time.Duration
	RunsCancelled     time.Duration
	LogsDebug         time.Duration
	LogsInfo          time.Duration
	LogsWarn          time.Duration
	LogsError         time.Duration
	ArtifactsDefault  time.Duration
	FlowVersionsKeep  int
	FlowVersionsMinAge time.Duration
	MetricsRaw        time.Duration
	BatchSize         int
}

type bound struct {
	min, max int
}

var (
	boundDays3650 = bound{1, 3650}
	boundDays365  = bound{1, 365}
)

// DefaultPolicy returns the spec's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		RunsSuccessful:     30 * 24 * time.Hour,
		RunsFailed:         90 * 24 * time.Hour,
		RunsCancelled:      14 * 24 * time.Hour,
		LogsDebug:          7 * 24 * time.Hour,
		LogsInfo:           30 * 24 * time.Hour,
		LogsWarn:           60 * 24 * time.Hour,
		LogsError:          90 * 24 * time.Hour,
		ArtifactsDefault:   30 * 24 * time.Hour,
		FlowVersionsKeep:   10,
		FlowVersionsMinAge: 7 * 24 * time.Hour,
		MetricsRaw:         30 * 24 * time.Hour,
		BatchSize:          DefaultBatchSize,
	}
}

// LoadPolicy builds a Policy from DefaultPolicy overridden field-by-field
// by env (zero means "not set, keep default"), validating every bound.
// A value outside its documented range rejects the whole policy, per
// spec §4.4: "values outside bounds reject the policy."
func LoadPolicy(env config.RetentionEnv) (Policy, error) {
	p := DefaultPolicy()

	days := func(name string, v int, b bound, dst *time.Duration) error {
		if v == 0 {
			return nil
		}
		if v < b.min || v > b.max {
			return apperr.NewValidationError("retention policy %s: %d out of bounds [%d,%d]", name, v, b.min, b.max)
		}
		*dst = time.Duration(v) * 24 * time.Hour
		return nil
	}

	if err := days("runs.successful", env.RunsSuccessfulDays, boundDays3650, &p.RunsSuccessful); err != nil {
		return Policy{}, err
	}
	if err := days("runs.failed", env.RunsFailedDays, boundDays3650, &p.RunsFailed); err != nil {
		return Policy{}, err
	}
	if err := days("runs.cancelled", env.RunsCancelledDays, boundDays3650, &p.RunsCancelled); err != nil {
		return Policy{}, err
	}
	if err := days("logs.debug", env.LogsDebugDays, boundDays365, &p.LogsDebug); err != nil {
		return Policy{}, err
	}
	if err := days("logs.info", env.LogsInfoDays, boundDays365, &p.LogsInfo); err != nil {
		return Policy{}, err
	}
	if err := days("logs.warn", env.LogsWarnDays, boundDays365, &p.LogsWarn); err != nil {
		return Policy{}, err
	}
	if err := days("logs.error", env.LogsErrorDays, boundDays365, &p.LogsError); err != nil {
		return Policy{}, err
	}
	if err := days("artifacts.default", env.ArtifactsDays, boundDays3650, &p.ArtifactsDefault); err != nil {
		return Policy{}, err
	}
	if err := days("metrics.raw", env.MetricsRawDays, boundDays3650, &p.MetricsRaw); err != nil {
		return Policy{}, err
	}

	if env.FlowVersionsKeep != 0 {
		if env.FlowVersionsKeep < 1 || env.FlowVersionsKeep > 100 {
			return Policy{}, apperr.NewValidationError("retention policy flowVersions.keepRecent: %d out of bounds [1,100]", env.FlowVersionsKeep)
		}
		p.FlowVersionsKeep = env.FlowVersionsKeep
	}
	if env.FlowVersionsMinAge != 0 {
		if env.FlowVersionsMinAge < 1 || env.FlowVersionsMinAge > 365 {
			return Policy{}, apperr.NewValidationError("retention policy flowVersions.minAge: %d out of bounds [1,365]", env.FlowVersionsMinAge)
		}
		p.FlowVersionsMinAge = time.Duration(env.FlowVersionsMinAge) * 24 * time.Hour
	}
	if env.BatchSize != 0 {
		if env.BatchSize < 1 {
			return Policy{}, apperr.NewValidationError("retention policy batchSize: %d must be positive", env.BatchSize)
		}
		p.BatchSize = env.BatchSize
	}

	return p, nil
}

// Snapshot renders the policy as a JSON-friendly map for CleanupAudit's
// policy_snapshot column.
func (p Policy) Snapshot() map[string]any {
	return map[string]any{
		"runs.successful":       p.RunsSuccessful.String(),
		"runs.failed":           p.RunsFailed.String(),
		"runs.cancelled":        p.RunsCancelled.String(),
		"logs.debug":            p.LogsDebug.String(),
		"logs.info":             p.LogsInfo.String(),
		"logs.warn":             p.LogsWarn.String(),
		"logs.error":            p.LogsError.String(),
		"artifacts.default":     p.ArtifactsDefault.String(),
		"flowVersions.keepRecent": p.FlowVersionsKeep,
		"flowVersions.minAge":   p.FlowVersionsMinAge.String(),
		"metrics.raw":           p.MetricsRaw.String(),
		"batchSize":             p.BatchSize,
	}
}
