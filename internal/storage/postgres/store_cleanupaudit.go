package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
)

type cleanupAuditStore Store

func (s *cleanupAuditStore) Create(ctx context.Context, a cleanupaudit.Audit) (cleanupaudit.Audit, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}

	policyJSON, err := json.Marshal(a.PolicySnapshot)
	if err != nil {
		return cleanupaudit.Audit{}, err
	}
	previewJSON, err := json.Marshal(a.Preview)
	if err != nil {
		return cleanupaudit.Audit{}, err
	}
	deletedJSON, err := json.Marshal(a.Deleted)
	if err != nil {
		return cleanupaudit.Audit{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cleanup_audit (id, started_at, completed_at, duration_ms, success, dry_run, policy_snapshot, preview_counts, deleted_counts, errors, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.StartedAt, toNullTime(a.CompletedAt), a.DurationMs, a.Success, a.DryRun, policyJSON, previewJSON, deletedJSON, pq.Array(a.Errors), a.TriggeredBy)
	if err != nil {
		return cleanupaudit.Audit{}, err
	}
	return a, nil
}

func (s *cleanupAuditStore) Latest(ctx context.Context) (cleanupaudit.Audit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, duration_ms, success, dry_run, policy_snapshot, preview_counts, deleted_counts, errors, triggered_by
		FROM cleanup_audit ORDER BY started_at DESC LIMIT 1
	`)
	a, err := scanCleanupAudit(row)
	if err == sql.ErrNoRows {
		return cleanupaudit.Audit{}, apperr.NewNotFoundError("cleanup_audit", "")
	}
	return a, err
}

func (s *cleanupAuditStore) List(ctx context.Context, limit int) ([]cleanupaudit.Audit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, duration_ms, success, dry_run, policy_snapshot, preview_counts, deleted_counts, errors, triggered_by
		FROM cleanup_audit ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cleanupaudit.Audit
	for rows.Next() {
		a, err := scanCleanupAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanCleanupAudit(scanner rowScanner) (cleanupaudit.Audit, error) {
	var (
		a           cleanupaudit.Audit
		completedAt sql.NullTime
		durationMs  sql.NullInt64
		policyRaw   []byte
		previewRaw  []byte
		deletedRaw  []byte
		errs        pq.StringArray
	)
	if err := scanner.Scan(&a.ID, &a.StartedAt, &completedAt, &durationMs, &a.Success, &a.DryRun, &policyRaw, &previewRaw, &deletedRaw, &errs, &a.TriggeredBy); err != nil {
		return cleanupaudit.Audit{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		a.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		a.DurationMs = &d
	}
	if len(policyRaw) > 0 {
		_ = json.Unmarshal(policyRaw, &a.PolicySnapshot)
	}
	if len(previewRaw) > 0 {
		_ = json.Unmarshal(previewRaw, &a.Preview)
	}
	if len(deletedRaw) > 0 {
		_ = json.Unmarshal(deletedRaw, &a.Deleted)
	}
	a.Errors = []string(errs)
	return a, nil
}
