package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/flow"
)

type flowStore Store

func (s *flowStore) Create(ctx context.Context, f flow.Flow) (flow.Flow, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	specJSON, err := flow.MarshalSpec(f.Spec)
	if err != nil {
		return flow.Flow{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (id, name, version, description, spec, tags, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, f.ID, f.Name, f.Version, f.Description, specJSON, pq.Array(f.Tags), f.IsActive, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return flow.Flow{}, apperr.NewValidationError("flow %s@%s already exists", f.Name, f.Version)
		}
		return flow.Flow{}, err
	}
	return f, nil
}

func (s *flowStore) Update(ctx context.Context, f flow.Flow) (flow.Flow, error) {
	existing, err := s.Get(ctx, f.ID)
	if err != nil {
		return flow.Flow{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flow.Flow{}, err
	}
	defer tx.Rollback()

	prevSpecJSON, err := flow.MarshalSpec(existing.Spec)
	if err != nil {
		return flow.Flow{}, err
	}
	versionID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flow_versions (id, flow_id, version, spec, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, versionID, existing.ID, existing.Version, prevSpecJSON, time.Now().UTC()); err != nil {
		return flow.Flow{}, err
	}

	f.CreatedAt = existing.CreatedAt
	f.UpdatedAt = time.Now().UTC()
	specJSON, err := flow.MarshalSpec(f.Spec)
	if err != nil {
		return flow.Flow{}, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE flows
		SET name = $2, version = $3, description = $4, spec = $5, tags = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`, f.ID, f.Name, f.Version, f.Description, specJSON, pq.Array(f.Tags), f.IsActive, f.UpdatedAt)
	if err != nil {
		return flow.Flow{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flow.Flow{}, apperr.NewNotFoundError("flow", f.ID)
	}

	if err := tx.Commit(); err != nil {
		return flow.Flow{}, err
	}
	return f, nil
}

func (s *flowStore) Get(ctx context.Context, id string) (flow.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, description, spec, tags, is_active, created_at, updated_at
		FROM flows WHERE id = $1
	`, id)
	return scanFlow(row, id)
}

func (s *flowStore) GetByNameVersion(ctx context.Context, name, version string) (flow.Flow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version, description, spec, tags, is_active, created_at, updated_at
		FROM flows WHERE name = $1 AND version = $2
	`, name, version)
	return scanFlow(row, name+"@"+version)
}

func (s *flowStore) List(ctx context.Context, limit int) ([]flow.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, description, spec, tags, is_active, created_at, updated_at
		FROM flows ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlows(rows)
}

func (s *flowStore) ListActive(ctx context.Context) ([]flow.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, description, spec, tags, is_active, created_at, updated_at
		FROM flows WHERE is_active ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFlows(rows)
}

func (s *flowStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.NewNotFoundError("flow", id)
	}
	return nil
}

func (s *flowStore) ListVersions(ctx context.Context, flowID string, limit int) ([]flow.Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, version, spec, created_at, created_by, changelog
		FROM flow_versions WHERE flow_id = $1 ORDER BY created_at DESC LIMIT $2
	`, flowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flow.Version
	for rows.Next() {
		v, err := scanFlowVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *flowStore) GetVersion(ctx context.Context, flowID, versionID string) (flow.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, version, spec, created_at, created_by, changelog
		FROM flow_versions WHERE id = $1 AND flow_id = $2
	`, versionID, flowID)
	v, err := scanFlowVersion(row)
	if err == sql.ErrNoRows {
		return flow.Version{}, apperr.NewNotFoundError("flow_version", versionID)
	}
	return v, err
}

// Rollback snapshots the flow's current spec as a pre-rollback version,
// then writes a second version recording the restored spec, and updates
// the live flow row in a single transaction.
func (s *flowStore) Rollback(ctx context.Context, flowID, versionID string) (flow.Flow, error) {
	target, err := s.GetVersion(ctx, flowID, versionID)
	if err != nil {
		return flow.Flow{}, err
	}
	current, err := s.Get(ctx, flowID)
	if err != nil {
		return flow.Flow{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return flow.Flow{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	currentSpecJSON, err := flow.MarshalSpec(current.Spec)
	if err != nil {
		return flow.Flow{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flow_versions (id, flow_id, version, spec, created_at, changelog)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), flowID, current.Version, currentSpecJSON, now, "pre-rollback snapshot"); err != nil {
		return flow.Flow{}, err
	}

	targetSpecJSON, err := flow.MarshalSpec(target.Spec)
	if err != nil {
		return flow.Flow{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flow_versions (id, flow_id, version, spec, created_at, changelog)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), flowID, target.Version, targetSpecJSON, now, "restored via rollback to "+versionID); err != nil {
		return flow.Flow{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE flows SET spec = $2, version = $3, updated_at = $4 WHERE id = $1
	`, flowID, targetSpecJSON, target.Version, now); err != nil {
		return flow.Flow{}, err
	}

	if err := tx.Commit(); err != nil {
		return flow.Flow{}, err
	}

	current.Spec = target.Spec
	current.Version = target.Version
	current.UpdatedAt = now
	return current, nil
}

// DeleteVersionsBatch deletes versions ranked beyond keepRecent per flow
// (via ROW_NUMBER() OVER (PARTITION BY flow_id ORDER BY created_at DESC))
// that are also older than minAge, capped at batchSize rows.
func (s *flowStore) DeleteVersionsBatch(ctx context.Context, keepRecent int, minAge time.Duration, batchSize int) (int64, error) {
	cutoff := time.Now().Add(-minAge)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM flow_versions
		WHERE id IN (
			SELECT id FROM (
				SELECT id, created_at, ROW_NUMBER() OVER (PARTITION BY flow_id ORDER BY created_at DESC) AS rnk
				FROM flow_versions
			) ranked
			WHERE ranked.rnk > $2 AND ranked.created_at < $1
			LIMIT $3
		)
	`, cutoff, keepRecent, batchSize)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return rows, err
}

func scanFlow(scanner rowScanner, notFoundID string) (flow.Flow, error) {
	var (
		f       flow.Flow
		specRaw []byte
	)
	if err := scanner.Scan(&f.ID, &f.Name, &f.Version, &f.Description, &specRaw, pq.Array(&f.Tags), &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return flow.Flow{}, apperr.NewNotFoundError("flow", notFoundID)
		}
		return flow.Flow{}, err
	}
	spec, err := flow.UnmarshalSpec(specRaw)
	if err != nil {
		return flow.Flow{}, err
	}
	f.Spec = spec
	return f, nil
}

func scanFlows(rows *sql.Rows) ([]flow.Flow, error) {
	var out []flow.Flow
	for rows.Next() {
		f, err := scanFlow(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFlowVersion(scanner rowScanner) (flow.Version, error) {
	var (
		v          flow.Version
		specRaw    []byte
		createdBy  sql.NullString
		changelog  sql.NullString
	)
	if err := scanner.Scan(&v.ID, &v.FlowID, &v.Version, &specRaw, &v.CreatedAt, &createdBy, &changelog); err != nil {
		return flow.Version{}, err
	}
	spec, err := flow.UnmarshalSpec(specRaw)
	if err != nil {
		return flow.Version{}, err
	}
	v.Spec = spec
	v.CreatedBy = createdBy.String
	v.Changelog = changelog.String
	return v, nil
}
