package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/artifact"
)

type artifactStore Store

func (s *artifactStore) Create(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, run_id, step_id, key, size_bytes, content_type, storage_backend, etag, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.RunID, a.StepID, a.Key, a.SizeBytes, a.ContentType, a.StorageBackend, a.ETag, a.CreatedAt, toNullTime(a.ExpiresAt))
	if err != nil {
		return artifact.Artifact{}, err
	}
	return a, nil
}

func (s *artifactStore) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, step_id, key, size_bytes, content_type, storage_backend, etag, created_at, expires_at
		FROM artifacts WHERE id = $1
	`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return artifact.Artifact{}, apperr.NewNotFoundError("artifact", id)
	}
	return a, err
}

func (s *artifactStore) ListExpiredBefore(ctx context.Context, olderThan time.Time, limit int) ([]artifact.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, key, size_bytes, content_type, storage_backend, etag, created_at, expires_at
		FROM artifacts WHERE created_at < $1 ORDER BY created_at LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []artifact.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *artifactStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	return err
}

func (s *artifactStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE created_at < $1`, olderThan).Scan(&count)
	return count, err
}

func scanArtifact(scanner rowScanner) (artifact.Artifact, error) {
	var (
		a         artifact.Artifact
		expiresAt sql.NullTime
	)
	if err := scanner.Scan(&a.ID, &a.RunID, &a.StepID, &a.Key, &a.SizeBytes, &a.ContentType, &a.StorageBackend, &a.ETag, &a.CreatedAt, &expiresAt); err != nil {
		return artifact.Artifact{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
