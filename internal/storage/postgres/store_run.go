package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/run"
)

type runStore Store

func (s *runStore) Create(ctx context.Context, r run.Run) (run.Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = run.StatusPending
	}

	inputsJSON, err := json.Marshal(r.Inputs)
	if err != nil {
		return run.Run{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow_id, flow_version, status, inputs, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.FlowID, r.FlowVersion, r.Status, inputsJSON, r.StartedAt)
	if err != nil {
		return run.Run{}, err
	}
	return r, nil
}

func (s *runStore) Get(ctx context.Context, id string) (run.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, flow_version, status, inputs, outputs, started_at, completed_at, duration_ms, error
		FROM runs WHERE id = $1
	`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return run.Run{}, apperr.NewNotFoundError("run", id)
	}
	return r, err
}

func (s *runStore) List(ctx context.Context, limit int) ([]run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, flow_version, status, inputs, outputs, started_at, completed_at, duration_ms, error
		FROM runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *runStore) ListByFlow(ctx context.Context, flowID string, limit int) ([]run.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, flow_version, status, inputs, outputs, started_at, completed_at, duration_ms, error
		FROM runs WHERE flow_id = $1 ORDER BY started_at DESC LIMIT $2
	`, flowID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *runStore) MarkRunning(ctx context.Context, id string) (run.Run, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2 WHERE id = $1 AND status = $3
	`, id, run.StatusRunning, run.StatusPending)
	if err != nil {
		return run.Run{}, err
	}
	return s.Get(ctx, id)
}

// MarkCompleted is idempotent: the WHERE guard means a second call on an
// already-completed run is a no-op rather than overwriting outputs or
// duration_ms a second time.
func (s *runStore) MarkCompleted(ctx context.Context, id string, outputs map[string]any) (run.Run, error) {
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return run.Run{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $2,
		    outputs = $3,
		    completed_at = now(),
		    duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
		WHERE id = $1 AND status != $4
	`, id, run.StatusCompleted, outputsJSON, run.StatusCompleted)
	if err != nil {
		return run.Run{}, err
	}
	return s.Get(ctx, id)
}

// MarkFailed is idempotent: its WHERE guard makes it a no-op once the run
// is completed or failed.
func (s *runStore) MarkFailed(ctx context.Context, id string, errMsg string) (run.Run, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $2,
		    error = $3,
		    completed_at = now(),
		    duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, run.StatusFailed, errMsg, run.StatusFailed, run.StatusCompleted)
	if err != nil {
		return run.Run{}, err
	}
	return s.Get(ctx, id)
}

func (s *runStore) MarkCancelled(ctx context.Context, id string) (run.Run, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $2,
		    completed_at = now(),
		    duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000
		WHERE id = $1 AND status NOT IN ($3, $4, $5)
	`, id, run.StatusCancelled, run.StatusCompleted, run.StatusFailed, run.StatusCancelled)
	if err != nil {
		return run.Run{}, err
	}
	return s.Get(ctx, id)
}

func (s *runStore) deleteBatch(ctx context.Context, status run.Status, olderThan time.Time, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id IN (
			SELECT id FROM runs WHERE status = $1 AND completed_at < $2 LIMIT $3
		)
	`, status, olderThan, batchSize)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *runStore) countBefore(ctx context.Context, status run.Status, olderThan time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs WHERE status = $1 AND completed_at < $2
	`, status, olderThan).Scan(&count)
	return count, err
}

func (s *runStore) DeleteCompletedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return s.deleteBatch(ctx, run.StatusCompleted, olderThan, batchSize)
}
func (s *runStore) DeleteFailedBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return s.deleteBatch(ctx, run.StatusFailed, olderThan, batchSize)
}
func (s *runStore) DeleteCancelledBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	return s.deleteBatch(ctx, run.StatusCancelled, olderThan, batchSize)
}
func (s *runStore) CountCompletedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.countBefore(ctx, run.StatusCompleted, olderThan)
}
func (s *runStore) CountFailedBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.countBefore(ctx, run.StatusFailed, olderThan)
}
func (s *runStore) CountCancelledBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.countBefore(ctx, run.StatusCancelled, olderThan)
}

func scanRun(scanner rowScanner) (run.Run, error) {
	var (
		r           run.Run
		inputsRaw   []byte
		outputsRaw  []byte
		completedAt sql.NullTime
		durationMs  sql.NullInt64
		errMsg      sql.NullString
	)
	if err := scanner.Scan(&r.ID, &r.FlowID, &r.FlowVersion, &r.Status, &inputsRaw, &outputsRaw, &r.StartedAt, &completedAt, &durationMs, &errMsg); err != nil {
		return run.Run{}, err
	}
	if len(inputsRaw) > 0 {
		_ = json.Unmarshal(inputsRaw, &r.Inputs)
	}
	if len(outputsRaw) > 0 {
		_ = json.Unmarshal(outputsRaw, &r.Outputs)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	if durationMs.Valid {
		d := durationMs.Int64
		r.DurationMs = &d
	}
	r.Error = errMsg.String
	return r, nil
}

func scanRuns(rows *sql.Rows) ([]run.Run, error) {
	var out []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
