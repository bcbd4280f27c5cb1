package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/domain/run"
)

type runLogStore Store

// AppendBatch writes every entry in a single multi-row INSERT, the shape
// internal/runlog's buffered writer calls on each flush.
func (s *runLogStore) AppendBatch(ctx context.Context, entries []run.Log) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_logs (id, run_id, step_id, timestamp, level, message, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		dataJSON, err := json.Marshal(entry.Data)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, entry.ID, entry.RunID, entry.StepID, entry.Timestamp, entry.Level, entry.Message, dataJSON); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *runLogStore) ListByRun(ctx context.Context, runID string, limit int) ([]run.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, timestamp, level, message, data
		FROM run_logs WHERE run_id = $1 ORDER BY timestamp LIMIT $2
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []run.Log
	for rows.Next() {
		var (
			entry   run.Log
			dataRaw []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.StepID, &entry.Timestamp, &entry.Level, &entry.Message, &dataRaw); err != nil {
			return nil, err
		}
		if len(dataRaw) > 0 {
			_ = json.Unmarshal(dataRaw, &entry.Data)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *runLogStore) DeleteByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM run_logs
		WHERE id IN (
			SELECT id FROM run_logs WHERE level = $1 AND timestamp < $2 LIMIT $3
		)
	`, level, olderThan, batchSize)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *runLogStore) CountByLevelBefore(ctx context.Context, level run.LogLevel, olderThan time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM run_logs WHERE level = $1 AND timestamp < $2
	`, level, olderThan).Scan(&count)
	return count, err
}
