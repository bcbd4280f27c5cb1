package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/reflux-run/reflux/internal/domain/metric"
)

type metricStore Store

func (s *metricStore) Record(ctx context.Context, m metric.Metric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metrics (id, timestamp, metric_type, flow_id, run_id, node_id, duration_ms, status, error_type, tags, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.Timestamp, m.MetricType, nullUUID(m.FlowID), nullUUID(m.RunID), m.NodeID, m.DurationMs, m.Status, m.ErrorType, pq.Array(m.Tags), metadataJSON)
	return err
}

func (s *metricStore) DeleteBefore(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM metrics
		WHERE id IN (
			SELECT id FROM metrics WHERE timestamp < $1 LIMIT $2
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *metricStore) CountBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metrics WHERE timestamp < $1`, olderThan).Scan(&count)
	return count, err
}

func nullUUID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
