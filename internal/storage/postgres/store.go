// Package postgres implements storage.Store against raw database/sql and
// lib/pq, grounded on the teacher's internal/app/storage/postgres package:
// one *sql.DB handle shared by per-entity accessor types, manual struct
// scanning, no ORM.
package postgres

import (
	"database/sql"

	"github.com/reflux-run/reflux/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle. The caller owns
// the handle's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Flows() storage.FlowStore               { return (*flowStore)(s) }
func (s *Store) Runs() storage.RunStore                 { return (*runStore)(s) }
func (s *Store) RunLogs() storage.RunLogStore           { return (*runLogStore)(s) }
func (s *Store) Artifacts() storage.ArtifactStore       { return (*artifactStore)(s) }
func (s *Store) Metrics() storage.MetricStore           { return (*metricStore)(s) }
func (s *Store) CleanupAudits() storage.CleanupAuditStore { return (*cleanupAuditStore)(s) }
func (s *Store) Lock() storage.Lock                     { return (*lockStore)(s) }

type rowScanner interface {
	Scan(dest ...any) error
}
