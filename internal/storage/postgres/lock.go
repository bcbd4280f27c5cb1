package postgres

import "context"

type lockStore Store

// TryAcquire takes a dedicated *sql.Conn from the pool and holds a
// session-scoped Postgres advisory lock on it for as long as the caller
// keeps that connection checked out — advisory locks are tied to the
// session that took them, so the lock and its connection must be released
// together (spec §4.4's cross-instance mutual exclusion).
func (l *lockStore) TryAcquire(ctx context.Context, lockID int64) (bool, func(context.Context) error, error) {
	s := (*Store)(l)
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, nil, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, nil, err
	}
	if !acquired {
		conn.Close()
		return false, nil, nil
	}

	release := func(ctx context.Context) error {
		_, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockID)
		closeErr := conn.Close()
		if err != nil {
			return err
		}
		return closeErr
	}
	return true, release, nil
}
