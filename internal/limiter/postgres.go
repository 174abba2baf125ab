package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps unlock counters in the unlock_limiter table so every process
// opening the same database root shares one lockout. Times come from the
// server clock.
type PG struct {
	db     pgxQuerier
	policy Policy
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or transaction.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{db: q, policy: p}
}

const (
	sqlBlockedFor = `SELECT EXTRACT(EPOCH FROM blocked_until - now())::float8
FROM unlock_limiter WHERE key_hash=$1 AND blocked_until > now()`

	sqlForget = `DELETE FROM unlock_limiter WHERE key_hash=$1`

	// A failure outside the window starts a new count. Reaching the
	// threshold blocks the key and clears the count.
	sqlFailure = `
WITH prev AS (
  SELECT CASE WHEN now() - updated_at > make_interval(secs => $2) THEN 0 ELSE fail_count END AS fails
  FROM unlock_limiter WHERE key_hash=$1
), cur AS (
  SELECT COALESCE((SELECT fails FROM prev), 0) + 1 AS fails
)
INSERT INTO unlock_limiter AS u (key_hash, fail_count, blocked_until, updated_at)
SELECT $1,
  CASE WHEN fails >= $3 THEN 0 ELSE fails END,
  CASE WHEN fails >= $3 THEN now() + make_interval(secs => $4) ELSE 'epoch' END,
  now()
FROM cur
ON CONFLICT (key_hash) DO UPDATE SET
  fail_count = EXCLUDED.fail_count,
  blocked_until = GREATEST(u.blocked_until, EXCLUDED.blocked_until),
  updated_at = EXCLUDED.updated_at
RETURNING EXTRACT(EPOCH FROM GREATEST(u.blocked_until - now(), interval '0'))::float8`
)

// Allow reports whether the database at key may be unlocked now and, if not, for how long it stays blocked.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	var left float64
	err := l.db.QueryRow(ctx, sqlBlockedFor, HashKey(key)).Scan(&left)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	return false, seconds(left), nil
}

// Success forgets key.
func (l *PG) Success(ctx context.Context, key string) error {
	_, err := l.db.Exec(ctx, sqlForget, HashKey(key))
	return err
}

// Failure counts a wrong password and blocks key at the threshold.
func (l *PG) Failure(ctx context.Context, key string) (bool, time.Duration, error) {
	var left float64
	err := l.db.QueryRow(ctx, sqlFailure,
		HashKey(key), l.policy.Window.Seconds(), l.policy.MaxFails, l.policy.BlockFor.Seconds(),
	).Scan(&left)
	if err != nil {
		return false, 0, err
	}
	if left <= 0 {
		return false, 0, nil
	}
	return true, seconds(left), nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
