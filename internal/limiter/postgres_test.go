package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

const root = "/home/u/.gophstore"

func newPG(t *testing.T) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPG(mock, Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}), mock
}

func TestPG_AllowWithoutBlock(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`FROM unlock_limiter WHERE key_hash=\$1 AND blocked_until > now\(\)`).
		WithArgs(HashKey(root)).
		WillReturnError(pgx.ErrNoRows)

	ok, left, err := l.Allow(context.Background(), root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, left)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_AllowWhileBlocked(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`FROM unlock_limiter WHERE key_hash=\$1`).
		WithArgs(HashKey(root)).
		WillReturnRows(pgxmock.NewRows([]string{"left"}).AddRow(90.5))

	ok, left, err := l.Allow(context.Background(), root)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 90*time.Second+500*time.Millisecond, left)
}

func TestPG_AllowQueryError(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`FROM unlock_limiter`).
		WithArgs(HashKey(root)).
		WillReturnError(errors.New("connection reset"))

	ok, _, err := l.Allow(context.Background(), root)
	require.Error(t, err)
	require.False(t, ok)
}

func TestPG_SuccessForgetsRoot(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectExec(`DELETE FROM unlock_limiter WHERE key_hash=\$1`).
		WithArgs(HashKey(root)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, l.Success(context.Background(), root))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FailureBelowThreshold(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`INSERT INTO unlock_limiter AS u`).
		WithArgs(HashKey(root), (5 * time.Minute).Seconds(), 3, (10 * time.Minute).Seconds()).
		WillReturnRows(pgxmock.NewRows([]string{"left"}).AddRow(0.0))

	blocked, left, err := l.Failure(context.Background(), root)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, left)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FailureBlocks(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`INSERT INTO unlock_limiter AS u`).
		WithArgs(HashKey(root), pgxmock.AnyArg(), 3, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"left"}).AddRow(600.0))

	blocked, left, err := l.Failure(context.Background(), root)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, left)
}

func TestPG_RootsAreIndependent(t *testing.T) {
	l, mock := newPG(t)
	other := "/srv/shared/.gophstore"

	mock.ExpectQuery(`INSERT INTO unlock_limiter AS u`).
		WithArgs(HashKey(root), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"left"}).AddRow(600.0))
	mock.ExpectQuery(`FROM unlock_limiter WHERE key_hash=\$1`).
		WithArgs(HashKey(other)).
		WillReturnError(pgx.ErrNoRows)

	blocked, _, err := l.Failure(context.Background(), root)
	require.NoError(t, err)
	require.True(t, blocked)

	ok, _, err := l.Allow(context.Background(), other)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_FailureQueryError(t *testing.T) {
	l, mock := newPG(t)

	mock.ExpectQuery(`INSERT INTO unlock_limiter`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock detected"))

	_, _, err := l.Failure(context.Background(), root)
	require.Error(t, err)
}

func TestHashKey(t *testing.T) {
	require.Equal(t, HashKey(root), HashKey(root))
	require.NotEqual(t, HashKey(root), HashKey("/srv/shared"))
	require.Len(t, HashKey(root), 32)
}
