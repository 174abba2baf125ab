package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestBlobRepo_Read_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")

	mock.ExpectQuery(`SELECT data FROM blobs WHERE root=\$1 AND name=\$2`).
		WithArgs("main", repository.NameSalt).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("salt")))

	got, err := r.Read(context.Background(), repository.NameSalt)
	require.NoError(t, err)
	require.Equal(t, []byte("salt"), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobRepo_Read_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")

	mock.ExpectQuery(`SELECT data FROM blobs`).
		WithArgs("main", repository.NameTrunk).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Read(context.Background(), repository.NameTrunk)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBlobRepo_Write_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")

	mock.ExpectExec(`INSERT INTO blobs \(root, name, data, updated_at\) VALUES \(\$1,\$2,\$3,now\(\)\)`).
		WithArgs("main", repository.BlockName(4), []byte("blk")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Write(context.Background(), repository.BlockName(4), []byte("blk")))
	require.Error(t, r.Write(context.Background(), "../x", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobRepo_WriteAll_Tx(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs("main", repository.NameSalt, []byte("s")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs("main", repository.NameDescriptor, []byte("d")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repository.WriteAll(context.Background(), r, []repository.Blob{
		{Name: repository.NameSalt, Data: []byte("s")},
		{Name: repository.NameDescriptor, Data: []byte("d")},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobRepo_WriteAll_RollbackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO blobs`).
		WithArgs("main", repository.NameSalt, []byte("s")).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := r.WriteAll(context.Background(), []repository.Blob{{Name: repository.NameSalt, Data: []byte("s")}})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobRepo_ExistsDeleteList(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBlobRepo(db, "main")
	ctx := context.Background()

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM blobs WHERE root=\$1 AND name=\$2\)`).
		WithArgs("main", repository.NameDescriptor).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM blobs WHERE root=\$1 AND name=\$2`).
		WithArgs("main", repository.BlockName(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`SELECT name FROM blobs WHERE root=\$1 AND starts_with\(name, \$2\) ORDER BY name`).
		WithArgs("main", repository.BlockPrefix).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).
			AddRow(repository.BlockName(0)).
			AddRow(repository.BlockName(5)))

	ok, err := r.Exists(ctx, repository.NameDescriptor)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Delete(ctx, repository.BlockName(2)))

	names, err := r.List(ctx, repository.BlockPrefix)
	require.NoError(t, err)
	require.Equal(t, []string{repository.BlockName(0), repository.BlockName(5)}, names)
	require.NoError(t, mock.ExpectationsWereMet())
}
