package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// BlobRepo implements repository.BlobRepository over the blobs table.
type BlobRepo struct {
	db   *DB
	root string
}

// NewBlobRepo constructs a blob repository for one database root.
func NewBlobRepo(db *DB, root string) *BlobRepo { return &BlobRepo{db: db, root: root} }

var (
	_ repository.BlobRepository = (*BlobRepo)(nil)
	_ repository.BatchWriter    = (*BlobRepo)(nil)
)

const upsertBlob = `
INSERT INTO blobs (root, name, data, updated_at) VALUES ($1,$2,$3,now())
ON CONFLICT (root, name) DO UPDATE SET data=EXCLUDED.data, updated_at=now()`

func (r *BlobRepo) Root() string { return r.root }

func (r *BlobRepo) Path(name string) string { return "postgres://" + r.root + "/" + name }

// Read selects blob data.
func (r *BlobRepo) Read(ctx context.Context, name string) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE root=$1 AND name=$2`
	var data []byte
	if err := r.db.Pool.QueryRow(ctx, q, r.root, name).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
		}
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write upserts blob data.
func (r *BlobRepo) Write(ctx context.Context, name string, data []byte) error {
	if err := repository.ValidName(name); err != nil {
		return err
	}
	_, err := r.db.Pool.Exec(ctx, upsertBlob, r.root, name, nonNil(data))
	return err
}

// WriteAll upserts every blob in one transaction.
func (r *BlobRepo) WriteAll(ctx context.Context, blobs []repository.Blob) (err error) {
	for _, b := range blobs {
		if err := repository.ValidName(b.Name); err != nil {
			return err
		}
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	for _, b := range blobs {
		if _, err = tx.Exec(ctx, upsertBlob, r.root, b.Name, nonNil(b.Data)); err != nil {
			return fmt.Errorf("write %s: %w", b.Name, err)
		}
	}
	return nil
}

// Delete removes a blob row.
func (r *BlobRepo) Delete(ctx context.Context, name string) error {
	const q = `DELETE FROM blobs WHERE root=$1 AND name=$2`
	_, err := r.db.Pool.Exec(ctx, q, r.root, name)
	return err
}

// Exists reports whether a blob row is present.
func (r *BlobRepo) Exists(ctx context.Context, name string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM blobs WHERE root=$1 AND name=$2)`
	var ok bool
	err := r.db.Pool.QueryRow(ctx, q, r.root, name).Scan(&ok)
	return ok, err
}

// List returns blob names with the given prefix ordered by name.
func (r *BlobRepo) List(ctx context.Context, prefix string) ([]string, error) {
	const q = `SELECT name FROM blobs WHERE root=$1 AND starts_with(name, $2) ORDER BY name`
	rows, err := r.db.Pool.Query(ctx, q, r.root, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
