// Package bolt stores database blobs in a single bbolt file, one bucket per database root.
package bolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// Repo is a bbolt-backed BlobRepository.
type Repo struct {
	db     *bbolt.DB
	path   string
	root   string
	bucket []byte
}

// Open opens (or creates) the bbolt file at path and binds the repository to root.
func Open(path, root string) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file: %w", err)
	}
	return New(db, path, root), nil
}

// New wraps an already opened database.
func New(db *bbolt.DB, path, root string) *Repo {
	return &Repo{db: db, path: path, root: root, bucket: []byte("db:" + root)}
}

var _ repository.BlobRepository = (*Repo)(nil)

// Close closes the underlying file.
func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) Root() string { return r.root }

func (r *Repo) Path(name string) string { return r.path + "#" + r.root + "/" + name }

func (r *Repo) Read(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", name, errs.ErrNotFound)
		}
		v := b.Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%s: %w", name, errs.ErrNotFound)
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

func (r *Repo) Write(_ context.Context, name string, data []byte) error {
	if err := repository.ValidName(name); err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(r.bucket)
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if data == nil {
			data = []byte{}
		}
		return b.Put([]byte(name), data)
	})
}

func (r *Repo) Delete(_ context.Context, name string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

func (r *Repo) Exists(_ context.Context, name string) (bool, error) {
	var ok bool
	err := r.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(r.bucket); b != nil {
			ok = b.Get([]byte(name)) != nil
		}
		return nil
	})
	return ok, err
}

func (r *Repo) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(r.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	slices.Sort(names)
	return names, err
}

// WriteAll replaces every blob in a single bbolt transaction.
func (r *Repo) WriteAll(_ context.Context, blobs []repository.Blob) error {
	for _, b := range blobs {
		if err := repository.ValidName(b.Name); err != nil {
			return err
		}
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(r.bucket)
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		for _, b := range blobs {
			data := b.Data
			if data == nil {
				data = []byte{}
			}
			if err := bk.Put([]byte(b.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}
