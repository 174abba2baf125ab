// Package file stores database blobs as files in a directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

const tmpPrefix = ".tmp-"

// Repo is a directory-backed BlobRepository. Writes go through a temp file and rename.
type Repo struct {
	root string
}

// New returns a repository rooted at dir. The directory is created on first write.
func New(dir string) *Repo {
	return &Repo{root: filepath.Clean(dir)}
}

var _ repository.BlobRepository = (*Repo)(nil)

// Root returns the database directory.
func (r *Repo) Root() string { return r.root }

// Path returns the file path of a blob.
func (r *Repo) Path(name string) string {
	return filepath.Join(r.root, filepath.FromSlash(name))
}

// Read returns the file contents.
func (r *Repo) Read(_ context.Context, name string) ([]byte, error) {
	if err := repository.ValidName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces the file atomically.
func (r *Repo) Write(_ context.Context, name string, data []byte) (err error) {
	if err := repository.ValidName(name); err != nil {
		return err
	}
	path := r.Path(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Delete removes the file if present.
func (r *Repo) Delete(_ context.Context, name string) error {
	if err := repository.ValidName(name); err != nil {
		return err
	}
	if err := os.Remove(r.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the file is present.
func (r *Repo) Exists(_ context.Context, name string) (bool, error) {
	if err := repository.ValidName(name); err != nil {
		return false, err
	}
	_, err := os.Stat(r.Path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// List walks the root and returns blob names with the given prefix.
func (r *Repo) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}
