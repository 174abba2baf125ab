// Package memory is a map-backed BlobRepository for tests and demo databases.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// Repo keeps blobs in memory. Safe for concurrent use.
type Repo struct {
	root string

	mu    sync.RWMutex
	blobs map[string][]byte

	// FailWrite, when set, is consulted before every write. Tests use it to inject faults.
	FailWrite func(name string) error
}

// New returns an empty repository labelled root.
func New(root string) *Repo {
	return &Repo{root: root, blobs: make(map[string][]byte)}
}

var _ repository.BlobRepository = (*Repo)(nil)

func (r *Repo) Root() string { return r.root }

func (r *Repo) Path(name string) string { return "mem://" + r.root + "/" + name }

func (r *Repo) Read(_ context.Context, name string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
	}
	return slices.Clone(b), nil
}

func (r *Repo) Write(_ context.Context, name string, data []byte) error {
	if err := repository.ValidName(name); err != nil {
		return err
	}
	if r.FailWrite != nil {
		if err := r.FailWrite(name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[name] = slices.Clone(data)
	return nil
}

func (r *Repo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, name)
	return nil
}

func (r *Repo) Exists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blobs[name]
	return ok, nil
}

func (r *Repo) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for n := range r.blobs {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}
