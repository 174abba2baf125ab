// Package keychain caches derived master keys outside the database so a later
// unlock can skip key derivation.
package keychain

import (
	"context"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/errs"
)

// Keychain stores one master key per database UUID.
type Keychain interface {
	Put(ctx context.Context, db uuid.UUID, key []byte) error
	// Get returns errs.ErrNotFound when no key is cached for db.
	Get(ctx context.Context, db uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, db uuid.UUID) error
}

// Memory keeps keys for the lifetime of the process.
type Memory struct {
	mu   sync.Mutex
	keys map[uuid.UUID][]byte
}

func NewMemory() *Memory { return &Memory{keys: make(map[uuid.UUID][]byte)} }

func (m *Memory) Put(_ context.Context, db uuid.UUID, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[db] = slices.Clone(key)
	return nil
}

func (m *Memory) Get(_ context.Context, db uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[db]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return slices.Clone(k), nil
}

func (m *Memory) Delete(_ context.Context, db uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[db]; ok {
		clear(k)
		delete(m.keys, db)
	}
	return nil
}
