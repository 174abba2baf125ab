// Package metadata persists lightweight per-item metadata in independently
// writable, encrypted blocks and reconciles blocks delivered from other devices.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/descriptor"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/trunk"
)

// PayloadSource supplies full items for identifiers merge finds on disk but not in the trunk.
// It returns errs.ErrNotFound when the payload has not arrived.
type PayloadSource interface {
	Payload(ctx context.Context, id string) (*model.Item, error)
}

// Engine reads and writes the metadata blocks of one unlocked database.
type Engine struct {
	repo repository.BlobRepository
	keys blockKeys
	desc descriptor.Descriptor
	log  *zap.Logger
}

// NewEngine derives the block keys from the master key. The engine does not keep master.
func NewEngine(repo repository.BlobRepository, master []byte, d descriptor.Descriptor, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	keys, err := deriveBlockKeys(master, d.DBUUID)
	if err != nil {
		return nil, err
	}
	return &Engine{repo: repo, keys: keys, desc: d, log: log}, nil
}

// Wipe zeroes the derived keys. The engine is unusable afterwards.
func (e *Engine) Wipe() { e.keys.wipe() }

// BlockOf returns the block owning id.
func (e *Engine) BlockOf(id string) int {
	k, err := Partition(e.desc.PartitionVersion, e.desc.BlockCount, id)
	if err != nil {
		// descriptor.Open rejects unknown partition versions and empty block counts
		panic(err)
	}
	return k
}

func (e *Engine) emptyManifest() Manifest {
	return Manifest{
		Format:     BlockFormat,
		Partition:  e.desc.PartitionVersion,
		DB:         e.desc.DBUUID,
		BlockCount: e.desc.BlockCount,
		Blocks:     []int{},
	}
}

// buckets groups the trunk's metadata by block, each bucket sorted by identifier.
func (e *Engine) buckets(tr *trunk.Trunk) map[int][]model.ItemMetadata {
	out := make(map[int][]model.ItemMetadata)
	for _, it := range tr.All() {
		k := e.BlockOf(it.ID)
		out[k] = append(out[k], it.Metadata())
	}
	return out
}

func (e *Engine) writeBlock(ctx context.Context, k int, items []model.ItemMetadata) error {
	data, err := e.keys.seal(e.desc.DBUUID, e.desc.PartitionVersion, k, items)
	if err != nil {
		return err
	}
	if err := e.repo.Write(ctx, repository.BlockName(k), data); err != nil {
		return fmt.Errorf("write block %d: %w", k, err)
	}
	return nil
}

func (e *Engine) writeManifest(ctx context.Context, m Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return e.repo.Write(ctx, repository.NameManifest, data)
}

// RebuildAll regenerates every block from the trunk alone. Buckets without items
// lose their block file. Unchanged input produces byte-identical files.
func (e *Engine) RebuildAll(ctx context.Context, tr *trunk.Trunk) error {
	buckets := e.buckets(tr)
	m := e.emptyManifest()
	for k := range e.desc.BlockCount {
		items, ok := buckets[k]
		if !ok {
			if err := e.repo.Delete(ctx, repository.BlockName(k)); err != nil {
				return err
			}
			continue
		}
		if err := e.writeBlock(ctx, k, items); err != nil {
			return err
		}
		m.Blocks = append(m.Blocks, k)
	}
	if err := e.writeManifest(ctx, m); err != nil {
		return err
	}
	e.log.Debug("metadata rebuilt", zap.Int("blocks", len(m.Blocks)), zap.Int("items", tr.Len()))
	return nil
}

// WriteBlock persists exactly the items of block k and lists k in the manifest.
// It returns the path of the written block.
func (e *Engine) WriteBlock(ctx context.Context, tr *trunk.Trunk, k int) (string, error) {
	if k < 0 || k >= e.desc.BlockCount {
		return "", fmt.Errorf("block %d out of range [0,%d)", k, e.desc.BlockCount)
	}
	var items []model.ItemMetadata
	for _, it := range tr.All() {
		if e.BlockOf(it.ID) == k {
			items = append(items, it.Metadata())
		}
	}
	if err := e.writeBlock(ctx, k, items); err != nil {
		return "", err
	}
	m, err := e.manifest(ctx)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		e.log.Warn("manifest unreadable, relisting blocks", zap.Error(err))
	}
	stale := err != nil || !m.Compatible(e.emptyManifest())
	if stale {
		if m, err = e.relist(ctx); err != nil {
			return "", err
		}
	}
	if stale || !m.Has(k) {
		m.Add(k)
		if err := e.writeManifest(ctx, m); err != nil {
			return "", err
		}
	}
	return e.repo.Path(repository.BlockName(k)), nil
}

// relist builds a manifest from the block files of this database that exist.
func (e *Engine) relist(ctx context.Context) (Manifest, error) {
	m := e.emptyManifest()
	names, err := e.repo.List(ctx, repository.BlockPrefix)
	if err != nil {
		return Manifest{}, err
	}
	for _, n := range names {
		k, ok := repository.ParseBlockName(n)
		if !ok || k >= e.desc.BlockCount {
			continue
		}
		data, err := e.repo.Read(ctx, n)
		if err != nil {
			return Manifest{}, err
		}
		h, err := ParseHeader(data)
		if err != nil || h.Block != k || h.DB != e.desc.DBUUID || h.Partition != e.desc.PartitionVersion {
			e.log.Warn("block left out of manifest", zap.Int("block", k))
			continue
		}
		m.Add(k)
	}
	return m, nil
}

func (e *Engine) manifest(ctx context.Context) (Manifest, error) {
	data, err := e.repo.Read(ctx, repository.NameManifest)
	if err != nil {
		return Manifest{}, err
	}
	return ParseManifest(data)
}

// ReadyToMerge reports whether every block listed by the manifest is present.
// A store without a manifest has nothing to merge.
func (e *Engine) ReadyToMerge(ctx context.Context) (bool, error) {
	m, err := e.manifest(ctx)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !m.Compatible(e.emptyManifest()) {
		return false, fmt.Errorf("manifest of another database: %w", errs.ErrDamaged)
	}
	for _, k := range m.Blocks {
		ok, err := e.repo.Exists(ctx, repository.BlockName(k))
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
