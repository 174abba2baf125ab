package metadata

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/trunk"
)

// MergeResult describes what a merge changed.
type MergeResult struct {
	// Added are identifiers inserted into the trunk (full items or pending stubs).
	Added []string
	// Updated are identifiers whose metadata was overwritten by a newer block entry.
	Updated []string
	// Stale are blocks whose on-disk contents lost against the trunk and need rewriting.
	Stale []int
	// Blocks is the number of block files read.
	Blocks int
}

// Changed reports whether the trunk was mutated.
func (r MergeResult) Changed() bool { return len(r.Added) > 0 || len(r.Updated) > 0 }

// Merge reconciles every persisted block into tr with last-writer-wins per item.
//
// All blocks are read and validated before the trunk is touched, so a damaged
// or incomplete set leaves tr unchanged. Identifiers present in the trunk but
// absent from the blocks are kept; absence is not a deletion.
func (e *Engine) Merge(ctx context.Context, tr *trunk.Trunk, src PayloadSource) (MergeResult, error) {
	blocks, err := e.blockSet(ctx)
	if err != nil {
		return MergeResult{}, err
	}

	disk := make(map[string]model.ItemMetadata)
	seen := make(map[int]map[string]struct{}, len(blocks))
	for _, k := range blocks {
		items, err := e.readBlock(ctx, k)
		if err != nil {
			return MergeResult{}, err
		}
		ids := make(map[string]struct{}, len(items))
		for _, m := range items {
			if m.ID == "" || !m.Kind.Valid() || e.BlockOf(m.ID) != k {
				return MergeResult{}, fmt.Errorf("block %d item %q: %w", k, m.ID, errs.ErrDamaged)
			}
			if _, dup := disk[m.ID]; dup {
				return MergeResult{}, fmt.Errorf("block %d duplicate %q: %w", k, m.ID, errs.ErrDamaged)
			}
			disk[m.ID] = m
			ids[m.ID] = struct{}{}
		}
		seen[k] = ids
	}

	res := MergeResult{Blocks: len(blocks)}
	stale := make(map[int]struct{})

	ids := make([]string, 0, len(disk))
	for id := range disk {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		m := disk[id]
		cur, ok := tr.Get(id)
		if !ok {
			tr.Insert(e.resolve(ctx, src, m))
			res.Added = append(res.Added, id)
			continue
		}
		switch {
		case m.UpdatedAt > cur.UpdatedAt:
			tr.Update(id, func(it *model.Item) {
				it.Kind = m.Kind
				it.ApplyMetadata(m)
			})
			res.Updated = append(res.Updated, id)
		case m.UpdatedAt < cur.UpdatedAt:
			stale[e.BlockOf(id)] = struct{}{}
		}
	}

	// trunk items missing from their block must be written back out
	for _, id := range tr.IDs() {
		k := e.BlockOf(id)
		if _, ok := seen[k][id]; !ok {
			stale[k] = struct{}{}
		}
	}

	tr.RebuildCategoryViews()
	tr.InvalidateTags()

	for k := range stale {
		res.Stale = append(res.Stale, k)
	}
	slices.Sort(res.Stale)

	e.log.Debug("metadata merged",
		zap.Int("blocks", res.Blocks),
		zap.Int("added", len(res.Added)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("stale", len(res.Stale)),
	)
	return res, nil
}

// resolve builds the trunk item for an identifier only known from metadata.
func (e *Engine) resolve(ctx context.Context, src PayloadSource, m model.ItemMetadata) *model.Item {
	if src != nil {
		it, err := src.Payload(ctx, m.ID)
		switch {
		case err == nil && it != nil && it.ID == m.ID && it.Kind.Valid():
			it = it.Clone()
			it.Pending = false
			if m.UpdatedAt > it.UpdatedAt {
				it.Kind = m.Kind
				it.ApplyMetadata(m)
			}
			return it
		case err != nil && !errors.Is(err, errs.ErrNotFound):
			e.log.Warn("payload source failed", zap.String("id", m.ID), zap.Error(err))
		}
	}
	stub := &model.Item{ID: m.ID, Kind: m.Kind, Pending: true}
	stub.ApplyMetadata(m)
	return stub
}

// blockSet returns the blocks to merge: the manifest's list when there is one,
// otherwise whatever block files exist. A listed block that is missing means the
// delivery is incomplete.
func (e *Engine) blockSet(ctx context.Context) ([]int, error) {
	m, err := e.manifest(ctx)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		names, err := e.repo.List(ctx, repository.BlockPrefix)
		if err != nil {
			return nil, err
		}
		var blocks []int
		for _, n := range names {
			if k, ok := repository.ParseBlockName(n); ok && k < e.desc.BlockCount {
				blocks = append(blocks, k)
			}
		}
		return blocks, nil
	case err != nil:
		return nil, err
	}
	if !m.Compatible(e.emptyManifest()) {
		return nil, fmt.Errorf("manifest of another database: %w", errs.ErrDamaged)
	}
	for _, k := range m.Blocks {
		ok, err := e.repo.Exists(ctx, repository.BlockName(k))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("block %d: %w", k, errs.ErrIncompleteMetadataSet)
		}
	}
	return m.Blocks, nil
}

func (e *Engine) readBlock(ctx context.Context, k int) ([]model.ItemMetadata, error) {
	data, err := e.repo.Read(ctx, repository.BlockName(k))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("block %d: %w", k, errs.ErrIncompleteMetadataSet)
	}
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Block != k || h.DB != e.desc.DBUUID || h.Partition != e.desc.PartitionVersion {
		return nil, fmt.Errorf("block %d header mismatch: %w", k, errs.ErrDamaged)
	}
	return e.keys.open(h)
}
