package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/errs"
)

// RebuildAllMetadataFromTrunk regenerates every metadata block from the trunk.
func (s *Store) RebuildAllMetadataFromTrunk(ctx context.Context) error {
	return s.q.Do(ctx, func(ctx context.Context) error {
		if err := s.writable(); err != nil {
			return err
		}
		return s.eng.RebuildAll(ctx, s.tr)
	})
}

// WriteItemMetadatasForBlock persists block k alone and returns its path.
func (s *Store) WriteItemMetadatasForBlock(ctx context.Context, k int) (string, error) {
	return call(ctx, s.q, func(ctx context.Context) (string, error) {
		if err := s.writable(); err != nil {
			return "", err
		}
		return s.eng.WriteBlock(ctx, s.tr, k)
	})
}

// MergeMetadata reconciles the persisted blocks into the trunk.
//
// It reports false when the block set could not be merged. An incomplete set
// is returned as errs.ErrIncompleteMetadataSet for the caller to retry later;
// any other failure rebuilds the blocks from the trunk before returning.
func (s *Store) MergeMetadata(ctx context.Context) (bool, error) {
	return call(ctx, s.q, s.mergeMetadata)
}

func (s *Store) mergeMetadata(ctx context.Context) (bool, error) {
	if err := s.unlocked(); err != nil {
		return false, err
	}
	res, err := s.eng.Merge(ctx, s.tr, s.opts.payloads)
	if errors.Is(err, errs.ErrIncompleteMetadataSet) {
		s.log.Info("metadata set incomplete, merge postponed", zap.Error(err))
		return false, err
	}
	if err != nil {
		s.log.Warn("metadata merge failed, rebuilding from trunk", zap.Error(err))
		if werr := s.writable(); werr != nil {
			return false, err
		}
		if rerr := s.eng.RebuildAll(ctx, s.tr); rerr != nil {
			return false, fmt.Errorf("rebuild after failed merge: %w", errors.Join(err, rerr))
		}
		return false, err
	}

	touched := append(append([]string(nil), res.Added...), res.Updated...)
	c := newChanges()
	if len(res.Added) > 0 {
		c.add(ListUpdated, res.Added...)
	}
	if len(res.Updated) > 0 {
		c.add(ItemsUpdated, res.Updated...)
	}
	if res.Changed() {
		c.add(TagsUpdated, touched...)
	}
	c.add(MergeCompleted, touched...)
	for _, k := range res.Stale {
		c.block(k)
	}

	if s.writable() != nil {
		// nothing may be written; observers still learn about the in-memory result
		for _, n := range c.notifications() {
			s.notify(ctx, n)
		}
		return true, nil
	}
	return true, s.commit(ctx, c)
}

// MetadataIsReadyToMerge is the hook for transports that just delivered blocks.
// When every block listed by the manifest is present it schedules a merge on
// the serial context and returns without waiting for it.
func (s *Store) MetadataIsReadyToMerge(ctx context.Context) error {
	return s.q.Go(ctx, func(ctx context.Context) {
		if s.unlocked() != nil {
			return
		}
		ready, err := s.eng.ReadyToMerge(ctx)
		if err != nil {
			s.log.Warn("metadata readiness check failed", zap.Error(err))
			return
		}
		if !ready {
			s.log.Debug("metadata not ready to merge")
			return
		}
		if _, err := s.mergeMetadata(ctx); err != nil {
			s.log.Warn("scheduled metadata merge failed", zap.Error(err))
		}
	})
}
