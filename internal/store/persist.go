package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/descriptor"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// stagedNames are the blobs a master-password change replaces together, in staging order.
var stagedNames = []string{repository.NameSalt, repository.NameDescriptor, repository.NameTrunk}

// stamp returns a millisecond timestamp strictly greater than anything the trunk has seen.
func (s *Store) stamp() int64 {
	now := s.opts.now().UnixMilli()
	if next := s.tr.UpdatedAt() + 1; now < next {
		return next
	}
	return now
}

func (s *Store) dirty() bool { return s.tr != nil && s.tr.UpdatedAt() != s.savedAt }

// SaveTrunk encrypts and writes the trunk unconditionally.
func (s *Store) SaveTrunk(ctx context.Context) error {
	return s.q.Do(ctx, func(ctx context.Context) error {
		if err := s.writable(); err != nil {
			return err
		}
		return s.saveTrunk(ctx)
	})
}

// SaveTrunkIfNecessary writes the trunk only when it changed since the last
// save and reports whether it did.
func (s *Store) SaveTrunkIfNecessary(ctx context.Context) (bool, error) {
	return call(ctx, s.q, func(ctx context.Context) (bool, error) {
		if err := s.writable(); err != nil {
			return false, err
		}
		return s.saveTrunkIfNecessary(ctx)
	})
}

func (s *Store) saveTrunkIfNecessary(ctx context.Context) (bool, error) {
	if !s.dirty() {
		return false, nil
	}
	if err := s.saveTrunk(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) sealTrunk(key []byte) ([]byte, error) {
	plain, err := s.tr.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal trunk: %w", err)
	}
	defer crypto.Zero(plain)
	return descriptor.SealBlob(plain, key)
}

func (s *Store) saveTrunk(ctx context.Context) error {
	data, err := s.sealTrunk(s.key)
	if err != nil {
		return err
	}
	if err := s.repo.Write(ctx, repository.NameTrunk, data); err != nil {
		return fmt.Errorf("save trunk: %w", err)
	}
	s.savedAt = s.tr.UpdatedAt()
	s.log.Debug("trunk saved", zap.Int("items", s.tr.Len()), zap.Int64("updated_at", s.savedAt))
	s.dropOrphans(ctx)
	return nil
}

// persist flushes c: the trunk first, then the dirty metadata blocks, then observers.
// Metadata failures are logged; the trunk stays authoritative and a later rebuild repairs blocks.
func (s *Store) persist(ctx context.Context, c *changes) error {
	if _, err := s.saveTrunkIfNecessary(ctx); err != nil {
		return err
	}
	if s.eng != nil {
		if c.rebuild {
			if err := s.eng.RebuildAll(ctx, s.tr); err != nil {
				s.log.Warn("metadata rebuild failed", zap.Error(err))
			}
		} else {
			for _, k := range c.dirtyBlocks() {
				if _, err := s.eng.WriteBlock(ctx, s.tr, k); err != nil {
					s.log.Warn("metadata block not written", zap.Int("block", k), zap.Error(err))
				}
			}
		}
	}
	for _, n := range c.notifications() {
		s.notify(ctx, n)
	}
	return nil
}

// dropOrphans deletes attachment blobs of items the saved trunk no longer holds.
func (s *Store) dropOrphans(ctx context.Context) {
	for _, a := range s.orphans {
		if err := s.repo.Delete(ctx, repository.AttachmentName(a)); err != nil {
			s.log.Warn("attachment not deleted", zap.String("attachment", a), zap.Error(err))
		}
	}
	s.orphans = nil
}

// commit records c against the open batch, or flushes it right away.
func (s *Store) commit(ctx context.Context, c *changes) error {
	if c.empty() {
		return nil
	}
	if s.batch != nil {
		s.batch.merge(c)
		return nil
	}
	return s.persist(ctx, c)
}

func (c *changes) merge(o *changes) {
	for e, set := range o.events {
		for id := range set {
			c.add(e, id)
		}
	}
	for k := range o.blocks {
		c.block(k)
	}
	c.rebuild = c.rebuild || o.rebuild
}

// BeginBatchOperations defers persistence and notifications until EndBatchOperations.
func (s *Store) BeginBatchOperations(ctx context.Context) error {
	return s.q.Do(ctx, func(context.Context) error {
		if err := s.writable(); err != nil {
			return err
		}
		if s.batch != nil {
			return errs.ErrBatchInProgress
		}
		s.batch = newChanges()
		return nil
	})
}

// EndBatchOperations saves the trunk once, rewrites the dirty blocks and
// delivers one coalesced notification per event.
func (s *Store) EndBatchOperations(ctx context.Context) error {
	return s.q.Do(ctx, func(ctx context.Context) error {
		if s.batch == nil {
			return errs.ErrNoBatch
		}
		c := s.batch
		s.batch = nil
		if err := s.writable(); err != nil {
			return err
		}
		return s.persist(ctx, c)
	})
}

// recoverStaging finishes a master-password change interrupted after staging.
// A complete staging set is rolled forward, an incomplete one is discarded.
func (s *Store) recoverStaging(ctx context.Context) error {
	staged := make([]repository.Blob, 0, len(stagedNames))
	present := 0
	for _, name := range stagedNames {
		data, err := s.raw.Read(ctx, repository.Staging(name))
		switch {
		case errors.Is(err, errs.ErrNotFound):
			continue
		case err != nil:
			return fmt.Errorf("read staging %s: %w", name, err)
		}
		present++
		staged = append(staged, repository.Blob{Name: name, Data: data})
	}
	if present == 0 {
		return nil
	}
	if present == len(stagedNames) {
		if err := repository.WriteAll(ctx, s.repo, staged); err != nil {
			return fmt.Errorf("roll forward password change: %w", err)
		}
		s.rekeyed = true
		s.log.Info("interrupted password change completed")
	} else {
		s.log.Warn("incomplete password change discarded", zap.Int("staged", present))
	}
	return s.dropStaging(ctx)
}

func (s *Store) dropStaging(ctx context.Context) error {
	for _, name := range stagedNames {
		if err := s.raw.Delete(ctx, repository.Staging(name)); err != nil {
			return fmt.Errorf("delete staging %s: %w", name, err)
		}
	}
	return nil
}

// ChangeMasterPassword re-keys the database. The old password keeps working
// until every replacement blob is staged and committed.
func (s *Store) ChangeMasterPassword(ctx context.Context, newPassword []byte) error {
	d, err := call(ctx, s.q, func(context.Context) (descriptor.Descriptor, error) {
		if err := s.writable(); err != nil {
			return descriptor.Descriptor{}, err
		}
		return s.desc, nil
	})
	if err != nil {
		return err
	}
	rk, err := descriptor.ChangeMasterPassword(newPassword, d, s.opts.kdf)
	if err != nil {
		return err
	}
	defer crypto.Zero(rk.Key)

	return s.q.Do(ctx, func(ctx context.Context) error {
		if err := s.writable(); err != nil {
			return err
		}
		if s.desc.DBUUID != d.DBUUID {
			return fmt.Errorf("database changed during password change: %w", errs.ErrNotUnlocked)
		}
		blobs, err := s.rekeyBlobs(rk)
		if err != nil {
			return err
		}

		for _, b := range blobs {
			if err := s.repo.Write(ctx, repository.Staging(b.Name), b.Data); err != nil {
				if derr := s.dropStaging(ctx); derr != nil {
					s.log.Warn("staging cleanup failed", zap.Error(derr))
				}
				return fmt.Errorf("stage %s: %w", b.Name, err)
			}
		}

		attachments, previous, err := s.resealAttachments(ctx, rk.Key)
		if err != nil {
			if derr := s.dropStaging(ctx); derr != nil {
				s.log.Warn("staging cleanup failed", zap.Error(derr))
			}
			return err
		}
		for _, name := range stagedNames {
			data, err := s.raw.Read(ctx, name)
			if err != nil {
				if derr := s.dropStaging(ctx); derr != nil {
					s.log.Warn("staging cleanup failed", zap.Error(derr))
				}
				return fmt.Errorf("read %s: %w", name, err)
			}
			previous = append(previous, repository.Blob{Name: name, Data: data})
		}

		// attachments first: a crash after them is finished by the staging roll-forward
		commit := append(attachments, blobs...)
		if err := repository.WriteAll(ctx, s.repo, commit); err != nil {
			committed, rerr := s.settleCommit(ctx, commit, previous)
			if rerr != nil {
				return fmt.Errorf("commit password change: %w", errors.Join(err, rerr))
			}
			if !committed {
				return fmt.Errorf("commit password change: %w", err)
			}
			s.log.Warn("password change committed on retry", zap.Error(err))
		}
		if err := s.dropStaging(ctx); err != nil {
			s.log.Warn("staging cleanup failed", zap.Error(err))
		}

		if err := s.switchKey(rk.Key); err != nil {
			return err
		}
		s.savedAt = s.tr.UpdatedAt()
		if err := s.eng.RebuildAll(ctx, s.tr); err != nil {
			s.log.Warn("metadata rebuild after password change failed", zap.Error(err))
		}
		s.log.Info("master password changed")
		return nil
	})
}

// settleCommit leaves the primaries in one consistent generation after a failed
// commit. It retries the whole set first; failing that, it restores every blob
// that already holds new content. Only when both fail is the store locked, with
// the staging set kept for Load or Unlock to roll forward.
func (s *Store) settleCommit(ctx context.Context, commit, previous []repository.Blob) (bool, error) {
	if err := repository.WriteAll(ctx, s.repo, commit); err == nil {
		return true, nil
	}
	written := make(map[string][]byte, len(commit))
	for _, b := range commit {
		written[b.Name] = b.Data
	}
	var failed []error
	for _, b := range previous {
		cur, err := s.raw.Read(ctx, b.Name)
		if err == nil && !bytes.Equal(cur, written[b.Name]) {
			continue
		}
		if err := s.repo.Write(ctx, b.Name, b.Data); err != nil {
			failed = append(failed, fmt.Errorf("restore %s: %w", b.Name, err))
		}
	}
	if len(failed) > 0 {
		s.wipe()
		s.setState(StateLocked)
		return false, errors.Join(failed...)
	}
	if err := s.dropStaging(ctx); err != nil {
		s.log.Warn("staging cleanup failed", zap.Error(err))
	}
	s.log.Warn("password change rolled back")
	return false, nil
}

func (s *Store) rekeyBlobs(rk descriptor.Rekey) ([]repository.Blob, error) {
	saltData, err := descriptor.EncodeSalt(rk.Salt)
	if err != nil {
		return nil, err
	}
	descData, err := descriptor.EncodeBlob(rk.Descriptor)
	if err != nil {
		return nil, err
	}
	trunkData, err := s.sealTrunk(rk.Key)
	if err != nil {
		return nil, err
	}
	return []repository.Blob{
		{Name: repository.NameSalt, Data: saltData},
		{Name: repository.NameDescriptor, Data: descData},
		{Name: repository.NameTrunk, Data: trunkData},
	}, nil
}

// resealAttachments returns every attachment sealed under key, and the blobs it replaces.
func (s *Store) resealAttachments(ctx context.Context, key []byte) (sealed, previous []repository.Blob, err error) {
	for _, it := range s.tr.All() {
		for _, a := range it.Attachments {
			name := repository.AttachmentName(a)
			data, err := s.raw.Read(ctx, name)
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, fmt.Errorf("read attachment %s: %w", a, err)
			}
			plain, err := box.OpenCombined(data, s.key)
			if err != nil {
				return nil, nil, fmt.Errorf("attachment %s: %w", a, errs.ErrDamaged)
			}
			out, err := box.SealCombined(plain, key)
			crypto.Zero(plain)
			if err != nil {
				return nil, nil, err
			}
			sealed = append(sealed, repository.Blob{Name: name, Data: out})
			previous = append(previous, repository.Blob{Name: name, Data: data})
		}
	}
	return sealed, previous, nil
}

func (s *Store) switchKey(key []byte) error {
	crypto.Zero(s.key)
	s.key = append([]byte(nil), key...)
	if s.eng != nil {
		s.eng.Wipe()
	}
	eng, err := s.newEngine(key)
	if err != nil {
		return err
	}
	s.eng = eng
	return nil
}
