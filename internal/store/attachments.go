package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/crypto/box"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
	"github.com/and161185/gophstore/internal/repository"
)

// AddAttachment encrypts data under the master key, stores it next to the
// database and links it to the item. It returns the attachment identifier.
func (s *Store) AddAttachment(ctx context.Context, itemID string, data []byte) (string, error) {
	var attID string
	err := s.mutate(ctx, func(ctx context.Context, c *changes) error {
		if _, ok := s.tr.Get(itemID); !ok {
			return fmt.Errorf("item %s: %w", itemID, errs.ErrNotFound)
		}
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		sealed, err := box.SealCombined(data, s.key)
		if err != nil {
			return err
		}
		if err := s.repo.Write(ctx, repository.AttachmentName(id.String()), sealed); err != nil {
			return fmt.Errorf("write attachment: %w", err)
		}
		ts := s.stamp()
		s.tr.Update(itemID, func(it *model.Item) {
			it.Attachments = append(it.Attachments, id.String())
			it.UpdatedAt = ts
		})
		c.add(ItemsUpdated, itemID)
		c.block(s.eng.BlockOf(itemID))
		attID = id.String()
		return nil
	})
	return attID, err
}

// Attachment returns the decrypted contents of an attachment of itemID.
func (s *Store) Attachment(ctx context.Context, itemID, attachmentID string) ([]byte, error) {
	return call(ctx, s.q, func(ctx context.Context) ([]byte, error) {
		if err := s.unlocked(); err != nil {
			return nil, err
		}
		it, ok := s.tr.Get(itemID)
		if !ok || !slices.Contains(it.Attachments, attachmentID) {
			return nil, fmt.Errorf("attachment %s: %w", attachmentID, errs.ErrNotFound)
		}
		data, err := s.raw.Read(ctx, repository.AttachmentName(attachmentID))
		if err != nil {
			return nil, err
		}
		plain, err := box.OpenCombined(data, s.key)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", attachmentID, errs.ErrDamaged)
		}
		return plain, nil
	})
}
