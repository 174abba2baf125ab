package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
)

// mutate runs fn on the queue against a writable store and commits what it recorded.
func (s *Store) mutate(ctx context.Context, fn func(ctx context.Context, c *changes) error) error {
	return s.q.Do(ctx, func(ctx context.Context) error {
		if err := s.writable(); err != nil {
			return err
		}
		c := newChanges()
		if err := fn(ctx, c); err != nil {
			return err
		}
		return s.commit(ctx, c)
	})
}

// AddItem inserts a copy of it and returns the stored item. An empty ID gets a random one.
func (s *Store) AddItem(ctx context.Context, it *model.Item) (*model.Item, error) {
	if it == nil {
		return nil, fmt.Errorf("nil item")
	}
	var out *model.Item
	err := s.mutate(ctx, func(_ context.Context, c *changes) error {
		if !it.Kind.Valid() {
			return fmt.Errorf("add item: invalid kind %d", int(it.Kind))
		}
		n := it.Clone()
		if n.ID == "" {
			id, err := uuid.NewV4()
			if err != nil {
				return err
			}
			n.ID = id.String()
		}
		if _, dup := s.tr.Get(n.ID); dup {
			return fmt.Errorf("item %s: %w", n.ID, errs.ErrAlreadyExists)
		}
		ts := s.stamp()
		n.Tags = model.NormalizeTags(n.Tags)
		n.UpdatedAt = ts
		if n.CreatedAt == 0 {
			n.CreatedAt = ts
		}
		n.Pending = false
		s.tr.Insert(n)

		c.add(ListUpdated, n.ID)
		c.add(ItemAdded, n.ID)
		if len(n.Tags) > 0 {
			c.add(TagsUpdated, n.ID)
		}
		c.block(s.eng.BlockOf(n.ID))
		out = n.Clone()
		return nil
	})
	return out, err
}

// DeleteItem removes the item and its attachments.
//
// Deletions are not carried in metadata blocks: another device that still
// lists the item will bring it back on merge.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.mutate(ctx, func(ctx context.Context, c *changes) error {
		it, ok := s.tr.Remove(id)
		if !ok {
			return fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
		}
		// blobs go once a trunk without the item is saved
		s.orphans = append(s.orphans, it.Attachments...)
		c.add(ListUpdated, id)
		if len(it.Tags) > 0 {
			c.add(TagsUpdated, id)
		}
		c.block(s.eng.BlockOf(id))
		return nil
	})
}

// UpdateItem applies fn to a copy of the item and stores the result.
// fn must not change the identifier.
func (s *Store) UpdateItem(ctx context.Context, id string, fn func(*model.Item)) (*model.Item, error) {
	var out *model.Item
	err := s.mutate(ctx, func(_ context.Context, c *changes) error {
		cur, ok := s.tr.Get(id)
		if !ok {
			return fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
		}
		next := cur.Clone()
		fn(next)
		if next.ID != id {
			return fmt.Errorf("update may not change identifier %s", id)
		}
		if !next.Kind.Valid() {
			return fmt.Errorf("update item %s: invalid kind %d", id, int(next.Kind))
		}
		next.Tags = model.NormalizeTags(next.Tags)
		next.UpdatedAt = s.stamp()
		next.Pending = cur.Pending && next.Payload == nil
		tagsChanged := !slices.Equal(cur.Tags, next.Tags)

		s.tr.Update(id, func(it *model.Item) { *it = *next })

		c.add(ItemsUpdated, id)
		if tagsChanged {
			c.add(TagsUpdated, id)
		}
		c.block(s.eng.BlockOf(id))
		out = next.Clone()
		return nil
	})
	return out, err
}

func (s *Store) setFlag(ctx context.Context, id string, set func(*model.Item) bool) error {
	return s.mutate(ctx, func(_ context.Context, c *changes) error {
		cur, ok := s.tr.Get(id)
		if !ok {
			return fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
		}
		trial := cur.Clone()
		if !set(trial) {
			return nil
		}
		ts := s.stamp()
		s.tr.Update(id, func(it *model.Item) {
			set(it)
			it.UpdatedAt = ts
		})
		c.add(ItemsUpdated, id)
		c.block(s.eng.BlockOf(id))
		return nil
	})
}

// MarkItemFavorited flags the item as a favorite.
func (s *Store) MarkItemFavorited(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(it *model.Item) bool {
		changed := !it.Favorite
		it.Favorite = true
		return changed
	})
}

// UnmarkItemFavorited clears the favorite flag.
func (s *Store) UnmarkItemFavorited(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(it *model.Item) bool {
		changed := it.Favorite
		it.Favorite = false
		return changed
	})
}

// ArchiveItem moves the item to the archive.
func (s *Store) ArchiveItem(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(it *model.Item) bool {
		changed := !it.Archived
		it.Archived = true
		return changed
	})
}

// UnarchiveItem restores the item from the archive.
func (s *Store) UnarchiveItem(ctx context.Context, id string) error {
	return s.setFlag(ctx, id, func(it *model.Item) bool {
		changed := it.Archived
		it.Archived = false
		return changed
	})
}

// retag rewrites the tags of every item for which edit reports a change.
func (s *Store) retag(ctx context.Context, edit func(tags []string) ([]string, bool)) error {
	return s.mutate(ctx, func(_ context.Context, c *changes) error {
		for _, it := range s.tr.All() {
			tags, changed := edit(slices.Clone(it.Tags))
			if !changed {
				continue
			}
			tags = model.NormalizeTags(tags)
			ts := s.stamp()
			s.tr.Update(it.ID, func(it *model.Item) {
				it.Tags = tags
				it.UpdatedAt = ts
			})
			c.add(ItemsUpdated, it.ID)
			c.add(TagsUpdated, it.ID)
			c.block(s.eng.BlockOf(it.ID))
		}
		return nil
	})
}

// DeleteTag removes tag from every item.
func (s *Store) DeleteTag(ctx context.Context, tag string) error {
	return s.retag(ctx, func(tags []string) ([]string, bool) {
		i := slices.Index(tags, tag)
		if i < 0 {
			return tags, false
		}
		return slices.Delete(tags, i, i+1), true
	})
}

// RenameTag replaces from with to on every item carrying from.
func (s *Store) RenameTag(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	return s.retag(ctx, func(tags []string) ([]string, bool) {
		i := slices.Index(tags, from)
		if i < 0 {
			return tags, false
		}
		tags[i] = to
		return tags, true
	})
}

// UpdateTags adds and removes tags on the given items.
func (s *Store) UpdateTags(ctx context.Context, ids []string, add, remove []string) error {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	return s.mutate(ctx, func(_ context.Context, c *changes) error {
		for _, id := range ids {
			if _, ok := s.tr.Get(id); !ok {
				return fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
			}
		}
		for _, id := range ids {
			it, _ := s.tr.Get(id)
			tags := slices.DeleteFunc(slices.Clone(it.Tags), func(t string) bool {
				return slices.Contains(remove, t)
			})
			tags = model.NormalizeTags(append(tags, add...))
			if slices.Equal(tags, it.Tags) {
				continue
			}
			ts := s.stamp()
			s.tr.Update(id, func(it *model.Item) {
				it.Tags = tags
				it.UpdatedAt = ts
			})
			c.add(ItemsUpdated, id)
			c.add(TagsUpdated, id)
			c.block(s.eng.BlockOf(id))
		}
		return nil
	})
}

// Item returns a copy of the item.
func (s *Store) Item(ctx context.Context, id string) (*model.Item, error) {
	return call(ctx, s.q, func(context.Context) (*model.Item, error) {
		if err := s.unlocked(); err != nil {
			return nil, err
		}
		it, ok := s.tr.Get(id)
		if !ok {
			return nil, fmt.Errorf("item %s: %w", id, errs.ErrNotFound)
		}
		return it.Clone(), nil
	})
}

// ItemsOfKind returns copies of the items of kind, oldest first.
func (s *Store) ItemsOfKind(ctx context.Context, kind model.Kind) ([]*model.Item, error) {
	return call(ctx, s.q, func(context.Context) ([]*model.Item, error) {
		if err := s.unlocked(); err != nil {
			return nil, err
		}
		view := s.tr.ItemsOfKind(kind)
		out := make([]*model.Item, len(view))
		for i, it := range view {
			out[i] = it.Clone()
		}
		return out, nil
	})
}

// AllTags returns the sorted set of tags in use.
func (s *Store) AllTags(ctx context.Context) ([]string, error) {
	return call(ctx, s.q, func(context.Context) ([]string, error) {
		if err := s.unlocked(); err != nil {
			return nil, err
		}
		return s.tr.AllTags(), nil
	})
}

// TrunkUpdatedAt returns the logical timestamp of the last trunk mutation.
func (s *Store) TrunkUpdatedAt(ctx context.Context) (int64, error) {
	return call(ctx, s.q, func(context.Context) (int64, error) {
		if err := s.unlocked(); err != nil {
			return 0, err
		}
		return s.tr.UpdatedAt(), nil
	})
}
