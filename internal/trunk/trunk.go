// Package trunk holds the decrypted, in-memory authoritative dataset of an unlocked store.
//
// A Trunk is not safe for concurrent use; the store serializes every access.
package trunk

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/and161185/gophstore/internal/model"
)

// Trunk maps item identifiers to items and keeps per-kind views consistent with the map.
type Trunk struct {
	items map[string]*model.Item
	views map[model.Kind][]*model.Item

	tags      []string
	tagsValid bool

	updatedAt int64
}

// New returns an empty trunk.
func New() *Trunk {
	return &Trunk{
		items: make(map[string]*model.Item),
		views: make(map[model.Kind][]*model.Item),
	}
}

// Len returns the number of items.
func (t *Trunk) Len() int { return len(t.items) }

// UpdatedAt is the logical timestamp of the last mutation.
func (t *Trunk) UpdatedAt() int64 { return t.updatedAt }

// Get returns the stored item. Callers must not mutate it outside Update.
func (t *Trunk) Get(id string) (*model.Item, bool) {
	it, ok := t.items[id]
	return it, ok
}

// All returns every item ordered by identifier.
func (t *Trunk) All() []*model.Item {
	out := make([]*model.Item, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b *model.Item) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// IDs returns every identifier in sorted order.
func (t *Trunk) IDs() []string {
	ids := make([]string, 0, len(t.items))
	for id := range t.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ItemsOfKind returns the view for kind, ordered by creation time then identifier.
// The returned slice is a copy; the items are not.
func (t *Trunk) ItemsOfKind(kind model.Kind) []*model.Item {
	return slices.Clone(t.views[kind])
}

// Insert adds a new item. Inserting an identifier that is already present is a
// caller bug and panics.
func (t *Trunk) Insert(it *model.Item) {
	if it == nil || it.ID == "" {
		panic("trunk: insert of item without identifier")
	}
	if _, dup := t.items[it.ID]; dup {
		panic(fmt.Sprintf("trunk: duplicate identifier %q", it.ID))
	}
	t.items[it.ID] = it
	t.addToView(it)
	t.InvalidateTags()
	t.touch(it.UpdatedAt)
}

// Remove deletes an item and returns it.
func (t *Trunk) Remove(id string) (*model.Item, bool) {
	it, ok := t.items[id]
	if !ok {
		return nil, false
	}
	delete(t.items, id)
	t.removeFromView(it)
	t.InvalidateTags()
	t.touch(it.UpdatedAt)
	return it, true
}

// Update applies fn to the stored item and reconciles views. Changing the
// identifier inside fn panics.
func (t *Trunk) Update(id string, fn func(*model.Item)) bool {
	it, ok := t.items[id]
	if !ok {
		return false
	}
	kind, created := it.Kind, it.CreatedAt
	fn(it)
	if it.ID != id {
		panic(fmt.Sprintf("trunk: update changed identifier %q to %q", id, it.ID))
	}
	if it.Kind != kind || it.CreatedAt != created {
		t.removeFromViewAt(kind, id)
		t.addToView(it)
	}
	t.InvalidateTags()
	t.touch(it.UpdatedAt)
	return true
}

// RebuildCategoryViews recomputes every view from the map.
func (t *Trunk) RebuildCategoryViews() {
	views := make(map[model.Kind][]*model.Item, len(t.views))
	for _, it := range t.items {
		views[it.Kind] = append(views[it.Kind], it)
	}
	for k := range views {
		slices.SortFunc(views[k], viewOrder)
	}
	t.views = views
}

// AllTags returns the sorted set of distinct tags across all items.
func (t *Trunk) AllTags() []string {
	if !t.tagsValid {
		var all []string
		for _, it := range t.items {
			all = append(all, it.Tags...)
		}
		t.tags = model.NormalizeTags(all)
		t.tagsValid = true
	}
	return slices.Clone(t.tags)
}

// InvalidateTags forces the next AllTags call to rescan items.
func (t *Trunk) InvalidateTags() { t.tagsValid = false }

// Wipe zeroes payloads and drops every reference held by the trunk.
func (t *Trunk) Wipe() {
	for _, it := range t.items {
		clear(it.Payload)
		it.Payload = nil
	}
	t.items = make(map[string]*model.Item)
	t.views = make(map[model.Kind][]*model.Item)
	t.tags, t.tagsValid = nil, false
	t.updatedAt = 0
}

func (t *Trunk) touch(stamp int64) {
	t.updatedAt = max(t.updatedAt+1, stamp)
}

func (t *Trunk) addToView(it *model.Item) {
	v := t.views[it.Kind]
	i, _ := slices.BinarySearchFunc(v, it, viewOrder)
	t.views[it.Kind] = slices.Insert(v, i, it)
}

func (t *Trunk) removeFromView(it *model.Item) { t.removeFromViewAt(it.Kind, it.ID) }

func (t *Trunk) removeFromViewAt(kind model.Kind, id string) {
	v := t.views[kind]
	if i := slices.IndexFunc(v, func(x *model.Item) bool { return x.ID == id }); i >= 0 {
		t.views[kind] = slices.Delete(v, i, i+1)
	}
}

func viewOrder(a, b *model.Item) int {
	if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
