package store

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/repository"
)

// Event names a kind of change observers are told about.
type Event int

const (
	// ListUpdated fires when items were added to or removed from the trunk.
	ListUpdated Event = iota + 1
	// ItemsUpdated fires when existing items changed.
	ItemsUpdated
	// ItemAdded fires for each batch of newly created items.
	ItemAdded
	// TagsUpdated fires when the set of tags may have changed.
	TagsUpdated
	// MergeCompleted fires after a metadata merge was applied.
	MergeCompleted
)

var eventOrder = []Event{ListUpdated, ItemsUpdated, ItemAdded, TagsUpdated, MergeCompleted}

func (e Event) String() string {
	switch e {
	case ListUpdated:
		return "list-updated"
	case ItemsUpdated:
		return "items-updated"
	case ItemAdded:
		return "item-added"
	case TagsUpdated:
		return "tags-updated"
	case MergeCompleted:
		return "merge-completed"
	}
	return "unknown"
}

// Notification is delivered to observers once per event per flush.
type Notification struct {
	Event   Event
	ItemIDs []string
}

// Observer receives notifications on the store's serial context. ctx may be
// passed back into Store methods, which then run inline.
type Observer func(ctx context.Context, n Notification)

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (cancel func()) {
	s.obsMu.Lock()
	id := s.obsNext
	s.obsNext++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Store) notify(ctx context.Context, n Notification) {
	s.obsMu.Lock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	obs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, s.observers[id])
	}
	s.obsMu.Unlock()

	for _, fn := range obs {
		fn(ctx, Notification{Event: n.Event, ItemIDs: slices.Clone(n.ItemIDs)})
	}
}

// changes accumulates what a mutation or a batch touched until it is flushed.
type changes struct {
	events  map[Event]map[string]struct{}
	blocks  map[int]struct{}
	rebuild bool
}

func newChanges() *changes {
	return &changes{
		events: make(map[Event]map[string]struct{}),
		blocks: make(map[int]struct{}),
	}
}

func (c *changes) add(e Event, ids ...string) {
	set, ok := c.events[e]
	if !ok {
		set = make(map[string]struct{})
		c.events[e] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (c *changes) block(k int) { c.blocks[k] = struct{}{} }

func (c *changes) empty() bool {
	return len(c.events) == 0 && len(c.blocks) == 0 && !c.rebuild
}

func (c *changes) notifications() []Notification {
	var out []Notification
	for _, e := range eventOrder {
		set, ok := c.events[e]
		if !ok {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		out = append(out, Notification{Event: e, ItemIDs: ids})
	}
	return out
}

func (c *changes) dirtyBlocks() []int {
	out := make([]int, 0, len(c.blocks))
	for k := range c.blocks {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Delegate is told about every blob write the store performs.
type Delegate interface {
	WillWriteFile(path string)
	DidWriteFile(path string, err error)
}

// hookedRepo fires the delegate around writes to the wrapped repository.
type hookedRepo struct {
	repository.BlobRepository
	delegate Delegate
	log      *zap.Logger
}

func (r *hookedRepo) Write(ctx context.Context, name string, data []byte) error {
	path := r.Path(name)
	if r.delegate != nil {
		r.delegate.WillWriteFile(path)
	}
	err := r.BlobRepository.Write(ctx, name, data)
	if err != nil {
		r.log.Warn("blob write failed", zap.String("name", name), zap.Error(err))
	}
	if r.delegate != nil {
		r.delegate.DidWriteFile(path, err)
	}
	return err
}

// WriteAll keeps the wrapped driver's transactional batch when it has one.
func (r *hookedRepo) WriteAll(ctx context.Context, blobs []repository.Blob) error {
	if r.delegate == nil {
		return repository.WriteAll(ctx, r.BlobRepository, blobs)
	}
	for _, b := range blobs {
		r.delegate.WillWriteFile(r.Path(b.Name))
	}
	err := repository.WriteAll(ctx, r.BlobRepository, blobs)
	for _, b := range blobs {
		r.delegate.DidWriteFile(r.Path(b.Name), err)
	}
	return err
}
