package trunk

import (
	"encoding/json"
	"fmt"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
)

type snapshot struct {
	UpdatedAt int64         `json:"updated_at"`
	Items     []*model.Item `json:"items"`
}

// Marshal serializes the trunk for sealing. Items are ordered by identifier.
func (t *Trunk) Marshal() ([]byte, error) {
	return json.Marshal(snapshot{UpdatedAt: t.updatedAt, Items: t.All()})
}

// Unmarshal rebuilds a trunk from Marshal output. A snapshot with duplicate or
// invalid items is damaged data, not a caller bug.
func Unmarshal(data []byte) (*Trunk, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("trunk json: %w", errs.ErrDamaged)
	}
	t := New()
	for _, it := range s.Items {
		if it == nil || it.ID == "" || !it.Kind.Valid() {
			return nil, fmt.Errorf("trunk item: %w", errs.ErrDamaged)
		}
		if _, dup := t.items[it.ID]; dup {
			return nil, fmt.Errorf("trunk duplicate %q: %w", it.ID, errs.ErrDamaged)
		}
		t.items[it.ID] = it
	}
	t.RebuildCategoryViews()
	t.updatedAt = s.UpdatedAt
	return t, nil
}
