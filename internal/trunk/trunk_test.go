package trunk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/model"
)

func item(id string, kind model.Kind, created, updated int64, tags ...string) *model.Item {
	return &model.Item{ID: id, Kind: kind, CreatedAt: created, UpdatedAt: updated, Tags: tags, Payload: []byte("secret-" + id)}
}

func ids(items []*model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestInsert_ViewsAndMapConsistent(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("b", model.KindLogin, 20, 20))
	tr.Insert(item("a", model.KindLogin, 20, 20))
	tr.Insert(item("c", model.KindLogin, 10, 10))
	tr.Insert(item("n", model.KindSecureNote, 5, 5))

	require.Equal(t, 4, tr.Len())
	require.Equal(t, []string{"c", "a", "b"}, ids(tr.ItemsOfKind(model.KindLogin)))
	require.Equal(t, []string{"n"}, ids(tr.ItemsOfKind(model.KindSecureNote)))
	require.Empty(t, tr.ItemsOfKind(model.KindBankCard))
	require.Equal(t, []string{"a", "b", "c", "n"}, tr.IDs())
}

func TestInsert_DuplicatePanics(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("a", model.KindLogin, 1, 1))
	require.Panics(t, func() { tr.Insert(item("a", model.KindBankCard, 2, 2)) })
	require.Panics(t, func() { tr.Insert(&model.Item{Kind: model.KindLogin}) })
}

func TestUpdate_KindChangeMovesView(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("a", model.KindLogin, 1, 1))

	ok := tr.Update("a", func(it *model.Item) {
		it.Kind = model.KindPassword
		it.UpdatedAt = 7
	})
	require.True(t, ok)
	require.Empty(t, tr.ItemsOfKind(model.KindLogin))
	require.Equal(t, []string{"a"}, ids(tr.ItemsOfKind(model.KindPassword)))
	require.False(t, tr.Update("missing", func(*model.Item) {}))

	require.Panics(t, func() { tr.Update("a", func(it *model.Item) { it.ID = "b" }) })
}

func TestRemove(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("a", model.KindLogin, 1, 1, "work"))
	tr.Insert(item("b", model.KindLogin, 2, 2, "home"))

	got, ok := tr.Remove("a")
	require.True(t, ok)
	require.Equal(t, "a", got.ID)
	_, ok = tr.Remove("a")
	require.False(t, ok)
	require.Equal(t, []string{"b"}, ids(tr.ItemsOfKind(model.KindLogin)))
	require.Equal(t, []string{"home"}, tr.AllTags())
}

func TestUpdatedAt_AdvancesOnlyOnMutation(t *testing.T) {
	t.Parallel()
	tr := New()
	require.Zero(t, tr.UpdatedAt())

	tr.Insert(item("a", model.KindLogin, 1, 100))
	require.Equal(t, int64(100), tr.UpdatedAt())

	_ = tr.ItemsOfKind(model.KindLogin)
	_ = tr.AllTags()
	tr.RebuildCategoryViews()
	require.Equal(t, int64(100), tr.UpdatedAt())

	// stale stamps still advance the logical clock
	tr.Update("a", func(it *model.Item) { it.Favorite = true })
	require.Equal(t, int64(101), tr.UpdatedAt())

	tr.Remove("a")
	require.Equal(t, int64(102), tr.UpdatedAt())
}

func TestAllTags_LazyAndInvalidated(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("a", model.KindLogin, 1, 1, "work", "bank"))
	tr.Insert(item("b", model.KindLogin, 1, 1, "work"))
	require.Equal(t, []string{"bank", "work"}, tr.AllTags())

	tr.Update("b", func(it *model.Item) { it.Tags = []string{"home"} })
	require.Equal(t, []string{"bank", "home", "work"}, tr.AllTags())

	tags := tr.AllTags()
	tags[0] = "mutated"
	require.Equal(t, []string{"bank", "home", "work"}, tr.AllTags())
}

func TestRebuildCategoryViews_Idempotent(t *testing.T) {
	t.Parallel()
	tr := New()
	for _, it := range []*model.Item{
		item("x", model.KindBankCard, 3, 3),
		item("y", model.KindBankCard, 1, 1),
		item("z", model.KindIdentification, 2, 2),
	} {
		tr.Insert(it)
	}
	before := ids(tr.ItemsOfKind(model.KindBankCard))
	tr.RebuildCategoryViews()
	tr.RebuildCategoryViews()
	require.Equal(t, before, ids(tr.ItemsOfKind(model.KindBankCard)))
	require.Equal(t, []string{"y", "x"}, before)
}

func TestSnapshot_Roundtrip(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.Insert(item("a", model.KindLogin, 1, 5, "work"))
	tr.Insert(item("b", model.KindBankAccount, 2, 9))

	data, err := tr.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, tr.UpdatedAt(), got.UpdatedAt())
	require.Equal(t, tr.IDs(), got.IDs())
	a, _ := got.Get("a")
	require.Equal(t, []string{"work"}, a.Tags)
	require.Equal(t, []byte("secret-a"), a.Payload)
	require.Equal(t, []string{"b"}, ids(got.ItemsOfKind(model.KindBankAccount)))

	_, err = Unmarshal([]byte(`{"items":[{"id":"a","kind":"login"},{"id":"a","kind":"login"}]}`))
	require.ErrorIs(t, err, errs.ErrDamaged)
	_, err = Unmarshal([]byte(`{"items":[{"id":"a","kind":"spaceship"}]}`))
	require.ErrorIs(t, err, errs.ErrDamaged)
}

func TestWipe(t *testing.T) {
	t.Parallel()
	tr := New()
	it := item("a", model.KindLogin, 1, 1, "work")
	payload := it.Payload
	tr.Insert(it)

	tr.Wipe()
	require.Zero(t, tr.Len())
	require.Empty(t, tr.AllTags())
	require.Equal(t, make([]byte, len(payload)), payload)
}
