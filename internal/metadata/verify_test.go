package metadata

import (
	"context"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/descriptor"
	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/repository/memory"
	"github.com/and161185/gophstore/internal/trunk"
)

// seedStore writes a minimal sound store: salt, descriptor, trunk and metadata.
func seedStore(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	sb, err := descriptor.EncodeSalt(descriptor.SaltRecord{Salt: salt, KDF: crypto.TestKDFParams()})
	require.NoError(t, err)
	require.NoError(t, f.mem.Write(ctx, repository.NameSalt, sb))

	blob, err := descriptor.Seal(f.desc, f.key, nil)
	require.NoError(t, err)
	db, err := descriptor.EncodeBlob(blob)
	require.NoError(t, err)
	require.NoError(t, f.mem.Write(ctx, repository.NameDescriptor, db))

	tr := trunk.New()
	tr.Insert(login("A", 1, "work"))
	snap, err := tr.Marshal()
	require.NoError(t, err)
	tb, err := descriptor.SealBlob(snap, f.key)
	require.NoError(t, err)
	require.NoError(t, f.mem.Write(ctx, repository.NameTrunk, tb))

	require.NoError(t, f.eng.RebuildAll(ctx, tr))
}

func TestVerifyStoreIntegrity_Sound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedStore(t, f)
	require.True(t, VerifyStoreIntegrity(context.Background(), f.mem))
}

func TestVerifyStoreIntegrity_MissingSalt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedStore(t, f)
	ctx := context.Background()
	require.NoError(t, f.mem.Delete(ctx, repository.NameSalt))

	require.False(t, VerifyStoreIntegrity(ctx, f.mem))
	require.ErrorIs(t, Verify(ctx, f.mem), errs.ErrNotFound)
}

func TestVerifyStoreIntegrity_Damage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cases := map[string]func(f *fixture){
		"salt garbage":       func(f *fixture) { _ = f.mem.Write(ctx, repository.NameSalt, []byte("x")) },
		"descriptor garbage": func(f *fixture) { _ = f.mem.Write(ctx, repository.NameDescriptor, []byte("{}")) },
		"trunk missing":      func(f *fixture) { _ = f.mem.Delete(ctx, repository.NameTrunk) },
		"manifest garbage":   func(f *fixture) { _ = f.mem.Write(ctx, repository.NameManifest, []byte("[")) },
		"block garbage":      func(f *fixture) { _ = f.mem.Write(ctx, repository.BlockName(f.eng.BlockOf("A")), []byte("??")) },
		"block renamed": func(f *fixture) {
			k := f.eng.BlockOf("A")
			data, _ := f.mem.Read(ctx, repository.BlockName(k))
			_ = f.mem.Write(ctx, repository.BlockName((k+1)%f.desc.BlockCount), data)
		},
	}
	for name, damage := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			seedStore(t, f)
			damage(f)
			require.False(t, VerifyStoreIntegrity(ctx, f.mem))
		})
	}
}

func TestVerifyStoreIntegrity_MissingBlocksAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedStore(t, f)
	ctx := context.Background()
	require.NoError(t, f.mem.Delete(ctx, repository.BlockName(f.eng.BlockOf("A"))))
	require.NoError(t, f.mem.Delete(ctx, repository.NameManifest))
	require.True(t, VerifyStoreIntegrity(ctx, f.mem))
}

func TestExchange_ShipsBlocksBetweenRepos(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := newFixture(t)
	seedStore(t, src)
	dst := newFixtureWith(t, memory.New("dst"), src.key, src.desc)

	out := NewExchange(src.mem)
	in := NewExchange(dst.mem)

	rawManifest, err := out.Manifest(ctx)
	require.NoError(t, err)
	m, err := ParseManifest(rawManifest)
	require.NoError(t, err)
	for _, k := range m.Blocks {
		data, err := out.Block(ctx, k)
		require.NoError(t, err)
		got, err := in.ImportBlock(ctx, data)
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	merged, err := in.ImportManifest(ctx, rawManifest)
	require.NoError(t, err)
	require.Equal(t, m.Blocks, merged.Blocks)

	ready, err := dst.eng.ReadyToMerge(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	tr := trunk.New()
	res, err := dst.eng.Merge(ctx, tr, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, res.Added)
}

func TestExchange_RejectsForeignDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newFixture(t)
	seedStore(t, a)
	b := newFixture(t)
	seedStore(t, b)

	raw, err := NewExchange(a.mem).Manifest(ctx)
	require.NoError(t, err)
	_, err = NewExchange(b.mem).ImportManifest(ctx, raw)
	require.ErrorIs(t, err, errs.ErrDamaged)

	block, err := NewExchange(a.mem).Block(ctx, a.eng.BlockOf("A"))
	require.NoError(t, err)
	_, err = NewExchange(b.mem).ImportBlock(ctx, block)
	require.ErrorIs(t, err, errs.ErrDamaged)

	_, err = NewExchange(b.mem).ImportBlock(ctx, []byte("nope"))
	require.ErrorIs(t, err, errs.ErrDamaged)
}

func TestManifest_UnionAndValidate(t *testing.T) {
	t.Parallel()
	m := Manifest{Format: BlockFormat, Partition: 1, DB: uuid.Must(uuid.NewV4()), BlockCount: 4, Blocks: []int{3, 1}}
	m.Add(1)
	m.Add(0)
	require.Equal(t, []int{0, 1, 3}, m.Blocks)
	require.True(t, m.Has(3))
	require.False(t, m.Has(2))

	data, err := m.Encode()
	require.NoError(t, err)
	got, err := ParseManifest(data)
	require.NoError(t, err)
	require.Equal(t, m, got)

	bad := m
	bad.Blocks = []int{9}
	data, _ = bad.Encode()
	_, err = ParseManifest(data)
	require.ErrorIs(t, err, errs.ErrDamaged)
}
