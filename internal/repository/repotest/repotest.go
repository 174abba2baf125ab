// Package repotest runs the behaviour every BlobRepository driver must share.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/errs"
	"github.com/and161185/gophstore/internal/repository"
)

// Run exercises read/write/delete/exists/list semantics on r, which must start empty.
func Run(t *testing.T, r repository.BlobRepository) {
	t.Helper()
	ctx := context.Background()

	_, err := r.Read(ctx, repository.NameSalt)
	require.ErrorIs(t, err, errs.ErrNotFound)

	ok, err := r.Exists(ctx, repository.NameSalt)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r.Write(ctx, repository.NameSalt, []byte("s1")))
	require.NoError(t, r.Write(ctx, repository.NameSalt, []byte("s2")))
	got, err := r.Read(ctx, repository.NameSalt)
	require.NoError(t, err)
	require.Equal(t, []byte("s2"), got)

	ok, err = r.Exists(ctx, repository.NameSalt)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Write(ctx, repository.BlockName(3), []byte("b3")))
	require.NoError(t, r.Write(ctx, repository.BlockName(1), []byte("b1")))
	require.NoError(t, r.Write(ctx, repository.NameManifest, []byte("m")))

	names, err := r.List(ctx, repository.BlockPrefix)
	require.NoError(t, err)
	require.Equal(t, []string{repository.BlockName(1), repository.BlockName(3)}, names)

	require.NoError(t, r.Delete(ctx, repository.BlockName(1)))
	require.NoError(t, r.Delete(ctx, repository.BlockName(1)))
	_, err = r.Read(ctx, repository.BlockName(1))
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.Error(t, r.Write(ctx, "../escape", []byte("x")))
	require.NotEmpty(t, r.Path(repository.NameTrunk))
	require.NotEmpty(t, r.Root())
}
