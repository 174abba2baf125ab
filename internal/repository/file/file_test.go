package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/repository/repotest"
)

func TestRepo_Contract(t *testing.T) {
	t.Parallel()
	repotest.Run(t, New(t.TempDir()))
}

func TestRepo_WriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	r := New(dir)
	ctx := context.Background()

	require.NoError(t, r.Write(ctx, repository.BlockName(0), []byte("block")))
	entries, err := os.ReadDir(filepath.Join(dir, "metadata"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "block-00", entries[0].Name())

	st, err := os.Stat(r.Path(repository.BlockName(0)))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestRepo_ListMissingRoot(t *testing.T) {
	t.Parallel()
	r := New(filepath.Join(t.TempDir(), "absent"))
	names, err := r.List(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, names)
}
