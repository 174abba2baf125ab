package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_HasOrderedGooseFiles(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"00001_blobs.sql", "00002_unlock_limiter.sql"}, names)
	for _, n := range names {
		b, err := fs.ReadFile(FS, n)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(b), "-- +goose Up"), n)
		require.Contains(t, string(b), "-- +goose Down", n)
	}
}
