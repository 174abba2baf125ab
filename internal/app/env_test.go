package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gophstore/internal/config"
	"github.com/and161185/gophstore/internal/keychain"
	"github.com/and161185/gophstore/internal/limiter"
)

func TestOpen_LocalDrivers(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		driver   string
		path     string
		wantRoot string
		watch    string
	}{
		{name: "file", driver: config.DriverFile, path: filepath.Join(dir, "db"), wantRoot: filepath.Join(dir, "db"), watch: filepath.Join(dir, "db", "metadata")},
		{name: "bolt", driver: config.DriverBolt, path: filepath.Join(dir, "db.bolt"), wantRoot: "vault"},
		{name: "memory", driver: config.DriverMemory, wantRoot: "vault"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Driver, cfg.DBPath, cfg.Name = tt.driver, tt.path, "vault"

			env, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			defer env.Close()

			require.Equal(t, tt.wantRoot, env.Repo.Root())
			require.Equal(t, tt.watch, env.WatchDir)
			require.IsType(t, &limiter.Memory{}, env.Limiter)
			require.IsType(t, &keychain.Memory{}, env.Keychain)
			require.NoError(t, env.Repo.Write(context.Background(), "check", []byte("x")))
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Driver = "tape"
	_, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestEnv_KeyIDStablePerLocation(t *testing.T) {
	dir := t.TempDir()
	open := func(path string) *Env {
		cfg := config.Default()
		cfg.DBPath = path
		env, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(env.Close)
		return env
	}
	a, b, other := open(filepath.Join(dir, "a")), open(filepath.Join(dir, "a")), open(filepath.Join(dir, "b"))
	require.Equal(t, a.KeyID(), b.KeyID())
	require.NotEqual(t, a.KeyID(), other.KeyID())
}
