// Package app wires a configured storage driver, unlock limiter and keychain.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gophstore/internal/config"
	"github.com/and161185/gophstore/internal/keychain"
	"github.com/and161185/gophstore/internal/limiter"
	"github.com/and161185/gophstore/internal/migrate"
	"github.com/and161185/gophstore/internal/repository"
	"github.com/and161185/gophstore/internal/repository/bolt"
	"github.com/and161185/gophstore/internal/repository/dynamo"
	"github.com/and161185/gophstore/internal/repository/file"
	"github.com/and161185/gophstore/internal/repository/memory"
	"github.com/and161185/gophstore/internal/repository/postgres"
)

// Env holds everything a command needs to open a store.
type Env struct {
	Repo     repository.BlobRepository
	Limiter  limiter.Limiter
	Keychain keychain.Keychain

	// WatchDir is the directory external sync tools deliver blocks into; empty for non-file drivers.
	WatchDir string

	driver  string
	closers []func()
}

// Open builds the environment described by cfg.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Env, error) {
	env := &Env{Limiter: limiter.NewMemory(cfg.Policy()), driver: cfg.Driver}

	switch cfg.Driver {
	case config.DriverFile:
		env.Repo = file.New(cfg.DBPath)
		env.WatchDir = filepath.Join(cfg.DBPath, filepath.Dir(repository.NameManifest))
	case config.DriverBolt:
		r, err := bolt.Open(cfg.DBPath, cfg.Name)
		if err != nil {
			return nil, err
		}
		env.Repo = r
		env.closers = append(env.closers, func() { _ = r.Close() })
	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		env.Repo = postgres.NewBlobRepo(db, cfg.Name)
		env.Limiter = limiter.NewPG(db.Pool, cfg.Policy())
		env.closers = append(env.closers, db.Close)
	case config.DriverDynamo:
		r, err := dynamo.NewFromConfig(ctx, cfg.DynamoTable, cfg.Name, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		env.Repo = r
	case config.DriverMemory:
		env.Repo = memory.New(cfg.Name)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	if cfg.KeychainPrefix != "" {
		kc, err := keychain.NewSecretsManagerFromConfig(ctx, cfg.KeychainPrefix, cfg.AWSRegion)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Keychain = kc
	} else {
		env.Keychain = keychain.NewMemory()
	}

	log.Debug("environment ready",
		zap.String("driver", cfg.Driver),
		zap.String("root", env.Repo.Root()),
		zap.Bool("secrets_keychain", cfg.KeychainPrefix != ""),
	)
	return env, nil
}

// KeyID names the database in the keychain. It is known before the descriptor can be opened.
func (e *Env) KeyID() uuid.UUID {
	return uuid.NewV5(uuid.NamespaceURL, e.driver+"://"+e.Repo.Root())
}

// Close releases driver resources.
func (e *Env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
