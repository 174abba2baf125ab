// Package config loads the gophstore client configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/gophstore/internal/crypto"
	"github.com/and161185/gophstore/internal/limiter"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	DriverMemory   = "memory"
)

// Duration is a time.Duration written as "15m" in JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Limiter is the unlock throttling policy.
type Limiter struct {
	MaxFails int      `json:"max_fails"`
	Window   Duration `json:"window"`
	BlockFor Duration `json:"block_for"`
}

// Config holds client configuration.
type Config struct {
	// Driver selects the persistence driver; DBPath is a directory for file,
	// a file for bolt. Name labels the database inside shared drivers.
	Driver string `json:"driver"`
	DBPath string `json:"db_path"`
	Name   string `json:"name"`

	PostgresDSN string `json:"postgres_dsn,omitempty"`
	DynamoTable string `json:"dynamo_table,omitempty"`
	AWSRegion   string `json:"aws_region,omitempty"`

	// KeychainPrefix enables caching unlocked keys in AWS Secrets Manager when set.
	KeychainPrefix string `json:"keychain_prefix,omitempty"`

	SyncAddr  string `json:"sync_addr,omitempty"`
	SyncToken string `json:"sync_token,omitempty"`
	SyncCA    string `json:"sync_ca,omitempty"`

	KDF      crypto.KDFParams `json:"kdf"`
	LogLevel string           `json:"log_level"`
	Limiter  Limiter          `json:"limiter"`

	Path string `json:"-"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	p := limiter.DefaultPolicy()
	return &Config{
		Driver:    DriverFile,
		DBPath:    filepath.Join(home, ".gophstore", "default"),
		Name:      "default",
		AWSRegion: "us-east-1",
		KDF:       crypto.DefaultKDFParams(),
		LogLevel:  "warn",
		Limiter: Limiter{
			MaxFails: p.MaxFails,
			Window:   Duration(p.Window),
			BlockFor: Duration(p.BlockFor),
		},
		Path: filepath.Join(home, ".gophstore", "config.json"),
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		cfg.Path = path
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", cfg.Path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(c.Path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the fields the selected driver needs.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverFile, DriverBolt:
		if c.DBPath == "" {
			return fmt.Errorf("driver %s needs db_path", c.Driver)
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("driver postgres needs postgres_dsn")
		}
	case DriverDynamo:
		if c.DynamoTable == "" || c.AWSRegion == "" {
			return fmt.Errorf("driver dynamodb needs dynamo_table and aws_region")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if err := c.KDF.Validate(); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Policy converts the limiter section.
func (c *Config) Policy() limiter.Policy {
	return limiter.Policy{
		Window:   time.Duration(c.Limiter.Window),
		MaxFails: c.Limiter.MaxFails,
		BlockFor: time.Duration(c.Limiter.BlockFor),
	}
}

// Logger builds a production logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
