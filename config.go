// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// config.go - YAML or TOML configuration file with ${VAR} expansion, and
// Open, which builds a ready Store from it.

package attrstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"github.com/BurntSushi/toml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Backend drivers accepted in FileConfig.Backend.Driver.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// FileConfig is the on-disk configuration.
type FileConfig struct {
	Backend             BackendConfig `yaml:"backend" toml:"backend"`
	Partition           string        `yaml:"partition" toml:"partition"`
	Namespace           string        `yaml:"namespace" toml:"namespace"`
	LegacyNodeNamespace string        `yaml:"legacy_node_namespace" toml:"legacy_node_namespace"`
	MaxValueSize        int           `yaml:"max_value_size" toml:"max_value_size"`
	// EncryptionKey is 64 hex characters; empty disables encryption.
	EncryptionKey string        `yaml:"encryption_key" toml:"encryption_key"`
	Logging       LoggingConfig `yaml:"logging" toml:"logging"`
}

// BackendConfig selects and configures the storage backend.
type BackendConfig struct {
	Driver string `yaml:"driver" toml:"driver"`

	// bolt, sqlite
	Path string `yaml:"path" toml:"path"`

	// postgres
	DSN      string `yaml:"dsn" toml:"dsn"`
	MaxConns int32  `yaml:"max_conns" toml:"max_conns"`

	// redis
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" toml:"key_prefix"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig enables slog output on stderr.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error; empty disables logging
	Format string `yaml:"format" toml:"format"` // text or json
}

// LoadConfig reads a configuration file. Files ending in .toml are parsed
// as TOML, everything else as YAML. Environment variables in the form
// ${VAR_NAME} are expanded before parsing.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOMLConfig(data)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML bytes.
func ParseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrInvalidConfig, err)
	}
	return fc.finish()
}

// ParseTOMLConfig parses configuration from TOML bytes. Keys the schema does
// not know are rejected.
func ParseTOMLConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	md, err := toml.Decode(expandEnvVars(string(data)), &fc)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrInvalidConfig, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	return fc.finish()
}

func (fc *FileConfig) finish() (*FileConfig, error) {
	if fc.Backend.TimeoutRaw != "" {
		d, err := time.ParseDuration(fc.Backend.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: backend.timeout %q: %v", ErrInvalidConfig, fc.Backend.TimeoutRaw, err)
		}
		fc.Backend.Timeout = d
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return fc, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with
// nothing when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate reports the first missing or malformed field.
func (fc *FileConfig) Validate() error {
	b := fc.Backend
	switch b.Driver {
	case "", DriverMemory:
	case DriverBolt, DriverSQLite:
		if b.Path == "" {
			return fmt.Errorf("%w: backend.path is required for %s", ErrInvalidConfig, b.Driver)
		}
	case DriverPostgres:
		if b.DSN == "" {
			return fmt.Errorf("%w: backend.dsn is required for postgres", ErrInvalidConfig)
		}
	case DriverRedis:
		if b.RedisAddr == "" {
			return fmt.Errorf("%w: backend.redis_addr is required for redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend.driver %q", ErrInvalidConfig, b.Driver)
	}
	if fc.EncryptionKey != "" {
		if _, err := fc.encryptionKey(); err != nil {
			return err
		}
	}
	switch strings.ToLower(fc.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown logging.format %q", ErrInvalidConfig, fc.Logging.Format)
	}
	if _, err := fc.Logging.level(); err != nil {
		return err
	}
	return nil
}

func (fc *FileConfig) encryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(fc.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption_key must be 64 hex characters", ErrInvalidConfig)
	}
	return key, nil
}

func (lc LoggingConfig) level() (slog.Level, error) {
	var l slog.Level
	if lc.Level == "" {
		return l, nil
	}
	if err := l.UnmarshalText([]byte(lc.Level)); err != nil {
		return l, fmt.Errorf("%w: logging.level %q", ErrInvalidConfig, lc.Level)
	}
	return l, nil
}

// logger returns nil when logging is disabled.
func (lc LoggingConfig) logger() Logger {
	if lc.Level == "" {
		return nil
	}
	lvl, _ := lc.level()
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return NewSlogLogger(slog.New(h))
}

// Config converts fc into a Config without a backend.
func (fc *FileConfig) Config() (Config, error) {
	cfg := Config{
		Partition:           fc.Partition,
		Namespace:           fc.Namespace,
		LegacyNodeNamespace: fc.LegacyNodeNamespace,
		MaxValueSize:        fc.MaxValueSize,
		Logger:              fc.Logging.logger(),
	}
	if fc.EncryptionKey != "" {
		key, err := fc.encryptionKey()
		if err != nil {
			return Config{}, err
		}
		cfg.EncryptionKey = key
	}
	return cfg, nil
}

// Open builds the configured backend and returns a Store over it.
func Open(ctx context.Context, fc *FileConfig) (*Store, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	cfg, err := fc.Config()
	if err != nil {
		return nil, err
	}
	backend, err := openBackend(ctx, fc.Backend)
	if err != nil {
		return nil, err
	}
	if err := kvs.Ping(ctx, backend); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("%w: %s unreachable: %v", ErrBackend, fc.Backend.Driver, err)
	}
	cfg.Backend = backend
	s, err := New(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return s, nil
}

func openBackend(ctx context.Context, b BackendConfig) (Backend, error) {
	switch b.Driver {
	case DriverBolt:
		return OpenBoltBackend(b.Path, b.Timeout)
	case DriverSQLite:
		return OpenSQLiteBackend(b.Path)
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        b.RedisAddr,
			Password:    b.RedisPassword,
			DB:          b.RedisDB,
			DialTimeout: b.Timeout,
		})
		return NewRedisBackend(client, b.KeyPrefix), nil
	case DriverPostgres:
		pgCfg, err := pgxpool.ParseConfig(b.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres config: %v", ErrInvalidConfig, err)
		}
		if b.MaxConns > 0 {
			pgCfg.MaxConns = b.MaxConns
		}
		if b.Timeout > 0 {
			pgCfg.ConnConfig.ConnectTimeout = b.Timeout
		}
		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres pool: %v", ErrBackend, err)
		}
		backend, err := NewPostgresBackend(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return backend, nil
	}
	return NewMemoryBackend(), nil
}
