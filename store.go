package attrstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/AndrewDonelson/attrstore/internal/clock"
	"github.com/AndrewDonelson/attrstore/internal/keyenc"
	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"github.com/AndrewDonelson/attrstore/internal/metrics"
)

// Re-export types so callers only import this package.
type Backend = kvs.Backend
type MetricsRecorder = metrics.Recorder
type Clock = clock.Clock

// ────────────────────────────────────────────────────────────────────────────
// Config
// ────────────────────────────────────────────────────────────────────────────

// Defaults
const (
	DefaultPartition           = "nvs"
	DefaultNamespace           = "esp_matter_kvs"
	DefaultLegacyNodeNamespace = "node"
	DefaultMaxValueSize        = 4096
)

// Config contains all Store configuration.
type Config struct {
	// Backend holds the records. nil selects a fresh in-memory backend.
	Backend Backend

	// Partition and Namespace scope the current key scheme.
	Partition string
	Namespace string
	// LegacyNodeNamespace held node-wide values before they moved to Namespace.
	LegacyNodeNamespace string

	// MaxValueSize bounds the buffer allocated for one value; larger reads
	// fail with ErrOutOfMemory.
	MaxValueSize int

	// Optional overrideable components
	Clock   Clock
	Metrics MetricsRecorder
	Logger  Logger

	// Encryption key (must be 32 bytes for AES-256-GCM; nil = disabled).
	EncryptionKey []byte
}

func (c *Config) defaults() {
	if c.Partition == "" {
		c.Partition = DefaultPartition
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.LegacyNodeNamespace == "" {
		c.LegacyNodeNamespace = DefaultLegacyNodeNamespace
	}
	if c.MaxValueSize == 0 {
		c.MaxValueSize = DefaultMaxValueSize
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop{}
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
}

func (c *Config) validate() error {
	for _, n := range []struct{ field, name string }{
		{"partition", c.Partition},
		{"namespace", c.Namespace},
		{"legacy node namespace", c.LegacyNodeNamespace},
	} {
		if err := kvs.ValidateName(n.name); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, n.field, n.name, err)
		}
	}
	if c.MaxValueSize < 0 {
		return fmt.Errorf("%w: negative MaxValueSize", ErrInvalidConfig)
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// Stats
// ────────────────────────────────────────────────────────────────────────────

type storeStats struct {
	Gets                 atomic.Int64
	Sets                 atomic.Int64
	Erases               atomic.Int64
	Errors               atomic.Int64
	Migrations           atomic.Int64
	HousekeepingFailures atomic.Int64
}

// Stats is the snapshot returned by Store.Stats().
type Stats struct {
	Gets                 int64
	Sets                 int64
	Erases               int64
	Errors               int64
	Migrations           int64
	HousekeepingFailures int64

	// Backend counters, zero when the backend does not count.
	BackendHits    int64
	BackendMisses  int64
	BackendCommits int64
	BackendEntries int64
}

// ────────────────────────────────────────────────────────────────────────────
// Store
// ────────────────────────────────────────────────────────────────────────────

// Store persists attribute values. Calls are synchronous; concurrent use is
// safe as far as the backend serializes its transactions.
type Store struct {
	cfg     Config
	backend kvs.Backend
	stats   storeStats
	metrics MetricsRecorder
	logger  Logger
	closed  atomic.Bool
}

// New creates a Store from the provided Config.
func New(cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	backend := cfg.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if len(cfg.EncryptionKey) > 0 {
		enc, err := NewAES256GCM(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("attrstore: encryption init: %w", err)
		}
		backend = kvs.Encrypted(backend, enc)
	}

	s := &Store{
		cfg:     cfg,
		backend: backend,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	s.logger.Debug("attrstore: opened", append([]any{"backend", backend.Name(),
		"partition", cfg.Partition, "namespace", cfg.Namespace}, versionFields()...)...)
	return s, nil
}

// BackendName names the backend in use.
func (s *Store) BackendName() string { return s.backend.Name() }

// ────────────────────────────────────────────────────────────────────────────
// Attribute operations
// ────────────────────────────────────────────────────────────────────────────

// GetOrMigrate reads the value of k into v. v.Type selects the stored
// representation; for variable-length kinds v.Buffer.Capacity is the
// minimum capacity of the result. Values found only under the legacy key
// are moved to the current key. ErrNotFound means the attribute was never
// stored.
func (s *Store) GetOrMigrate(ctx context.Context, k Key, v *Value) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.stats.Gets.Add(1)
	start := s.cfg.Clock.Now()
	err := s.getOrMigrate(ctx, k, v)
	s.metrics.RecordLatency("get", clock.Since(s.cfg.Clock, start))
	s.observe("get", err)
	if err == nil {
		s.logger.Debug("attrstore: read", "key", k.String(), "type", v.Type.String(), "value", v.String())
	}
	return err
}

// Get is GetOrMigrate.
func (s *Store) Get(ctx context.Context, k Key, v *Value) error {
	return s.GetOrMigrate(ctx, k, v)
}

// Set stores v under k. A variable-length value with nil data erases k.
func (s *Store) Set(ctx context.Context, k Key, v Value) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.stats.Sets.Add(1)
	start := s.cfg.Clock.Now()
	err := s.store(ctx, s.cfg.Namespace, k.Encoded(), v)
	s.metrics.RecordLatency("set", clock.Since(s.cfg.Clock, start))
	s.observe("set", err)
	if err == nil {
		s.logger.Debug("attrstore: write", "key", k.String(), "type", v.Type.String(), "value", v.String())
	}
	return err
}

// Erase removes k. Erasing an absent attribute succeeds.
func (s *Store) Erase(ctx context.Context, k Key) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.stats.Erases.Add(1)
	start := s.cfg.Clock.Now()
	err := s.erase(ctx, s.cfg.Namespace, k.Encoded())
	s.metrics.RecordLatency("erase", clock.Since(s.cfg.Clock, start))
	s.observe("erase", err)
	return err
}

// Keys lists the attributes stored under the current scheme.
func (s *Store) Keys(ctx context.Context) ([]Key, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	h, err := s.open(ctx, s.cfg.Namespace, kvs.ReadOnly)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer s.release(h)

	names, err := h.Keys(ctx)
	if err != nil {
		return nil, classify("keys", err)
	}
	var out []Key
	for _, n := range names {
		if len(n) != keyenc.EncodedLen {
			continue
		}
		ep, cl, at, err := keyenc.Decode(n)
		if err != nil {
			continue
		}
		out = append(out, NewKey(ep, cl, at))
	}
	return out, nil
}

// observe counts the outcome of a public operation. Absence is a miss, not
// an error.
func (s *Store) observe(op string, err error) {
	switch {
	case err == nil:
		s.metrics.RecordHit(op)
	case errors.Is(err, ErrNotFound):
		s.metrics.RecordMiss(op)
	default:
		s.stats.Errors.Add(1)
		s.metrics.RecordError(op)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Stats / Close
// ────────────────────────────────────────────────────────────────────────────

// Stats returns a snapshot of operational counters.
func (s *Store) Stats() Stats {
	st := Stats{
		Gets:                 s.stats.Gets.Load(),
		Sets:                 s.stats.Sets.Load(),
		Erases:               s.stats.Erases.Load(),
		Errors:               s.stats.Errors.Load(),
		Migrations:           s.stats.Migrations.Load(),
		HousekeepingFailures: s.stats.HousekeepingFailures.Load(),
	}
	if bs, ok := kvs.BackendStats(s.backend); ok {
		st.BackendHits = bs.Hits
		st.BackendMisses = bs.Misses
		st.BackendCommits = bs.Commits
		st.BackendEntries = bs.Entries
	}
	return st
}

// Ping checks that the backend is reachable. Backends without a connection
// always succeed.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return classify("ping", kvs.Ping(ctx, s.backend))
}

// Close releases the backend. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backend.Close()
}
