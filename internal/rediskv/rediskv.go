// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// rediskv.go - Redis backend: one hash per partition/namespace, a set of
// known namespaces per partition, and writes queued on a MULTI/EXEC
// pipeline that is flushed on Commit. Pending writes are overlaid on reads
// so a handle sees its own uncommitted changes.

// Package rediskv provides a Redis-backed kvs.Backend.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"github.com/redis/go-redis/v9"
)

// Options configures a new Store.
type Options struct {
	Client    redis.UniversalClient
	KeyPrefix string
}

// Store is the Redis backend.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	hits      atomic.Int64
	misses    atomic.Int64
	commits   atomic.Int64
}

// New creates a new Store around an existing client.
func New(opts Options) *Store {
	return &Store{client: opts.Client, keyPrefix: opts.KeyPrefix}
}

// Name returns "redis".
func (s *Store) Name() string { return "redis" }

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) join(parts ...string) string {
	k := s.keyPrefix
	for _, p := range parts {
		if k != "" {
			k += ":"
		}
		k += p
	}
	return k
}

// hashKey returns the Redis hash holding one namespace.
func (s *Store) hashKey(partition, namespace string) string {
	return s.join(partition, "ns", namespace)
}

// indexKey returns the set of namespaces known in a partition.
func (s *Store) indexKey(partition string) string {
	return s.join(partition, "namespaces")
}

// Begin opens a namespace. Read-write registers it in the partition index.
func (s *Store) Begin(ctx context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	if mode == kvs.ReadWrite {
		if err := s.client.SAdd(ctx, s.indexKey(partition), namespace).Err(); err != nil {
			return nil, fmt.Errorf("rediskv open %s: %w", namespace, err)
		}
	} else {
		ok, err := s.client.SIsMember(ctx, s.indexKey(partition), namespace).Result()
		if err != nil {
			return nil, fmt.Errorf("rediskv open %s: %w", namespace, err)
		}
		if !ok {
			return nil, kvs.ErrNotFound
		}
	}
	return &txn{s: s, key: s.hashKey(partition, namespace), pending: make(map[string]*kvs.Record)}, nil
}

// Stats returns lookup counts and the number of flushed pipelines. Entries
// is not tracked.
func (s *Store) Stats() kvs.Stats {
	return kvs.Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Commits: s.commits.Load()}
}

type txn struct {
	s    *Store
	key  string
	pipe redis.Pipeliner
	// pending overlays queued writes; a nil record marks a queued delete.
	pending map[string]*kvs.Record
}

func (t *txn) pipeline() redis.Pipeliner {
	if t.pipe == nil {
		t.pipe = t.s.client.TxPipeline()
	}
	return t.pipe
}

func (t *txn) Load(ctx context.Context, key string) (kvs.Record, error) {
	if r, ok := t.pending[key]; ok {
		if r == nil {
			return kvs.Record{}, kvs.ErrNotFound
		}
		return kvs.Record{Kind: r.Kind, Data: append([]byte(nil), r.Data...)}, nil
	}
	b, err := t.s.client.HGet(ctx, t.key, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			t.s.misses.Add(1)
			return kvs.Record{}, kvs.ErrNotFound
		}
		return kvs.Record{}, fmt.Errorf("rediskv hget %s %s: %w", t.key, key, err)
	}
	t.s.hits.Add(1)
	return kvs.UnmarshalRecord(b)
}

func (t *txn) Save(ctx context.Context, key string, r kvs.Record) error {
	t.pipeline().HSet(ctx, t.key, key, kvs.MarshalRecord(r))
	t.pending[key] = &r
	return nil
}

func (t *txn) Delete(ctx context.Context, key string) error {
	if r, ok := t.pending[key]; ok {
		if r == nil {
			return kvs.ErrNotFound
		}
	} else {
		ok, err := t.s.client.HExists(ctx, t.key, key).Result()
		if err != nil {
			return fmt.Errorf("rediskv hexists %s %s: %w", t.key, key, err)
		}
		if !ok {
			return kvs.ErrNotFound
		}
	}
	t.pipeline().HDel(ctx, t.key, key)
	t.pending[key] = nil
	return nil
}

func (t *txn) Keys(ctx context.Context) ([]string, error) {
	keys, err := t.s.client.HKeys(ctx, t.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("rediskv hkeys %s: %w", t.key, err)
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	for k, r := range t.pending {
		if r == nil {
			delete(set, k)
		} else {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (t *txn) Commit(ctx context.Context) error {
	if t.pipe == nil {
		return nil
	}
	_, err := t.pipe.Exec(ctx)
	t.pipe = nil
	t.pending = make(map[string]*kvs.Record)
	if err != nil {
		return fmt.Errorf("rediskv commit %s: %w", t.key, err)
	}
	t.s.commits.Add(1)
	return nil
}

func (t *txn) Rollback() error {
	if t.pipe != nil {
		t.pipe.Discard()
		t.pipe = nil
	}
	return nil
}
