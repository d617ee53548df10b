// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// memkv.go - sharded, concurrent in-process backend. Writes apply
// immediately (the flash engine semantics); Commit only counts. Used as the
// default backend and throughout the tests.

// Package memkv provides an in-memory kvs.Backend.
package memkv

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

const numShards = 64

const sep = "\x00"

type shard struct {
	mu    sync.RWMutex
	items map[string]kvs.Record
}

// Store is the in-memory backend.
type Store struct {
	shards [numShards]*shard

	nsMu       sync.RWMutex
	namespaces map[string]struct{}

	hits    atomic.Int64
	misses  atomic.Int64
	commits atomic.Int64
}

// New creates an empty Store.
func New() *Store {
	s := &Store{namespaces: make(map[string]struct{})}
	for i := 0; i < numShards; i++ {
		s.shards[i] = &shard{items: make(map[string]kvs.Record)}
	}
	return s
}

func (s *Store) getShard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%numShards]
}

func nsKey(partition, namespace string) string {
	return partition + sep + namespace
}

// Name returns "memory".
func (s *Store) Name() string { return "memory" }

// Begin opens namespace; read-write creates it.
func (s *Store) Begin(_ context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	ns := nsKey(partition, namespace)
	if mode == kvs.ReadWrite {
		s.nsMu.Lock()
		s.namespaces[ns] = struct{}{}
		s.nsMu.Unlock()
	} else {
		s.nsMu.RLock()
		_, ok := s.namespaces[ns]
		s.nsMu.RUnlock()
		if !ok {
			return nil, kvs.ErrNotFound
		}
	}
	return &txn{s: s, prefix: ns + sep}, nil
}

// Close is a no-op; contents stay readable.
func (s *Store) Close() error { return nil }

// Stats returns lookup and commit counts and the number of records held.
func (s *Store) Stats() kvs.Stats {
	var total int64
	for i := 0; i < numShards; i++ {
		sh := s.shards[i]
		sh.mu.RLock()
		total += int64(len(sh.items))
		sh.mu.RUnlock()
	}
	return kvs.Stats{Hits: s.hits.Load(), Misses: s.misses.Load(), Commits: s.commits.Load(), Entries: total}
}

type txn struct {
	s      *Store
	prefix string
}

func (t *txn) Load(_ context.Context, key string) (kvs.Record, error) {
	k := t.prefix + key
	sh := t.s.getShard(k)
	sh.mu.RLock()
	r, ok := sh.items[k]
	sh.mu.RUnlock()
	if !ok {
		t.s.misses.Add(1)
		return kvs.Record{}, kvs.ErrNotFound
	}
	t.s.hits.Add(1)
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return kvs.Record{Kind: r.Kind, Data: data}, nil
}

func (t *txn) Save(_ context.Context, key string, r kvs.Record) error {
	k := t.prefix + key
	sh := t.s.getShard(k)
	sh.mu.Lock()
	sh.items[k] = r
	sh.mu.Unlock()
	return nil
}

func (t *txn) Delete(_ context.Context, key string) error {
	k := t.prefix + key
	sh := t.s.getShard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[k]; !ok {
		return kvs.ErrNotFound
	}
	delete(sh.items, k)
	return nil
}

func (t *txn) Keys(_ context.Context) ([]string, error) {
	var out []string
	for i := 0; i < numShards; i++ {
		sh := t.s.shards[i]
		sh.mu.RLock()
		for k := range sh.items {
			if strings.HasPrefix(k, t.prefix) {
				out = append(out, k[len(t.prefix):])
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out, nil
}

func (t *txn) Commit(_ context.Context) error {
	t.s.commits.Add(1)
	return nil
}

func (t *txn) Rollback() error { return nil }
