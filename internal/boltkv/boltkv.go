// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// boltkv.go - file-backed backend on bbolt. A partition is a top-level
// bucket, a namespace a nested bucket, and every opened handle one bolt
// transaction, so Commit is the durability point.

// Package boltkv provides a bbolt-backed kvs.Backend.
package boltkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"go.etcd.io/bbolt"
)

// Options configures a Store.
type Options struct {
	Path    string
	Timeout time.Duration
	// NoSync disables fsync per commit. Tests only.
	NoSync bool
}

// Store is the bbolt backend.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the database file at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}
	db, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{
		Timeout: opts.Timeout,
		NoSync:  opts.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("boltkv open %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

// Name returns "bolt".
func (s *Store) Name() string { return "bolt" }

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// Begin starts a bolt transaction scoped to partition/namespace.
func (s *Store) Begin(_ context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	writable := mode == kvs.ReadWrite
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("boltkv begin: %w", err)
	}
	var b *bbolt.Bucket
	if writable {
		part, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("boltkv partition %s: %w", partition, err)
		}
		b, err = part.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("boltkv namespace %s: %w", namespace, err)
		}
	} else {
		if part := tx.Bucket([]byte(partition)); part != nil {
			b = part.Bucket([]byte(namespace))
		}
		if b == nil {
			_ = tx.Rollback()
			return nil, kvs.ErrNotFound
		}
	}
	return &txn{tx: tx, b: b}, nil
}

type txn struct {
	tx   *bbolt.Tx
	b    *bbolt.Bucket
	done bool
}

func (t *txn) Load(_ context.Context, key string) (kvs.Record, error) {
	v := t.b.Get([]byte(key))
	if v == nil {
		return kvs.Record{}, kvs.ErrNotFound
	}
	return kvs.UnmarshalRecord(v)
}

func (t *txn) Save(_ context.Context, key string, r kvs.Record) error {
	if err := t.b.Put([]byte(key), kvs.MarshalRecord(r)); err != nil {
		return fmt.Errorf("boltkv put %s: %w", key, err)
	}
	return nil
}

func (t *txn) Delete(_ context.Context, key string) error {
	if t.b.Get([]byte(key)) == nil {
		return kvs.ErrNotFound
	}
	if err := t.b.Delete([]byte(key)); err != nil {
		return fmt.Errorf("boltkv delete %s: %w", key, err)
	}
	return nil
}

func (t *txn) Keys(_ context.Context) ([]string, error) {
	var out []string
	err := t.b.ForEach(func(k, v []byte) error {
		if v != nil {
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

func (t *txn) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("boltkv commit: %w", err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}
