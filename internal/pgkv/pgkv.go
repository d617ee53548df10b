// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// pgkv.go - PostgreSQL backend: a namespace registry table plus one row per
// record keyed by (partition, namespace, key). Read-write handles run in a
// pgx transaction; read-only handles query the pool directly.

// Package pgkv provides the PostgreSQL kvs.Backend.
package pgkv

import (
	"context"
	"errors"
	"fmt"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	namespaceTable = "attr_namespaces"
	recordTable    = "attr_kv"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store from an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Name returns "postgres".
func (s *Store) Name() string { return "postgres" }

// Ping verifies the pool is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the backing tables (idempotent).
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
partition TEXT NOT NULL,
namespace TEXT NOT NULL,
PRIMARY KEY (partition, namespace)
)`, namespaceTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
partition TEXT     NOT NULL,
namespace TEXT     NOT NULL,
key       TEXT     NOT NULL,
kind      SMALLINT NOT NULL,
value     BYTEA    NOT NULL,
PRIMARY KEY (partition, namespace, key)
)`, recordTable),
	}
	for _, sql := range stmts {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("pgkv schema: %w", err)
		}
	}
	return nil
}

// Begin opens a namespace.
func (s *Store) Begin(ctx context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	if mode != kvs.ReadWrite {
		var dummy int
		err := s.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE partition = $1 AND namespace = $2", namespaceTable),
			partition, namespace).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, kvs.ErrNotFound
			}
			return nil, fmt.Errorf("pgkv open %s: %w", namespace, err)
		}
		return &txn{q: s.pool, partition: partition, namespace: namespace}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgkv begin: %w", err)
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (partition, namespace) VALUES ($1, $2) ON CONFLICT DO NOTHING", namespaceTable),
		partition, namespace)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("pgkv open %s: %w", namespace, err)
	}
	return &txn{q: tx, tx: tx, partition: partition, namespace: namespace}, nil
}

// Close shuts down the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type txn struct {
	q         querier
	tx        pgx.Tx
	partition string
	namespace string
}

func (t *txn) Load(ctx context.Context, key string) (kvs.Record, error) {
	var kind int16
	var value []byte
	err := t.q.QueryRow(ctx,
		fmt.Sprintf("SELECT kind, value FROM %s WHERE partition = $1 AND namespace = $2 AND key = $3", recordTable),
		t.partition, t.namespace, key).Scan(&kind, &value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kvs.Record{}, kvs.ErrNotFound
		}
		return kvs.Record{}, fmt.Errorf("pgkv load %s: %w", key, err)
	}
	k := kvs.Kind(kind)
	if !k.Valid() {
		return kvs.Record{}, fmt.Errorf("%w: %s has kind %d", kvs.ErrCorrupt, key, kind)
	}
	return kvs.Record{Kind: k, Data: value}, nil
}

func (t *txn) Save(ctx context.Context, key string, r kvs.Record) error {
	data := r.Data
	if data == nil {
		data = []byte{}
	}
	_, err := t.q.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (partition, namespace, key, kind, value) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (partition, namespace, key) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value`, recordTable),
		t.partition, t.namespace, key, int16(r.Kind), data)
	if err != nil {
		return fmt.Errorf("pgkv save %s: %w", key, err)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, key string) error {
	tag, err := t.q.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE partition = $1 AND namespace = $2 AND key = $3", recordTable),
		t.partition, t.namespace, key)
	if err != nil {
		return fmt.Errorf("pgkv delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return kvs.ErrNotFound
	}
	return nil
}

func (t *txn) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.q.Query(ctx,
		fmt.Sprintf("SELECT key FROM %s WHERE partition = $1 AND namespace = $2 ORDER BY key", recordTable),
		t.partition, t.namespace)
	if err != nil {
		return nil, fmt.Errorf("pgkv keys: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (t *txn) Commit(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgkv commit: %w", err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Rollback(context.Background())
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
