// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// sqlitekv.go - single-file SQLite backend (pure Go driver). Same table
// layout as the Postgres backend; every read-write handle is one database
// transaction.

// Package sqlitekv provides an SQLite-backed kvs.Backend.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
	_ "modernc.org/sqlite"
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite backend.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
// Parent directories are created if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitekv mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv open: %w", err)
	}
	// One writer at a time; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv wal: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS attr_namespaces (
			partition TEXT NOT NULL,
			namespace TEXT NOT NULL,
			PRIMARY KEY (partition, namespace)
		);

		CREATE TABLE IF NOT EXISTS attr_kv (
			partition TEXT    NOT NULL,
			namespace TEXT    NOT NULL,
			key       TEXT    NOT NULL,
			kind      INTEGER NOT NULL,
			value     BLOB    NOT NULL,
			PRIMARY KEY (partition, namespace, key)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlitekv schema: %w", err)
	}
	return nil
}

// Name returns "sqlite".
func (s *Store) Name() string { return "sqlite" }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Begin opens a namespace.
func (s *Store) Begin(ctx context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	if mode != kvs.ReadWrite {
		var dummy int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM attr_namespaces WHERE partition = ? AND namespace = ?",
			partition, namespace).Scan(&dummy)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, kvs.ErrNotFound
			}
			return nil, fmt.Errorf("sqlitekv open %s: %w", namespace, err)
		}
		return &txn{q: s.db, partition: partition, namespace: namespace}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv begin: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO attr_namespaces (partition, namespace) VALUES (?, ?)",
		partition, namespace)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("sqlitekv open %s: %w", namespace, err)
	}
	return &txn{q: tx, tx: tx, partition: partition, namespace: namespace}, nil
}

type txn struct {
	q         querier
	tx        *sql.Tx
	partition string
	namespace string
}

func (t *txn) Load(ctx context.Context, key string) (kvs.Record, error) {
	var kind int64
	var value []byte
	err := t.q.QueryRowContext(ctx,
		"SELECT kind, value FROM attr_kv WHERE partition = ? AND namespace = ? AND key = ?",
		t.partition, t.namespace, key).Scan(&kind, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kvs.Record{}, kvs.ErrNotFound
		}
		return kvs.Record{}, fmt.Errorf("sqlitekv load %s: %w", key, err)
	}
	k := kvs.Kind(kind)
	if kind < 0 || kind > 0xFF || !k.Valid() {
		return kvs.Record{}, fmt.Errorf("%w: %s has kind %d", kvs.ErrCorrupt, key, kind)
	}
	return kvs.Record{Kind: k, Data: value}, nil
}

func (t *txn) Save(ctx context.Context, key string, r kvs.Record) error {
	data := r.Data
	if data == nil {
		data = []byte{}
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO attr_kv (partition, namespace, key, kind, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (partition, namespace, key) DO UPDATE SET kind = excluded.kind, value = excluded.value`,
		t.partition, t.namespace, key, int64(r.Kind), data)
	if err != nil {
		return fmt.Errorf("sqlitekv save %s: %w", key, err)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, key string) error {
	res, err := t.q.ExecContext(ctx,
		"DELETE FROM attr_kv WHERE partition = ? AND namespace = ? AND key = ?",
		t.partition, t.namespace, key)
	if err != nil {
		return fmt.Errorf("sqlitekv delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitekv delete %s: %w", key, err)
	}
	if n == 0 {
		return kvs.ErrNotFound
	}
	return nil
}

func (t *txn) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.q.QueryContext(ctx,
		"SELECT key FROM attr_kv WHERE partition = ? AND namespace = ? ORDER BY key",
		t.partition, t.namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv keys: %w", err)
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

func (t *txn) Commit(_ context.Context) error {
	if t.tx == nil {
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlitekv commit: %w", err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.tx == nil {
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
