// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// backends.go - constructors for the storage backends a Store can run on.

package attrstore

import (
	"context"
	"fmt"
	"time"

	"github.com/AndrewDonelson/attrstore/internal/boltkv"
	"github.com/AndrewDonelson/attrstore/internal/memkv"
	"github.com/AndrewDonelson/attrstore/internal/pgkv"
	"github.com/AndrewDonelson/attrstore/internal/rediskv"
	"github.com/AndrewDonelson/attrstore/internal/sqlitekv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// NewMemoryBackend returns a process-local backend. Contents are lost on exit.
func NewMemoryBackend() Backend { return memkv.New() }

// OpenBoltBackend opens or creates a bbolt file at path. timeout bounds the
// wait for the file lock; zero means one second.
func OpenBoltBackend(path string, timeout time.Duration) (Backend, error) {
	s, err := boltkv.Open(boltkv.Options{Path: path, Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s, nil
}

// NewRedisBackend stores each namespace as a hash under keyPrefix. The
// backend owns client and closes it.
func NewRedisBackend(client redis.UniversalClient, keyPrefix string) Backend {
	return rediskv.New(rediskv.Options{Client: client, KeyPrefix: keyPrefix})
}

// NewPostgresBackend creates the tables if needed and returns a backend
// over pool. The backend owns pool and closes it.
func NewPostgresBackend(ctx context.Context, pool *pgxpool.Pool) (Backend, error) {
	s := pgkv.New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s, nil
}

// OpenSQLiteBackend opens or creates an SQLite database file at path.
func OpenSQLiteBackend(path string) (Backend, error) {
	s, err := sqlitekv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return s, nil
}
