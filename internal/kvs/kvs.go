// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// kvs.go - the namespaced, typed key-value contract every storage backend
// satisfies. Backends only provide record-level transactions (Txn); Handle
// layers name validation, typed primitive access and blob sizing on top so
// that memory, bolt, Redis, Postgres and SQLite behave identically.

// Package kvs defines the backend contract for flash-style key-value stores.
package kvs

import (
	"context"
	"errors"
	"fmt"
)

// MaxKeyLen is the longest key or namespace name a backend accepts.
const MaxKeyLen = 15

var (
	ErrNotFound       = errors.New("kvs: not found")
	ErrKeyTooLong     = errors.New("kvs: key too long")
	ErrInvalidKey     = errors.New("kvs: invalid key")
	ErrReadOnly       = errors.New("kvs: handle is read-only")
	ErrBufferTooSmall = errors.New("kvs: buffer too small")
	ErrClosed         = errors.New("kvs: handle closed")
	ErrCorrupt        = errors.New("kvs: corrupt record")
)

// Mode selects how a namespace is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Kind is the stored type of a record. A lookup with a different kind than
// the stored one reports ErrNotFound.
type Kind uint8

const (
	KindU8   Kind = 0x01
	KindU16  Kind = 0x02
	KindU32  Kind = 0x04
	KindU64  Kind = 0x08
	KindI8   Kind = 0x11
	KindI16  Kind = 0x12
	KindI32  Kind = 0x14
	KindI64  Kind = 0x18
	KindBlob Kind = 0x42
)

// Width returns the byte width of a primitive kind, or 0 for blobs.
func (k Kind) Width() int {
	if k == KindBlob {
		return 0
	}
	return int(k & 0x0F)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindI8, KindI16, KindI32, KindI64, KindBlob:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindBlob:
		return "blob"
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

// Record is one stored value with its kind.
type Record struct {
	Kind Kind
	Data []byte
}

// Txn is the record-level access a backend provides for one opened
// namespace. Load and Delete return ErrNotFound for absent keys.
type Txn interface {
	Load(ctx context.Context, key string) (Record, error)
	Save(ctx context.Context, key string, r Record) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Commit(ctx context.Context) error
	// Rollback releases the transaction; after a successful Commit it is a no-op.
	Rollback() error
}

// Backend is a partitioned, namespaced key-value engine.
type Backend interface {
	// Name returns the backend identifier used for diagnostics.
	Name() string
	// Begin opens namespace within partition. In ReadOnly mode a namespace
	// that was never written reports ErrNotFound.
	Begin(ctx context.Context, partition, namespace string, mode Mode) (Txn, error)
	Close() error
}

// Stats counts a backend's record traffic. Fields a backend does not track
// stay zero.
type Stats struct {
	Hits    int64 // loads that found a record
	Misses  int64 // loads of absent keys
	Commits int64
	Entries int64 // records held
}

// StatsReporter is implemented by backends that count their traffic.
type StatsReporter interface {
	Stats() Stats
}

// Pinger is implemented by backends behind a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// unwrapper is implemented by backends that decorate another one.
type unwrapper interface {
	Unwrap() Backend
}

// BackendStats returns the counters of b or of the backend it wraps. ok is
// false when none of them count.
func BackendStats(b Backend) (st Stats, ok bool) {
	for b != nil {
		if r, ok := b.(StatsReporter); ok {
			return r.Stats(), true
		}
		u, ok := b.(unwrapper)
		if !ok {
			break
		}
		b = u.Unwrap()
	}
	return Stats{}, false
}

// Ping checks the connection of b or of the backend it wraps. Backends
// without one always succeed.
func Ping(ctx context.Context, b Backend) error {
	for b != nil {
		if p, ok := b.(Pinger); ok {
			return p.Ping(ctx)
		}
		u, ok := b.(unwrapper)
		if !ok {
			break
		}
		b = u.Unwrap()
	}
	return nil
}

// ValidateName checks a key or namespace name against the backend limits.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidKey
	}
	if len(name) > MaxKeyLen {
		return fmt.Errorf("%w: %q has %d chars, max %d", ErrKeyTooLong, name, len(name), MaxKeyLen)
	}
	return nil
}

// MarshalRecord packs r as kind byte followed by the payload, the layout
// used by backends that store opaque values.
func MarshalRecord(r Record) []byte {
	out := make([]byte, 1+len(r.Data))
	out[0] = byte(r.Kind)
	copy(out[1:], r.Data)
	return out
}

// UnmarshalRecord reverses MarshalRecord, copying the payload.
func UnmarshalRecord(b []byte) (Record, error) {
	if len(b) == 0 || !Kind(b[0]).Valid() {
		return Record{}, fmt.Errorf("%w: bad record header", ErrCorrupt)
	}
	data := make([]byte, len(b)-1)
	copy(data, b[1:])
	return Record{Kind: Kind(b[0]), Data: data}, nil
}
