// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// errors.go - sentinel errors returned by the public attrstore API and the
// classification of backend failures into them.

// Package attrstore persists typed attribute values, addressed by
// (endpoint, cluster, attribute), on a namespaced key-value backend and
// migrates records written under the legacy key scheme on first read.
package attrstore

import (
	"errors"
	"fmt"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

// Data errors
var (
	// ErrNotFound means the key is absent in every namespace consulted.
	// Callers apply their default-value policy only for this error.
	ErrNotFound = errors.New("attrstore: attribute not found")
	// ErrInvalidArgument reports an unknown or unsupported value type.
	ErrInvalidArgument = errors.New("attrstore: invalid argument")
	// ErrOutOfMemory reports a value buffer that could not be allocated.
	ErrOutOfMemory = errors.New("attrstore: out of memory")
	// ErrLegacyBlob reports a whole-value blob that could not be decoded.
	ErrLegacyBlob = errors.New("attrstore: undecodable legacy value blob")
)

// Infrastructure errors
var (
	// ErrBackend wraps open/read/write/commit failures of the backend.
	ErrBackend = errors.New("attrstore: backend failure")
	ErrClosed  = errors.New("attrstore: store closed")
)

// Config errors
var (
	ErrInvalidConfig = errors.New("attrstore: invalid configuration")
)

// backendError matches both ErrBackend and the underlying cause.
type backendError struct {
	op  string
	err error
}

func (e *backendError) Error() string {
	return fmt.Sprintf("attrstore: backend %s: %v", e.op, e.err)
}

func (e *backendError) Unwrap() []error { return []error{ErrBackend, e.err} }

// classify maps a backend error onto the public taxonomy. Absence always
// becomes ErrNotFound so it is never confused with a fault.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kvs.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrOutOfMemory),
		errors.Is(err, ErrLegacyBlob), errors.Is(err, ErrBackend):
		return err
	}
	return &backendError{op: op, err: err}
}
