// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// codec.go - pluggable serializers and the version-tagged envelope used for
// whole-value ("struct") blobs written by earlier releases.

// Package codec provides encode/decode interfaces and the struct-blob envelope.
package codec

import (
	"errors"
	"fmt"
)

// Codec encodes and decodes values for blob storage.
type Codec interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal deserializes data into v (must be a pointer).
	Unmarshal(data []byte, v any) error
	// Name identifies the codec in errors.
	Name() string
	// ID is the byte recorded in the envelope header.
	ID() byte
}

// Envelope header: magic "AV", version, codec id.
const (
	magic0         = 'A'
	magic1         = 'V'
	EnvelopeV1     = 1
	envelopeHeader = 4
)

// ErrEnvelope reports a blob that is not a struct-blob envelope.
var ErrEnvelope = errors.New("codec: not a value envelope")

var registry = map[byte]Codec{
	JSON{}.ID():    JSON{},
	MsgPack{}.ID(): MsgPack{},
}

// Seal marshals v with c and prefixes the envelope header.
func Seal(c Codec, v any) ([]byte, error) {
	body, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec seal %s: %w", c.Name(), err)
	}
	out := make([]byte, envelopeHeader, envelopeHeader+len(body))
	out[0], out[1], out[2], out[3] = magic0, magic1, EnvelopeV1, c.ID()
	return append(out, body...), nil
}

// Unseal checks the header and decodes the body with the codec it names.
func Unseal(b []byte, v any) error {
	if len(b) < envelopeHeader || b[0] != magic0 || b[1] != magic1 {
		return ErrEnvelope
	}
	if b[2] != EnvelopeV1 {
		return fmt.Errorf("%w: version %d", ErrEnvelope, b[2])
	}
	c, ok := registry[b[3]]
	if !ok {
		return fmt.Errorf("%w: codec id %d", ErrEnvelope, b[3])
	}
	if err := c.Unmarshal(b[envelopeHeader:], v); err != nil {
		return fmt.Errorf("codec unseal %s: %w", c.Name(), err)
	}
	return nil
}
