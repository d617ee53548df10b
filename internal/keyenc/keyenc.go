// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// keyenc.go - compaction of the (endpoint, cluster, attribute) triple into a
// 14-character backend key, plus the legacy namespace/key naming used by
// earlier releases and consulted only during migration.

// Package keyenc maps attribute keys to backend string keys.
package keyenc

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// RawLen is the packed size of a composite key: endpoint(2) + cluster(4) + attribute(4).
	RawLen = 10
	// EncodedLen is the length of an encoded key after the padding is dropped.
	EncodedLen = 14
	padding    = "=="
)

// strict rejects non-zero trailing bits, so only the canonical spelling of
// a key decodes.
var strict = base64.StdEncoding.Strict()

// Encode packs the triple little-endian and returns its base64 form without
// the trailing "==". Base64 is a bijection on 10-byte inputs and the padding
// suffix is constant, so distinct triples never share an encoded key.
func Encode(endpoint uint16, cluster, attribute uint32) string {
	var raw [RawLen]byte
	binary.LittleEndian.PutUint16(raw[0:2], endpoint)
	binary.LittleEndian.PutUint32(raw[2:6], cluster)
	binary.LittleEndian.PutUint32(raw[6:10], attribute)

	s := base64.StdEncoding.EncodeToString(raw[:])
	if len(s) != EncodedLen+len(padding) || !strings.HasSuffix(s, padding) {
		panic(fmt.Sprintf("keyenc: encoding of %d bytes is %q, want %d chars ending in %q",
			RawLen, s, EncodedLen+len(padding), padding))
	}
	return s[:EncodedLen]
}

// Decode reverses Encode. It accepts exactly the strings Encode produces.
func Decode(key string) (endpoint uint16, cluster, attribute uint32, err error) {
	if len(key) != EncodedLen {
		return 0, 0, 0, fmt.Errorf("keyenc: key %q has length %d, want %d", key, len(key), EncodedLen)
	}
	if strings.ContainsAny(key, "\r\n") {
		return 0, 0, 0, fmt.Errorf("keyenc: key %q contains a line break", key)
	}
	raw, err := strict.DecodeString(key + padding)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("keyenc: decode %q: %w", key, err)
	}
	if len(raw) != RawLen {
		return 0, 0, 0, fmt.Errorf("keyenc: key %q decodes to %d bytes", key, len(raw))
	}
	endpoint = binary.LittleEndian.Uint16(raw[0:2])
	cluster = binary.LittleEndian.Uint32(raw[2:6])
	attribute = binary.LittleEndian.Uint32(raw[6:10])
	return endpoint, cluster, attribute, nil
}

// LegacyNamespace returns the per-endpoint namespace of the old scheme.
func LegacyNamespace(endpoint uint16) string {
	return fmt.Sprintf("endpoint_%X", endpoint)
}

// LegacyKey returns the "<cluster>:<attribute>" key of the old scheme.
func LegacyKey(cluster, attribute uint32) string {
	return fmt.Sprintf("%X:%X", cluster, attribute)
}
