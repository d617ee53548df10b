// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// crypto.go - AES-256-GCM sealing of record payloads at rest, installed
// around the configured backend when Config.EncryptionKey is set.

package attrstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

// Encryptor seals record payloads. The associated data carries the record's
// kind and key, so a payload only opens where it was written.
type Encryptor = kvs.Cipher

// EncryptionKeySize is the key length NewAES256GCM accepts.
const EncryptionKeySize = 32

var errShortCiphertext = errors.New("attrstore: ciphertext too short")

// AES256GCM is the Encryptor installed for Config.EncryptionKey.
type AES256GCM struct {
	aead cipher.AEAD
}

var _ Encryptor = (*AES256GCM)(nil)

// NewAES256GCM returns an AES-256-GCM Encryptor for a 32-byte key.
func NewAES256GCM(key []byte) (*AES256GCM, error) {
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: encryption key is %d bytes, want %d",
			ErrInvalidConfig, len(key), EncryptionKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &AES256GCM{aead: aead}, nil
}

// Seal returns nonce || ciphertext || tag. A fresh random nonce is drawn
// for every record write.
func (e *AES256GCM) Seal(plaintext, ad []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("attrstore: nonce: %w", err)
	}
	return e.aead.Seal(out, out[:ns], plaintext, ad), nil
}

// Open reverses Seal. It fails if the payload was tampered with or ad
// differs from the one it was sealed with.
func (e *AES256GCM) Open(sealed, ad []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns+e.aead.Overhead() {
		return nil, errShortCiphertext
	}
	return e.aead.Open(nil, sealed[:ns], sealed[ns:], ad)
}
