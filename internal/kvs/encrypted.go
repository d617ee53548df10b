package kvs

import (
	"context"
	"fmt"
)

// Cipher seals and opens record payloads. ad is authenticated but not
// encrypted; Open must fail when it differs from the ad given to Seal.
type Cipher interface {
	Seal(plaintext, ad []byte) ([]byte, error)
	Open(sealed, ad []byte) ([]byte, error)
}

// recordAD binds a payload to its kind and key, so a sealed record copied
// to another key or rewritten with another kind fails to open.
func recordAD(kind Kind, key string) []byte {
	ad := make([]byte, 0, 1+len(key))
	ad = append(ad, byte(kind))
	return append(ad, key...)
}

// Encrypted wraps b so every record payload is sealed with c at rest. Kinds
// and keys stay in clear so typed lookups keep working; both are bound to
// the payload as associated data.
func Encrypted(b Backend, c Cipher) Backend {
	return &encryptedBackend{Backend: b, cipher: c}
}

type encryptedBackend struct {
	Backend
	cipher Cipher
}

func (e *encryptedBackend) Name() string { return e.Backend.Name() + "+aead" }

// Unwrap returns the backend holding the sealed records.
func (e *encryptedBackend) Unwrap() Backend { return e.Backend }

func (e *encryptedBackend) Begin(ctx context.Context, partition, namespace string, mode Mode) (Txn, error) {
	txn, err := e.Backend.Begin(ctx, partition, namespace, mode)
	if err != nil {
		return nil, err
	}
	return &encryptedTxn{Txn: txn, cipher: e.cipher}, nil
}

type encryptedTxn struct {
	Txn
	cipher Cipher
}

func (t *encryptedTxn) Load(ctx context.Context, key string) (Record, error) {
	r, err := t.Txn.Load(ctx, key)
	if err != nil {
		return Record{}, err
	}
	plain, err := t.cipher.Open(r.Data, recordAD(r.Kind, key))
	if err != nil {
		return Record{}, fmt.Errorf("%w: decrypt %q: %v", ErrCorrupt, key, err)
	}
	return Record{Kind: r.Kind, Data: plain}, nil
}

func (t *encryptedTxn) Save(ctx context.Context, key string, r Record) error {
	sealed, err := t.cipher.Seal(r.Data, recordAD(r.Kind, key))
	if err != nil {
		return fmt.Errorf("kvs: encrypt %q: %w", key, err)
	}
	return t.Txn.Save(ctx, key, Record{Kind: r.Kind, Data: sealed})
}
