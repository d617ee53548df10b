package kvs

import (
	"context"
	"encoding/binary"
	"fmt"
)

// Handle is one opened namespace. It must be closed on every exit path;
// Close is idempotent.
type Handle struct {
	txn       Txn
	mode      Mode
	namespace string
	closed    bool
}

// Open validates the names and begins a transaction on b.
func Open(ctx context.Context, b Backend, partition, namespace string, mode Mode) (*Handle, error) {
	if err := ValidateName(partition); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if err := ValidateName(namespace); err != nil {
		return nil, fmt.Errorf("namespace: %w", err)
	}
	txn, err := b.Begin(ctx, partition, namespace, mode)
	if err != nil {
		return nil, err
	}
	return &Handle{txn: txn, mode: mode, namespace: namespace}, nil
}

// Namespace returns the name the handle was opened on.
func (h *Handle) Namespace() string { return h.namespace }

func (h *Handle) check(key string, write bool) error {
	if h.closed {
		return ErrClosed
	}
	if write && h.mode != ReadWrite {
		return ErrReadOnly
	}
	return ValidateName(key)
}

func (h *Handle) load(ctx context.Context, key string, kind Kind) ([]byte, error) {
	if err := h.check(key, false); err != nil {
		return nil, err
	}
	r, err := h.txn.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if r.Kind != kind {
		return nil, ErrNotFound
	}
	if w := kind.Width(); w > 0 && len(r.Data) != w {
		return nil, fmt.Errorf("%w: %s %q holds %d bytes", ErrCorrupt, kind, key, len(r.Data))
	}
	return r.Data, nil
}

// getInt reads a primitive and returns its raw little-endian bits.
func (h *Handle) getInt(ctx context.Context, key string, kind Kind) (uint64, error) {
	b, err := h.load(ctx, key, kind)
	if err != nil {
		return 0, err
	}
	switch kind.Width() {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (h *Handle) setInt(ctx context.Context, key string, kind Kind, v uint64) error {
	if err := h.check(key, true); err != nil {
		return err
	}
	b := make([]byte, kind.Width())
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return h.txn.Save(ctx, key, Record{Kind: kind, Data: b})
}

func (h *Handle) GetU8(ctx context.Context, key string) (uint8, error) {
	v, err := h.getInt(ctx, key, KindU8)
	return uint8(v), err
}

func (h *Handle) GetI8(ctx context.Context, key string) (int8, error) {
	v, err := h.getInt(ctx, key, KindI8)
	return int8(v), err
}

func (h *Handle) GetU16(ctx context.Context, key string) (uint16, error) {
	v, err := h.getInt(ctx, key, KindU16)
	return uint16(v), err
}

func (h *Handle) GetI16(ctx context.Context, key string) (int16, error) {
	v, err := h.getInt(ctx, key, KindI16)
	return int16(v), err
}

func (h *Handle) GetU32(ctx context.Context, key string) (uint32, error) {
	v, err := h.getInt(ctx, key, KindU32)
	return uint32(v), err
}

func (h *Handle) GetI32(ctx context.Context, key string) (int32, error) {
	v, err := h.getInt(ctx, key, KindI32)
	return int32(v), err
}

func (h *Handle) GetU64(ctx context.Context, key string) (uint64, error) {
	return h.getInt(ctx, key, KindU64)
}

func (h *Handle) GetI64(ctx context.Context, key string) (int64, error) {
	v, err := h.getInt(ctx, key, KindI64)
	return int64(v), err
}

func (h *Handle) SetU8(ctx context.Context, key string, v uint8) error {
	return h.setInt(ctx, key, KindU8, uint64(v))
}

func (h *Handle) SetI8(ctx context.Context, key string, v int8) error {
	return h.setInt(ctx, key, KindI8, uint64(uint8(v)))
}

func (h *Handle) SetU16(ctx context.Context, key string, v uint16) error {
	return h.setInt(ctx, key, KindU16, uint64(v))
}

func (h *Handle) SetI16(ctx context.Context, key string, v int16) error {
	return h.setInt(ctx, key, KindI16, uint64(uint16(v)))
}

func (h *Handle) SetU32(ctx context.Context, key string, v uint32) error {
	return h.setInt(ctx, key, KindU32, uint64(v))
}

func (h *Handle) SetI32(ctx context.Context, key string, v int32) error {
	return h.setInt(ctx, key, KindI32, uint64(uint32(v)))
}

func (h *Handle) SetU64(ctx context.Context, key string, v uint64) error {
	return h.setInt(ctx, key, KindU64, v)
}

func (h *Handle) SetI64(ctx context.Context, key string, v int64) error {
	return h.setInt(ctx, key, KindI64, uint64(v))
}

// BlobSize reports the stored length of a blob without copying it.
func (h *Handle) BlobSize(ctx context.Context, key string) (int, error) {
	b, err := h.load(ctx, key, KindBlob)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// GetBlob copies the blob into buf and returns the number of bytes written.
func (h *Handle) GetBlob(ctx context.Context, key string, buf []byte) (int, error) {
	b, err := h.load(ctx, key, KindBlob)
	if err != nil {
		return 0, err
	}
	if len(buf) < len(b) {
		return 0, fmt.Errorf("%w: %q needs %d bytes, have %d", ErrBufferTooSmall, key, len(b), len(buf))
	}
	return copy(buf, b), nil
}

// SetBlob stores a copy of data.
func (h *Handle) SetBlob(ctx context.Context, key string, data []byte) error {
	if err := h.check(key, true); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return h.txn.Save(ctx, key, Record{Kind: KindBlob, Data: cp})
}

// EraseKey removes key; ErrNotFound when absent.
func (h *Handle) EraseKey(ctx context.Context, key string) error {
	if err := h.check(key, true); err != nil {
		return err
	}
	return h.txn.Delete(ctx, key)
}

// Keys lists every key in the namespace.
func (h *Handle) Keys(ctx context.Context) ([]string, error) {
	if h.closed {
		return nil, ErrClosed
	}
	return h.txn.Keys(ctx)
}

// Commit flushes pending writes. Read-only handles commit trivially.
func (h *Handle) Commit(ctx context.Context) error {
	if h.closed {
		return ErrClosed
	}
	if h.mode != ReadWrite {
		return nil
	}
	return h.txn.Commit(ctx)
}

// Close releases the handle, discarding uncommitted writes.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	return h.txn.Rollback()
}
