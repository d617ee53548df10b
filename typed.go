package attrstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/AndrewDonelson/attrstore/internal/codec"
	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

// floatSize is the stored width of a Float.
const floatSize = 4

// errNotPrimitive marks a record present under the key but not in the
// narrow form of the requested type.
var errNotPrimitive = errors.New("attrstore: record is not a narrow primitive")

// structBlob is the whole-value record earlier releases stored for
// fixed-width kinds.
type structBlob struct {
	Type uint8  `json:"type" msgpack:"type"`
	Raw  uint64 `json:"raw" msgpack:"raw"`
}

// ────────────────────────────────────────────────────────────────────────────
// Handles
// ────────────────────────────────────────────────────────────────────────────

func (s *Store) open(ctx context.Context, namespace string, mode kvs.Mode) (*kvs.Handle, error) {
	h, err := kvs.Open(ctx, s.backend, s.cfg.Partition, namespace, mode)
	if err != nil {
		return nil, classify("open "+namespace, err)
	}
	return h, nil
}

func (s *Store) release(h *kvs.Handle) {
	if err := h.Close(); err != nil {
		s.logger.Warn("attrstore: handle close failed", "namespace", h.Namespace(), "error", err)
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Read path
// ────────────────────────────────────────────────────────────────────────────

// get reads key from namespace into v. v is only modified on success. A
// whole-value blob found in place of the narrow primitive is decoded and,
// when rewrite is set, stored back in narrow form once the read handle is
// released.
func (s *Store) get(ctx context.Context, namespace, key string, v *Value, rewrite bool) error {
	if !v.Type.Valid() {
		return fmt.Errorf("%w: type %s", ErrInvalidArgument, v.Type)
	}
	fromBlob, err := s.read(ctx, namespace, key, v)
	if err != nil {
		return err
	}
	if fromBlob {
		s.stats.Migrations.Add(1)
		s.metrics.RecordMigration("struct_blob")
		s.logger.Info("attrstore: decoded whole-value blob", "namespace", namespace, "key", key)
		if rewrite {
			s.bestEffortStore(ctx, namespace, key, *v, "struct_blob_restore")
		}
	}
	return nil
}

func (s *Store) read(ctx context.Context, namespace, key string, v *Value) (fromBlob bool, err error) {
	h, err := s.open(ctx, namespace, kvs.ReadOnly)
	if err != nil {
		return false, err
	}
	defer s.release(h)

	if v.Type.Variable() {
		return false, s.readBuffer(ctx, h, key, v)
	}

	err = readFixed(ctx, h, key, v)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, kvs.ErrNotFound) && !errors.Is(err, errNotPrimitive) {
		return false, classify("get "+key, err)
	}
	ferr := s.readStructBlob(ctx, h, key, v)
	switch {
	case ferr == nil:
		return true, nil
	case errors.Is(ferr, kvs.ErrNotFound) && errors.Is(err, errNotPrimitive):
		return false, classify("get "+key, fmt.Errorf("%w: %s %q has the wrong size", kvs.ErrCorrupt, v.Type, key))
	}
	return false, classify("get "+key, ferr)
}

// readBuffer loads a variable-length value. The buffer only grows: its new
// capacity is the larger of the stored length and the caller's capacity.
func (s *Store) readBuffer(ctx context.Context, h *kvs.Handle, key string, v *Value) error {
	stored, err := h.BlobSize(ctx, key)
	if err != nil {
		return classify("get "+key, err)
	}
	newCap := max(stored, v.Buffer.Capacity)
	if newCap > s.cfg.MaxValueSize {
		return fmt.Errorf("%w: %q needs %d bytes, limit is %d", ErrOutOfMemory, key, newCap, s.cfg.MaxValueSize)
	}
	delta := v.Buffer.delta(v.Type)

	buf := make([]byte, newCap)
	n, err := h.GetBlob(ctx, key, buf)
	if err != nil {
		return classify("get "+key, err)
	}

	count := n
	if v.Type == TypeArray {
		// Element count is not recoverable from the bytes.
		count = v.Buffer.Count
	}
	v.Buffer = Buffer{
		Data:     buf[:n],
		Count:    count,
		Capacity: newCap,
		Total:    newCap + delta,
	}
	return nil
}

// readFixed loads the narrow primitive of v.Type.
func readFixed(ctx context.Context, h *kvs.Handle, key string, v *Value) error {
	var raw uint64
	switch v.Type.Base() {
	case TypeFloat:
		n, err := h.BlobSize(ctx, key)
		if err != nil {
			return err
		}
		if n != floatSize {
			return errNotPrimitive
		}
		var b [floatSize]byte
		if _, err := h.GetBlob(ctx, key, b[:]); err != nil {
			return err
		}
		raw = uint64(binary.LittleEndian.Uint32(b[:]))
	case TypeBoolean:
		u, err := h.GetU8(ctx, key)
		if err != nil {
			return err
		}
		raw = boolRaw(v.Type, u)
	default:
		var err error
		if raw, err = getRaw(ctx, h, key, v.Type.kind()); err != nil {
			return err
		}
	}
	v.raw = raw
	return nil
}

// readStructBlob decodes a whole-value blob at key. A missing blob, a blob
// that is not an envelope, or an envelope of another type all report
// kvs.ErrNotFound.
func (s *Store) readStructBlob(ctx context.Context, h *kvs.Handle, key string, v *Value) error {
	n, err := h.BlobSize(ctx, key)
	if err != nil {
		return err
	}
	if n > s.cfg.MaxValueSize {
		return fmt.Errorf("%w: %q needs %d bytes, limit is %d", ErrOutOfMemory, key, n, s.cfg.MaxValueSize)
	}
	buf := make([]byte, n)
	if _, err := h.GetBlob(ctx, key, buf); err != nil {
		return err
	}

	var sb structBlob
	if err := codec.Unseal(buf, &sb); err != nil {
		if errors.Is(err, codec.ErrEnvelope) {
			return kvs.ErrNotFound
		}
		return fmt.Errorf("%w: %q: %v", ErrLegacyBlob, key, err)
	}
	if Type(sb.Type).Base() != v.Type.Base() {
		return kvs.ErrNotFound
	}
	if v.Type.Base() == TypeBoolean {
		sb.Raw = boolRaw(v.Type, uint8(sb.Raw))
	}
	v.raw = sb.Raw
	return nil
}

// boolRaw normalizes a stored boolean byte. 0xFF stays null only for the
// nullable type.
func boolRaw(t Type, u uint8) uint64 {
	switch {
	case t.Nullable() && u == 0xFF:
		return 0xFF
	case u != 0:
		return 1
	}
	return 0
}

func getRaw(ctx context.Context, h *kvs.Handle, key string, kind kvs.Kind) (uint64, error) {
	switch kind {
	case kvs.KindU8:
		u, err := h.GetU8(ctx, key)
		return uint64(u), err
	case kvs.KindI8:
		i, err := h.GetI8(ctx, key)
		return signExtend(int64(i)), err
	case kvs.KindU16:
		u, err := h.GetU16(ctx, key)
		return uint64(u), err
	case kvs.KindI16:
		i, err := h.GetI16(ctx, key)
		return signExtend(int64(i)), err
	case kvs.KindU32:
		u, err := h.GetU32(ctx, key)
		return uint64(u), err
	case kvs.KindI32:
		i, err := h.GetI32(ctx, key)
		return signExtend(int64(i)), err
	case kvs.KindU64:
		return h.GetU64(ctx, key)
	case kvs.KindI64:
		i, err := h.GetI64(ctx, key)
		return signExtend(i), err
	}
	return 0, fmt.Errorf("%w: kind %s", ErrInvalidArgument, kind)
}

// ────────────────────────────────────────────────────────────────────────────
// Write path
// ────────────────────────────────────────────────────────────────────────────

// store writes v under key in namespace. Commit is attempted even when the
// write fails; the write error takes precedence. A variable-length value
// longer than MaxValueSize is refused, since it could never be read back.
func (s *Store) store(ctx context.Context, namespace, key string, v Value) error {
	if !v.Type.Valid() {
		return fmt.Errorf("%w: type %s", ErrInvalidArgument, v.Type)
	}
	if v.Type.Variable() && len(v.Buffer.Data) > s.cfg.MaxValueSize {
		return fmt.Errorf("%w: %q is %d bytes, limit is %d", ErrInvalidArgument, key, len(v.Buffer.Data), s.cfg.MaxValueSize)
	}
	h, err := s.open(ctx, namespace, kvs.ReadWrite)
	if err != nil {
		return err
	}
	defer s.release(h)

	werr := writeValue(ctx, h, key, v)
	cerr := h.Commit(ctx)
	if werr != nil {
		return classify("set "+key, werr)
	}
	return classify("commit "+namespace, cerr)
}

func writeValue(ctx context.Context, h *kvs.Handle, key string, v Value) error {
	switch {
	case v.Type.Variable():
		if v.Buffer.Data == nil {
			return eraseAbsentOK(ctx, h, key)
		}
		return h.SetBlob(ctx, key, v.Buffer.Data)
	case v.Type.Base() == TypeFloat:
		var b [floatSize]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.raw))
		return h.SetBlob(ctx, key, b[:])
	case v.Type.Base() == TypeBoolean:
		return h.SetU8(ctx, key, uint8(boolRaw(v.Type, uint8(v.raw))))
	}
	return setRaw(ctx, h, key, v.Type.kind(), v.raw)
}

func setRaw(ctx context.Context, h *kvs.Handle, key string, kind kvs.Kind, raw uint64) error {
	switch kind {
	case kvs.KindU8:
		return h.SetU8(ctx, key, uint8(raw))
	case kvs.KindI8:
		return h.SetI8(ctx, key, int8(raw))
	case kvs.KindU16:
		return h.SetU16(ctx, key, uint16(raw))
	case kvs.KindI16:
		return h.SetI16(ctx, key, int16(raw))
	case kvs.KindU32:
		return h.SetU32(ctx, key, uint32(raw))
	case kvs.KindI32:
		return h.SetI32(ctx, key, int32(raw))
	case kvs.KindU64:
		return h.SetU64(ctx, key, raw)
	case kvs.KindI64:
		return h.SetI64(ctx, key, int64(raw))
	}
	return fmt.Errorf("%w: kind %s", ErrInvalidArgument, kind)
}

// erase removes key from namespace. An absent key is not an error.
func (s *Store) erase(ctx context.Context, namespace, key string) error {
	h, err := s.open(ctx, namespace, kvs.ReadWrite)
	if err != nil {
		return err
	}
	defer s.release(h)

	if err := eraseAbsentOK(ctx, h, key); err != nil {
		return classify("erase "+key, err)
	}
	return classify("commit "+namespace, h.Commit(ctx))
}

func eraseAbsentOK(ctx context.Context, h *kvs.Handle, key string) error {
	if err := h.EraseKey(ctx, key); err != nil && !errors.Is(err, kvs.ErrNotFound) {
		return err
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// Best-effort side writes
// ────────────────────────────────────────────────────────────────────────────

// bestEffortStore and bestEffortErase never fail the caller: the value has
// already been read. Failures are logged and counted.
func (s *Store) bestEffortStore(ctx context.Context, namespace, key string, v Value, step string) {
	if err := s.store(ctx, namespace, key, v); err != nil {
		s.housekeepingFailed(step, namespace, key, err)
	}
}

func (s *Store) bestEffortErase(ctx context.Context, namespace, key, step string) {
	if err := s.erase(ctx, namespace, key); err != nil {
		s.housekeepingFailed(step, namespace, key, err)
	}
}

func (s *Store) housekeepingFailed(step, namespace, key string, err error) {
	s.stats.HousekeepingFailures.Add(1)
	s.metrics.RecordHousekeepingFailure(step)
	s.logger.Warn("attrstore: housekeeping failed", "step", step, "namespace", namespace, "key", key, "error", err)
}
