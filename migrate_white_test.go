package attrstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AndrewDonelson/attrstore/internal/codec"
	"github.com/AndrewDonelson/attrstore/internal/kvs"
	"github.com/AndrewDonelson/attrstore/internal/memkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected fault")

// faultyBackend fails selected operations of the wrapped backend and counts
// transaction lifecycle calls.
type faultyBackend struct {
	kvs.Backend
	failWriteOpen atomic.Bool
	failCommit    atomic.Bool
	failSave      atomic.Bool
	// failLoadIn names a namespace whose loads fail.
	failLoadIn string

	begins    atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
}

// assertReleased checks that every transaction begun was rolled back, which
// Handle.Close always does.
func (f *faultyBackend) assertReleased(t *testing.T, msg string) {
	t.Helper()
	assert.Positive(t, f.begins.Load(), msg)
	assert.Equal(t, f.begins.Load(), f.rollbacks.Load(), msg)
}

func (f *faultyBackend) Begin(ctx context.Context, partition, namespace string, mode kvs.Mode) (kvs.Txn, error) {
	if mode == kvs.ReadWrite && f.failWriteOpen.Load() {
		return nil, errInjected
	}
	txn, err := f.Backend.Begin(ctx, partition, namespace, mode)
	if err != nil {
		return nil, err
	}
	f.begins.Add(1)
	return &faultyTxn{Txn: txn, f: f, namespace: namespace}, nil
}

type faultyTxn struct {
	kvs.Txn
	f         *faultyBackend
	namespace string
}

func (t *faultyTxn) Load(ctx context.Context, key string) (kvs.Record, error) {
	if t.f.failLoadIn != "" && t.f.failLoadIn == t.namespace {
		return kvs.Record{}, errInjected
	}
	return t.Txn.Load(ctx, key)
}

func (t *faultyTxn) Save(ctx context.Context, key string, r kvs.Record) error {
	if t.f.failSave.Load() {
		return errInjected
	}
	return t.Txn.Save(ctx, key, r)
}

func (t *faultyTxn) Commit(ctx context.Context) error {
	t.f.commits.Add(1)
	if t.f.failCommit.Load() {
		return errInjected
	}
	return t.Txn.Commit(ctx)
}

func (t *faultyTxn) Rollback() error {
	t.f.rollbacks.Add(1)
	return t.Txn.Rollback()
}

// warnLogger keeps Warn messages.
type warnLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func newWhiteStore(t *testing.T, b kvs.Backend) *Store {
	t.Helper()
	s, err := New(Config{Backend: b})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// put writes directly to the backend, bypassing the store.
func put(t *testing.T, b kvs.Backend, namespace string, write func(h *kvs.Handle) error) {
	t.Helper()
	ctx := context.Background()
	h, err := kvs.Open(ctx, b, DefaultPartition, namespace, kvs.ReadWrite)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, write(h))
	require.NoError(t, h.Commit(ctx))
}

func openRO(t *testing.T, b kvs.Backend, namespace string) *kvs.Handle {
	t.Helper()
	h, err := kvs.Open(context.Background(), b, DefaultPartition, namespace, kvs.ReadOnly)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

var onOffKey = NewKey(1, 6, 0)

// sealStructBlob encodes v the way earlier releases stored whole values.
func sealStructBlob(c codec.Codec, v Value) ([]byte, error) {
	return codec.Seal(c, structBlob{Type: uint8(v.Type), Raw: v.raw})
}

// ── legacy key migration ─────────────────────────────────────────────────────

func TestMigrate_LegacyKeyMovesToCurrent(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, "endpoint_1", func(h *kvs.Handle) error { return h.SetU8(ctx, "6:0", 1) })
	s := newWhiteStore(t, b)

	got := Value{Type: TypeBoolean}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.True(t, got.Bool())

	_, err := openRO(t, b, "endpoint_1").GetU8(ctx, "6:0")
	assert.ErrorIs(t, err, kvs.ErrNotFound)
	u, err := openRO(t, b, DefaultNamespace).GetU8(ctx, "AQAGAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), u)
	assert.Equal(t, int64(1), s.Stats().Migrations)

	// Second read takes the current path and migrates nothing.
	again := Value{Type: TypeBoolean}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &again))
	assert.True(t, again.Bool())
	assert.Equal(t, int64(1), s.Stats().Migrations)
}

func TestMigrate_LegacyVariableLength(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, "endpoint_A", func(h *kvs.Handle) error { return h.SetBlob(ctx, "28:5", []byte("kitchen")) })
	s := newWhiteStore(t, b)

	k := NewKey(0xA, 0x28, 5)
	got := Value{Type: TypeCharString}
	require.NoError(t, s.GetOrMigrate(ctx, k, &got))
	assert.Equal(t, "kitchen", got.Text())

	n, err := openRO(t, b, DefaultNamespace).BlobSize(ctx, k.Encoded())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestMigrate_CurrentWinsOverLegacy(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, "endpoint_1", func(h *kvs.Handle) error { return h.SetU8(ctx, "6:0", 0) })
	s := newWhiteStore(t, b)
	require.NoError(t, s.Set(ctx, onOffKey, Bool(true)))

	got := Value{Type: TypeBoolean}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.True(t, got.Bool())

	// The stale legacy record is left alone.
	u, err := openRO(t, b, "endpoint_1").GetU8(ctx, "6:0")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), u)
}

func TestMigrate_LegacyKeyTooLongIsNotFound(t *testing.T) {
	s := newWhiteStore(t, memkv.New())
	k := NewKey(1, 0xFFFFFFFF, 0xFFFFFFFF)
	_, legacyKey := k.legacy()
	require.Greater(t, len(legacyKey), kvs.MaxKeyLen)

	got := Value{Type: TypeUInt32}
	assert.ErrorIs(t, s.GetOrMigrate(context.Background(), k, &got), ErrNotFound)
}

func TestMigrate_HousekeepingFailuresAreNotReturned(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	put(t, b, "endpoint_1", func(h *kvs.Handle) error { return h.SetU8(ctx, "6:0", 1) })
	s := newWhiteStore(t, b)

	b.failWriteOpen.Store(true)
	got := Value{Type: TypeBoolean}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.True(t, got.Bool())
	assert.Equal(t, int64(2), s.Stats().HousekeepingFailures)

	// Nothing moved, so the next read migrates again.
	b.failWriteOpen.Store(false)
	_, err := openRO(t, b, "endpoint_1").GetU8(ctx, "6:0")
	require.NoError(t, err)
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.Equal(t, int64(2), s.Stats().Migrations)
}

func TestMigrate_ValueUntouchedOnFailure(t *testing.T) {
	s := newWhiteStore(t, memkv.New())
	v := Value{Type: TypeCharString, Buffer: Buffer{Capacity: 4, Total: 5}}
	assert.ErrorIs(t, s.GetOrMigrate(context.Background(), onOffKey, &v), ErrNotFound)
	assert.Equal(t, Buffer{Capacity: 4, Total: 5}, v.Buffer)
}

// ── whole-value blob fallback ────────────────────────────────────────────────

func TestStructBlob_DecodedThenRewrittenNarrow(t *testing.T) {
	ctx := context.Background()
	for _, c := range []codec.Codec{codec.MsgPack{}, codec.JSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			b := memkv.New()
			blob, err := sealStructBlob(c, UInt16(0x1234))
			require.NoError(t, err)
			put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), blob) })
			s := newWhiteStore(t, b)

			got := Value{Type: TypeUInt16}
			require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
			assert.Equal(t, uint64(0x1234), got.Uint())
			assert.Equal(t, int64(1), s.Stats().Migrations)

			u, err := openRO(t, b, DefaultNamespace).GetU16(ctx, onOffKey.Encoded())
			require.NoError(t, err)
			assert.Equal(t, uint16(0x1234), u)

			// Now served by the narrow path.
			require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
			assert.Equal(t, int64(1), s.Stats().Migrations)
		})
	}
}

func TestStructBlob_Float(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	blob, err := sealStructBlob(codec.MsgPack{}, Float(21.5))
	require.NoError(t, err)
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), blob) })
	s := newWhiteStore(t, b)

	got := Value{Type: TypeFloat}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.Equal(t, float32(21.5), got.Float())

	n, err := openRO(t, b, DefaultNamespace).BlobSize(ctx, onOffKey.Encoded())
	require.NoError(t, err)
	assert.Equal(t, floatSize, n)
}

func TestStructBlob_OtherTypeIsNotFound(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	blob, err := sealStructBlob(codec.MsgPack{}, UInt32(9))
	require.NoError(t, err)
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), blob) })
	s := newWhiteStore(t, b)

	got := Value{Type: TypeUInt16}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &got), ErrNotFound)
}

func TestStructBlob_Corrupt(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	bad := []byte{'A', 'V', codec.EnvelopeV1, codec.JSON{}.ID(), '{'}
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), bad) })
	s := newWhiteStore(t, b)

	got := Value{Type: TypeUInt8}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &got), ErrLegacyBlob)
}

func TestStructBlob_WrongSizeFloat(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), []byte{1, 2, 3}) })
	s := newWhiteStore(t, b)

	got := Value{Type: TypeFloat}
	err := s.GetOrMigrate(ctx, onOffKey, &got)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, kvs.ErrCorrupt)
}

func TestStructBlob_RewriteFailureIsNotReturned(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	blob, err := sealStructBlob(codec.MsgPack{}, Int8(-3))
	require.NoError(t, err)
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error { return h.SetBlob(ctx, onOffKey.Encoded(), blob) })
	s := newWhiteStore(t, b)

	b.failSave.Store(true)
	got := Value{Type: TypeInt8}
	require.NoError(t, s.GetOrMigrate(ctx, onOffKey, &got))
	assert.Equal(t, int64(-3), got.Int())
	assert.Equal(t, int64(1), s.Stats().HousekeepingFailures)
}

// ── backend errors ───────────────────────────────────────────────────────────

func TestBackendError_WrapsCause(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	s := newWhiteStore(t, b)

	b.failCommit.Store(true)
	err := s.Set(ctx, onOffKey, UInt8(1))
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, err.Error(), "commit")

	b.failCommit.Store(false)
	b.failSave.Store(true)
	err = s.Set(ctx, onOffKey, UInt8(1))
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "set")

	b.failWriteOpen.Store(true)
	assert.ErrorIs(t, s.Erase(ctx, onOffKey), ErrBackend)
	assert.Equal(t, int64(3), s.Stats().Errors)
}

func TestStore_CommitAttemptedWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	s := newWhiteStore(t, b)

	b.failSave.Store(true)
	err := s.Set(ctx, onOffKey, UInt8(1))
	assert.ErrorIs(t, err, errInjected)
	assert.Contains(t, err.Error(), "set", "the write error wins over the commit result")
	assert.Equal(t, int64(1), b.commits.Load())
	b.assertReleased(t, "failed save")

	b.failSave.Store(false)
	b.failCommit.Store(true)
	assert.ErrorIs(t, s.Set(ctx, onOffKey, CharString("x")), errInjected)
	assert.ErrorIs(t, s.Erase(ctx, onOffKey), errInjected)
	assert.Equal(t, int64(3), b.commits.Load())
	b.assertReleased(t, "failed commit")
}

func TestStore_HandlesReleasedOnEveryPath(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error {
		return h.SetBlob(ctx, onOffKey.Encoded(), []byte("too long"))
	})
	put(t, b, "endpoint_1", func(h *kvs.Handle) error { return h.SetU8(ctx, "6:9", 1) })
	s, err := New(Config{Backend: b, MaxValueSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	str := Value{Type: TypeCharString}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &str), ErrOutOfMemory)
	b.assertReleased(t, "out of memory")

	u16 := Value{Type: TypeUInt16}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &u16), ErrOutOfMemory)
	b.assertReleased(t, "oversized blob in place of a primitive")

	u8 := Value{Type: TypeUInt8}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, NewKey(1, 6, 1), &u8), ErrNotFound)
	b.assertReleased(t, "absent in both namespaces")

	assert.ErrorIs(t, s.GetOrMigrate(ctx, NewKey(2, 6, 1), &u8), ErrNotFound)
	b.assertReleased(t, "legacy namespace never written")

	b.failLoadIn = DefaultNamespace
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &u8), ErrBackend)
	b.failLoadIn = ""
	b.assertReleased(t, "backend read failure")

	require.NoError(t, s.GetOrMigrate(ctx, NewKey(1, 6, 9), &u8))
	b.assertReleased(t, "legacy migration")

	_, err = s.Keys(ctx)
	require.NoError(t, err)
	b.assertReleased(t, "keys")
}

// ── node values ──────────────────────────────────────────────────────────────

func TestMinUnusedEndpointID_MigratesFromNodeNamespace(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, DefaultLegacyNodeNamespace, func(h *kvs.Handle) error { return h.SetU16(ctx, minUnusedEndpointKey, 12) })
	s := newWhiteStore(t, b)

	id, err := s.LoadMinUnusedEndpointID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(12), id)

	_, err = openRO(t, b, DefaultLegacyNodeNamespace).GetU16(ctx, minUnusedEndpointKey)
	assert.ErrorIs(t, err, kvs.ErrNotFound)
	u, err := openRO(t, b, DefaultNamespace).GetU16(ctx, minUnusedEndpointKey)
	require.NoError(t, err)
	assert.Equal(t, uint16(12), u)
}

func TestLegacyLookupFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	b := &faultyBackend{Backend: memkv.New()}
	put(t, b, DefaultLegacyNodeNamespace, func(h *kvs.Handle) error { return h.SetU16(ctx, minUnusedEndpointKey, 12) })
	put(t, b, "endpoint_1", func(h *kvs.Handle) error { return h.SetU8(ctx, "6:0", 1) })
	log := &warnLogger{}
	s, err := New(Config{Backend: b, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b.failLoadIn = DefaultLegacyNodeNamespace
	_, err = s.LoadMinUnusedEndpointID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, log.warns, 1)
	assert.Contains(t, log.warns[0], "legacy")

	b.failLoadIn = "endpoint_1"
	got := Value{Type: TypeBoolean}
	assert.ErrorIs(t, s.GetOrMigrate(ctx, onOffKey, &got), ErrNotFound)
	assert.Len(t, log.warns, 2)

	// The legacy records are intact once the fault clears.
	b.failLoadIn = ""
	id, err := s.LoadMinUnusedEndpointID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(12), id)
	assert.Len(t, log.warns, 2)
}

func TestKeys_SkipsNonCanonicalNames(t *testing.T) {
	ctx := context.Background()
	b := memkv.New()
	put(t, b, DefaultNamespace, func(h *kvs.Handle) error {
		if err := h.SetU8(ctx, "AQAGAAAAAAAAAB", 1); err != nil {
			return err
		}
		return h.SetU8(ctx, minUnusedEndpointKey, 2)
	})
	s := newWhiteStore(t, b)
	require.NoError(t, s.Set(ctx, NewKey(2, 6, 0), Bool(true)))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{NewKey(2, 6, 0)}, keys)
}

// ── classification ───────────────────────────────────────────────────────────

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("get", nil))
	assert.Equal(t, ErrNotFound, classify("get", kvs.ErrNotFound))
	assert.ErrorIs(t, classify("get", ErrOutOfMemory), ErrOutOfMemory)

	err := classify("open ns", kvs.ErrKeyTooLong)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, kvs.ErrKeyTooLong)
	assert.Equal(t, "attrstore: backend open ns: "+kvs.ErrKeyTooLong.Error(), err.Error())
}
