// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// value.go - the tagged attribute value, its variable-length buffer, the
// constructors for every kind, null sentinels, and the log formatter.

package attrstore

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/AndrewDonelson/attrstore/internal/kvs"
)

// ────────────────────────────────────────────────────────────────────────────
// Type
// ────────────────────────────────────────────────────────────────────────────

// Type tags a Value. The nullable variant of a kind is kind | TypeNullableBase
// and shares its storage representation.
type Type uint8

// TypeNullableBase is the flag bit marking nullable types.
const TypeNullableBase Type = 0x80

// Base kinds.
const (
	TypeInvalid         Type = 0
	TypeBoolean         Type = 2
	TypeInteger         Type = 3
	TypeFloat           Type = 4
	TypeArray           Type = 5
	TypeCharString      Type = 6
	TypeOctetString     Type = 7
	TypeInt8            Type = 8
	TypeUInt8           Type = 9
	TypeInt16           Type = 10
	TypeUInt16          Type = 11
	TypeInt32           Type = 12
	TypeUInt32          Type = 13
	TypeInt64           Type = 14
	TypeUInt64          Type = 15
	TypeEnum8           Type = 16
	TypeBitmap8         Type = 17
	TypeBitmap16        Type = 18
	TypeBitmap32        Type = 19
	TypeEnum16          Type = 20
	TypeLongCharString  Type = 21
	TypeLongOctetString Type = 22
)

// Nullable kinds.
const (
	TypeNullableBoolean  = TypeNullableBase | TypeBoolean
	TypeNullableInteger  = TypeNullableBase | TypeInteger
	TypeNullableFloat    = TypeNullableBase | TypeFloat
	TypeNullableInt8     = TypeNullableBase | TypeInt8
	TypeNullableUInt8    = TypeNullableBase | TypeUInt8
	TypeNullableInt16    = TypeNullableBase | TypeInt16
	TypeNullableUInt16   = TypeNullableBase | TypeUInt16
	TypeNullableInt32    = TypeNullableBase | TypeInt32
	TypeNullableUInt32   = TypeNullableBase | TypeUInt32
	TypeNullableInt64    = TypeNullableBase | TypeInt64
	TypeNullableUInt64   = TypeNullableBase | TypeUInt64
	TypeNullableEnum8    = TypeNullableBase | TypeEnum8
	TypeNullableBitmap8  = TypeNullableBase | TypeBitmap8
	TypeNullableBitmap16 = TypeNullableBase | TypeBitmap16
	TypeNullableBitmap32 = TypeNullableBase | TypeBitmap32
	TypeNullableEnum16   = TypeNullableBase | TypeEnum16
)

var typeNames = map[Type]string{
	TypeBoolean:         "boolean",
	TypeInteger:         "integer",
	TypeFloat:           "float",
	TypeArray:           "array",
	TypeCharString:      "char_string",
	TypeOctetString:     "octet_string",
	TypeInt8:            "int8",
	TypeUInt8:           "uint8",
	TypeInt16:           "int16",
	TypeUInt16:          "uint16",
	TypeInt32:           "int32",
	TypeUInt32:          "uint32",
	TypeInt64:           "int64",
	TypeUInt64:          "uint64",
	TypeEnum8:           "enum8",
	TypeBitmap8:         "bitmap8",
	TypeBitmap16:        "bitmap16",
	TypeBitmap32:        "bitmap32",
	TypeEnum16:          "enum16",
	TypeLongCharString:  "long_char_string",
	TypeLongOctetString: "long_octet_string",
}

// Base strips the nullable flag.
func (t Type) Base() Type { return t &^ TypeNullableBase }

// Nullable reports whether the nullable flag is set.
func (t Type) Nullable() bool { return t&TypeNullableBase != 0 }

// Variable reports whether values of t live in a Buffer.
func (t Type) Variable() bool {
	switch t {
	case TypeArray, TypeCharString, TypeOctetString, TypeLongCharString, TypeLongOctetString:
		return true
	}
	return false
}

// Valid reports whether t is a known, storable type. Variable-length kinds
// have no nullable variant.
func (t Type) Valid() bool {
	if _, ok := typeNames[t.Base()]; !ok {
		return false
	}
	return !(t.Nullable() && t.Base().Variable())
}

func (t Type) String() string {
	name, ok := typeNames[t.Base()]
	if !ok {
		return fmt.Sprintf("type(%d)", uint8(t))
	}
	if t.Nullable() {
		return "nullable_" + name
	}
	return name
}

// kind is the backend primitive holding a fixed-width value. Float maps to
// a 4-byte blob.
func (t Type) kind() kvs.Kind {
	switch t.Base() {
	case TypeBoolean, TypeUInt8, TypeEnum8, TypeBitmap8:
		return kvs.KindU8
	case TypeInt8:
		return kvs.KindI8
	case TypeInt16:
		return kvs.KindI16
	case TypeUInt16, TypeEnum16, TypeBitmap16:
		return kvs.KindU16
	case TypeInteger, TypeInt32:
		return kvs.KindI32
	case TypeUInt32, TypeBitmap32:
		return kvs.KindU32
	case TypeInt64:
		return kvs.KindI64
	case TypeUInt64:
		return kvs.KindU64
	}
	return kvs.KindBlob
}

// prefixLen is the number of bytes the protocol spends on the length of a
// variable-length value.
func (t Type) prefixLen() int {
	switch t.Base() {
	case TypeCharString, TypeOctetString:
		return 1
	case TypeLongCharString, TypeLongOctetString, TypeArray:
		return 2
	}
	return 0
}

// ────────────────────────────────────────────────────────────────────────────
// Buffer
// ────────────────────────────────────────────────────────────────────────────

// Buffer is the payload of a variable-length value. Total tracks Capacity plus
// the length prefix; the difference Total - Capacity never changes across a
// resize.
type Buffer struct {
	// Data is the logical content. nil means no value.
	Data []byte
	// Count is the element count for arrays and the byte length for strings.
	Count int
	// Capacity is the allocated size. Reads never shrink it.
	Capacity int
	// Total is Capacity plus the serialized length prefix.
	Total int
}

// Size is the logical length in bytes.
func (b Buffer) Size() int { return len(b.Data) }

// delta returns Total - Capacity, falling back to the type's prefix length
// for zero-valued buffers.
func (b Buffer) delta(t Type) int {
	if b.Total > 0 && b.Total >= b.Capacity {
		return b.Total - b.Capacity
	}
	return t.prefixLen()
}

func newBuffer(data []byte, count, prefix int) Buffer {
	return Buffer{Data: data, Count: count, Capacity: len(data), Total: len(data) + prefix}
}

// ────────────────────────────────────────────────────────────────────────────
// Value
// ────────────────────────────────────────────────────────────────────────────

// Value is one attribute value. Fixed-width kinds keep their bits in raw
// (sign-extended for signed kinds, IEEE-754 bits for Float); variable-length
// kinds use Buffer.
//
// To read, set Type (and optionally Buffer.Capacity) and pass a pointer to
// Store.GetOrMigrate.
type Value struct {
	Type   Type
	Buffer Buffer
	raw    uint64
}

// Bool returns the value of a boolean. A null boolean reads as false.
func (v Value) Bool() bool { return v.raw != 0 && !v.IsNull() }

// Int returns a signed value sign-extended to 64 bits.
func (v Value) Int() int64 { return int64(v.raw) }

// Uint returns an unsigned, enum or bitmap value.
func (v Value) Uint() uint64 { return v.raw }

// Float returns a float value.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.raw)) }

// Bytes returns the variable-length payload.
func (v Value) Bytes() []byte { return v.Buffer.Data }

// Text returns the variable-length payload as a string.
func (v Value) Text() string { return string(v.Buffer.Data) }

// IsNull reports whether v holds the null sentinel of its nullable type. A
// variable-length value is null when it has no data.
func (v Value) IsNull() bool {
	if v.Type.Base().Variable() {
		return v.Buffer.Data == nil
	}
	if !v.Type.Nullable() {
		return false
	}
	return v.raw == nullRaw(v.Type) || (v.Type.Base() == TypeFloat && math.IsNaN(float64(v.Float())))
}

// nullRaw is the null sentinel: max for unsigned kinds, min for signed kinds,
// NaN for float, 0xFF for boolean.
func nullRaw(t Type) uint64 {
	switch t.Base() {
	case TypeBoolean, TypeUInt8, TypeEnum8, TypeBitmap8:
		return math.MaxUint8
	case TypeUInt16, TypeEnum16, TypeBitmap16:
		return math.MaxUint16
	case TypeUInt32, TypeBitmap32:
		return math.MaxUint32
	case TypeUInt64:
		return math.MaxUint64
	case TypeInt8:
		return signExtend(math.MinInt8)
	case TypeInt16:
		return signExtend(math.MinInt16)
	case TypeInteger, TypeInt32:
		return signExtend(math.MinInt32)
	case TypeInt64:
		return signExtend(math.MinInt64)
	case TypeFloat:
		return uint64(math.Float32bits(float32(math.NaN())))
	}
	return 0
}

func signExtend(i int64) uint64 { return uint64(i) }

// String formats v the way attribute reads and writes are logged.
func (v Value) String() string {
	if v.IsNull() {
		return "null"
	}
	switch v.Type.Base() {
	case TypeBoolean:
		return strconv.FormatUint(v.raw&0xFF, 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.Float()), 'f', -1, 32)
	case TypeInteger, TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return strconv.FormatInt(v.Int(), 10)
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64,
		TypeEnum8, TypeEnum16, TypeBitmap8, TypeBitmap16, TypeBitmap32:
		return strconv.FormatUint(v.raw, 10)
	case TypeCharString, TypeLongCharString:
		return fmt.Sprintf("%.*s", len(v.Buffer.Data), v.Buffer.Data)
	case TypeOctetString, TypeLongOctetString:
		return hex.EncodeToString(v.Buffer.Data)
	case TypeArray:
		return fmt.Sprintf("array(%d elements, %d bytes)", v.Buffer.Count, len(v.Buffer.Data))
	}
	return "invalid"
}

// ────────────────────────────────────────────────────────────────────────────
// Constructors
// ────────────────────────────────────────────────────────────────────────────

func fixed(t Type, raw uint64) Value { return Value{Type: t, raw: raw} }

func Bool(b bool) Value {
	if b {
		return fixed(TypeBoolean, 1)
	}
	return fixed(TypeBoolean, 0)
}

// Int is the platform integer, stored as 32 bits.
func Int(i int32) Value       { return fixed(TypeInteger, signExtend(int64(i))) }
func Float(f float32) Value   { return fixed(TypeFloat, uint64(math.Float32bits(f))) }
func Int8(i int8) Value       { return fixed(TypeInt8, signExtend(int64(i))) }
func UInt8(u uint8) Value     { return fixed(TypeUInt8, uint64(u)) }
func Int16(i int16) Value     { return fixed(TypeInt16, signExtend(int64(i))) }
func UInt16(u uint16) Value   { return fixed(TypeUInt16, uint64(u)) }
func Int32(i int32) Value     { return fixed(TypeInt32, signExtend(int64(i))) }
func UInt32(u uint32) Value   { return fixed(TypeUInt32, uint64(u)) }
func Int64(i int64) Value     { return fixed(TypeInt64, signExtend(i)) }
func UInt64(u uint64) Value   { return fixed(TypeUInt64, u) }
func Enum8(u uint8) Value     { return fixed(TypeEnum8, uint64(u)) }
func Enum16(u uint16) Value   { return fixed(TypeEnum16, uint64(u)) }
func Bitmap8(u uint8) Value   { return fixed(TypeBitmap8, uint64(u)) }
func Bitmap16(u uint16) Value { return fixed(TypeBitmap16, uint64(u)) }
func Bitmap32(u uint32) Value { return fixed(TypeBitmap32, uint64(u)) }

// Null returns the null value of a nullable type.
func Null(t Type) Value { return fixed(t|TypeNullableBase, nullRaw(t)) }

// nullable converts a non-null constructor result, or the null sentinel
// when p is nil.
func nullable[T any](p *T, mk func(T) Value) Value {
	if p == nil {
		var zero T
		return Null(mk(zero).Type)
	}
	v := mk(*p)
	v.Type |= TypeNullableBase
	return v
}

func NullableBool(p *bool) Value       { return nullable(p, Bool) }
func NullableInt(p *int32) Value       { return nullable(p, Int) }
func NullableFloat(p *float32) Value   { return nullable(p, Float) }
func NullableInt8(p *int8) Value       { return nullable(p, Int8) }
func NullableUInt8(p *uint8) Value     { return nullable(p, UInt8) }
func NullableInt16(p *int16) Value     { return nullable(p, Int16) }
func NullableUInt16(p *uint16) Value   { return nullable(p, UInt16) }
func NullableInt32(p *int32) Value     { return nullable(p, Int32) }
func NullableUInt32(p *uint32) Value   { return nullable(p, UInt32) }
func NullableInt64(p *int64) Value     { return nullable(p, Int64) }
func NullableUInt64(p *uint64) Value   { return nullable(p, UInt64) }
func NullableEnum8(p *uint8) Value     { return nullable(p, Enum8) }
func NullableEnum16(p *uint16) Value   { return nullable(p, Enum16) }
func NullableBitmap8(p *uint8) Value   { return nullable(p, Bitmap8) }
func NullableBitmap16(p *uint16) Value { return nullable(p, Bitmap16) }
func NullableBitmap32(p *uint32) Value { return nullable(p, Bitmap32) }

// CharString holds a UTF-8 string with a 1-byte length prefix.
func CharString(s string) Value {
	return Value{Type: TypeCharString, Buffer: newBuffer(append([]byte{}, s...), len(s), 1)}
}

// LongCharString holds a UTF-8 string with a 2-byte length prefix.
func LongCharString(s string) Value {
	return Value{Type: TypeLongCharString, Buffer: newBuffer(append([]byte{}, s...), len(s), 2)}
}

// OctetString holds raw bytes with a 1-byte length prefix. b is not copied.
func OctetString(b []byte) Value {
	return Value{Type: TypeOctetString, Buffer: newBuffer(b, len(b), 1)}
}

// LongOctetString holds raw bytes with a 2-byte length prefix. b is not copied.
func LongOctetString(b []byte) Value {
	return Value{Type: TypeLongOctetString, Buffer: newBuffer(b, len(b), 2)}
}

// Array holds count encoded elements in b. b is not copied.
func Array(b []byte, count int) Value {
	return Value{Type: TypeArray, Buffer: newBuffer(b, count, 2)}
}
