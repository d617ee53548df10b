package attrstore_test

import (
	"math"
	"testing"

	"github.com/AndrewDonelson/attrstore"
	"github.com/stretchr/testify/assert"
)

func TestType_Properties(t *testing.T) {
	assert.True(t, attrstore.TypeNullableUInt16.Nullable())
	assert.Equal(t, attrstore.TypeUInt16, attrstore.TypeNullableUInt16.Base())
	assert.True(t, attrstore.TypeLongOctetString.Variable())
	assert.False(t, attrstore.TypeBitmap32.Variable())

	assert.True(t, attrstore.TypeNullableFloat.Valid())
	assert.False(t, attrstore.TypeInvalid.Valid())
	assert.False(t, attrstore.Type(1).Valid())
	assert.False(t, (attrstore.TypeNullableBase | attrstore.TypeArray).Valid())

	assert.Equal(t, "nullable_enum8", attrstore.TypeNullableEnum8.String())
	assert.Equal(t, "long_char_string", attrstore.TypeLongCharString.String())
	assert.Equal(t, "type(99)", attrstore.Type(99).String())
}

func TestValue_BufferBookkeeping(t *testing.T) {
	s := attrstore.CharString("abc")
	assert.Equal(t, attrstore.Buffer{Data: []byte("abc"), Count: 3, Capacity: 3, Total: 4}, s.Buffer)

	l := attrstore.LongCharString("abc")
	assert.Equal(t, 5, l.Buffer.Total)

	a := attrstore.Array([]byte{1, 2, 3, 4, 5, 6}, 3)
	assert.Equal(t, 3, a.Buffer.Count)
	assert.Equal(t, 6, a.Buffer.Size())
	assert.Equal(t, 8, a.Buffer.Total)

	assert.NotNil(t, attrstore.CharString("").Bytes())
}

func TestValue_NullSentinels(t *testing.T) {
	cases := []struct {
		v    attrstore.Value
		null bool
	}{
		{attrstore.Null(attrstore.TypeUInt8), true},
		{attrstore.Null(attrstore.TypeInt16), true},
		{attrstore.Null(attrstore.TypeNullableInt64), true},
		{attrstore.Null(attrstore.TypeFloat), true},
		{attrstore.Null(attrstore.TypeBoolean), true},
		{attrstore.UInt8(math.MaxUint8), false},
		{attrstore.Int16(math.MinInt16), false},
		{attrstore.Value{Type: attrstore.TypeCharString}, true},
		{attrstore.CharString(""), false},
	}
	for _, c := range cases {
		assert.Equal(t, c.null, c.v.IsNull(), c.v.Type.String())
	}

	n := attrstore.Null(attrstore.TypeUInt32)
	assert.Equal(t, attrstore.TypeNullableUInt32, n.Type)
	assert.Equal(t, uint64(math.MaxUint32), n.Uint())
	assert.Equal(t, int64(math.MinInt8), attrstore.Null(attrstore.TypeInt8).Int())
	assert.False(t, attrstore.Null(attrstore.TypeBoolean).Bool())
}

func TestValue_NullableConstructors(t *testing.T) {
	x := int16(-4)
	v := attrstore.NullableInt16(&x)
	assert.Equal(t, attrstore.TypeNullableInt16, v.Type)
	assert.False(t, v.IsNull())
	assert.Equal(t, int64(-4), v.Int())

	f := float32(1.25)
	assert.Equal(t, float32(1.25), attrstore.NullableFloat(&f).Float())
	assert.True(t, attrstore.NullableFloat(nil).IsNull())

	yes := true
	assert.True(t, attrstore.NullableBool(&yes).Bool())
	assert.Equal(t, attrstore.TypeNullableBoolean, attrstore.NullableBool(nil).Type)
}

func TestValue_String(t *testing.T) {
	cases := map[string]attrstore.Value{
		"1":                          attrstore.Bool(true),
		"-7":                         attrstore.Int(-7),
		"3.5":                        attrstore.Float(3.5),
		"65535":                      attrstore.UInt16(65535),
		"3405691582":                 attrstore.Bitmap32(0xCAFEBABE),
		"kitchen":                    attrstore.CharString("kitchen"),
		"00ff10":                     attrstore.OctetString([]byte{0x00, 0xFF, 0x10}),
		"array(2 elements, 4 bytes)": attrstore.Array([]byte{1, 2, 3, 4}, 2),
		"null":                       attrstore.Null(attrstore.TypeEnum16),
		"invalid":                    {Type: attrstore.Type(99)},
	}
	for want, v := range cases {
		assert.Equal(t, want, v.String())
	}
}

func TestKey_String(t *testing.T) {
	k := attrstore.NewKey(1, 6, 0)
	assert.Equal(t, "0x0001/0x00000006/0x00000000", k.String())
	assert.Equal(t, attrstore.Key{Endpoint: 1, Cluster: 6, Attribute: 0}, k)
	assert.Len(t, k.Encoded(), 14)
}
