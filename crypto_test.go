package attrstore_test

import (
	"testing"

	"github.com/AndrewDonelson/attrstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	key := make([]byte, attrstore.EncryptionKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestAES256GCM_RoundTrip(t *testing.T) {
	enc, err := attrstore.NewAES256GCM(testKey())
	require.NoError(t, err)

	ad := []byte("AQAGAAAAAAAAAA")
	plain := []byte{0x01}
	sealed, err := enc.Seal(plain, ad)
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)
	assert.Len(t, sealed, 12+len(plain)+16)

	again, err := enc.Seal(plain, ad)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	opened, err := enc.Open(sealed, ad)
	require.NoError(t, err)
	assert.Equal(t, plain, opened)
}

func TestAES256GCM_InvalidKeyLength(t *testing.T) {
	_, err := attrstore.NewAES256GCM([]byte("short"))
	assert.ErrorIs(t, err, attrstore.ErrInvalidConfig)
}

func TestAES256GCM_TamperDetection(t *testing.T) {
	enc, err := attrstore.NewAES256GCM(testKey())
	require.NoError(t, err)
	sealed, err := enc.Seal([]byte("porch"), []byte("k1"))
	require.NoError(t, err)

	_, err = enc.Open(sealed, []byte("k2"))
	assert.Error(t, err, "payload moved to another key")

	sealed[len(sealed)-1] ^= 0xFF
	_, err = enc.Open(sealed, []byte("k1"))
	assert.Error(t, err)

	_, err = enc.Open([]byte{1, 2}, nil)
	assert.Error(t, err)
}
