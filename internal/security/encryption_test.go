package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)
	return key
}

func TestSealDetachedRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("case file contents")
	aad := []byte("label")

	box, err := SealDetached(key, plaintext, aad)
	require.NoError(t, err)
	assert.Len(t, box.Nonce, NonceSize)
	assert.Len(t, box.Tag, TagSize)
	assert.Len(t, box.Ciphertext, len(plaintext))

	got, err := OpenDetached(key, box, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenDetachedRejectsTampering(t *testing.T) {
	key := testKey(t)
	box, err := SealDetached(key, []byte("secret"), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(b *SealedBox) (*SealedBox, []byte)
	}{
		{"ciphertext bit", func(b *SealedBox) (*SealedBox, []byte) {
			c := *b
			c.Ciphertext = append([]byte(nil), b.Ciphertext...)
			c.Ciphertext[0] ^= 0x01
			return &c, key
		}},
		{"tag bit", func(b *SealedBox) (*SealedBox, []byte) {
			c := *b
			c.Tag = append([]byte(nil), b.Tag...)
			c.Tag[TagSize-1] ^= 0x80
			return &c, key
		}},
		{"short nonce", func(b *SealedBox) (*SealedBox, []byte) {
			c := *b
			c.Nonce = b.Nonce[:4]
			return &c, key
		}},
		{"wrong key", func(b *SealedBox) (*SealedBox, []byte) {
			return b, testKey(t)
		}},
		{"nil box", func(*SealedBox) (*SealedBox, []byte) {
			return nil, key
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, k := tt.mutate(box)
			_, err := OpenDetached(k, b, nil)
			assert.ErrorIs(t, err, ErrDecrypt)
		})
	}
}

func TestSealOpenCombined(t *testing.T) {
	key := testKey(t)

	sealed, err := Seal(key, []byte("payload"), []byte("a"))
	require.NoError(t, err)

	got, err := Open(key, sealed, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = Open(key, sealed, []byte("b"))
	assert.ErrorIs(t, err, ErrDecrypt, "aad is bound")

	_, err = Open(key, sealed[:NonceSize], []byte("a"))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Seal(key[:16], []byte("x"), nil)
	assert.Error(t, err)
}

func TestSealUsesFreshNonces(t *testing.T) {
	key := testKey(t)
	a, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare([]byte("abc"), []byte("abc")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("abd")))
	assert.False(t, SecureCompare([]byte("abc"), []byte("ab")))
}
