package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestChaCha20Poly1305WrapUnwrapRoundTrip(t *testing.T) {
	p, err := NewChaCha20Poly1305Provider(testKey(0x01))
	require.NoError(t, err)

	plaintext := []byte("hmac-secret-material")
	wrapped, err := p.Wrap(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, wrapped)

	got, err := p.Unwrap(wrapped)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestChaCha20Poly1305RejectsWrongKey(t *testing.T) {
	p, err := NewChaCha20Poly1305Provider(testKey(0x01))
	require.NoError(t, err)
	wrapped, err := p.Wrap([]byte("secret"))
	require.NoError(t, err)

	other, err := NewChaCha20Poly1305Provider(testKey(0x02))
	require.NoError(t, err)

	_, err = other.Unwrap(wrapped)
	assert.Error(t, err)
}

func TestChaCha20Poly1305RejectsBadKeySize(t *testing.T) {
	_, err := NewChaCha20Poly1305Provider([]byte("too-short"))
	assert.Error(t, err)
}

func TestAESGCMWrapUnwrapRoundTrip(t *testing.T) {
	p, err := NewAESGCMProvider(testKey(0x03))
	require.NoError(t, err)

	plaintext := []byte("legacy-hmac-secret")
	wrapped, err := p.Wrap(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, wrapped)

	got, err := p.Unwrap(wrapped)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestAESGCMRejectsBadKeySize(t *testing.T) {
	_, err := NewAESGCMProvider([]byte("too-short"))
	assert.Error(t, err)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	p, err := NewChaCha20Poly1305Provider(testKey(0x04))
	require.NoError(t, err)
	Register(p)

	got, ok := Get(p.Name())
	require.True(t, ok)
	assert.Equal(t, p.Name(), got.Name())

	_, ok = Get("does-not-exist")
	assert.False(t, ok)
}
