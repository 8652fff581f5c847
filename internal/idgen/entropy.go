package idgen

import "crypto/rand"

// newCryptoReader wraps crypto/rand for ulid.Monotonic, which wants an
// io.Reader of cryptographically strong random bytes to seed each
// millisecond's monotonic counter.
func newCryptoReader() *cryptoReader {
	return &cryptoReader{}
}

type cryptoReader struct{}

func (cryptoReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}
