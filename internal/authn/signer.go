// Package authn implements the request authenticator (spec.md §4.1):
// HMAC-SHA256 request signing with a clock-drift window, and
// trusted-proxy-aware CIDR scoping per identity.
package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// DriftSeconds is the maximum allowed clock skew between a request's
// timestamp header and the coordinator's clock (spec.md §4.1 step 1,
// §5 Timeouts).
const DriftSeconds = 300

// Signer computes and verifies the HMAC-SHA256 signature spec.md §4.1
// defines: base64(HMAC-SHA256(secret, METHOD|PATH|TIMESTAMP|hex(SHA256(body)))).
type Signer struct {
	secret []byte
}

// NewSigner builds a Signer from a raw (already-unwrapped) secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// CanonicalString builds the string that gets HMAC'd, exposed so tests
// and the CLI-facing docs can reproduce it exactly.
func CanonicalString(method, path, timestamp string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s|%s|%s|%s", method, path, timestamp, hex.EncodeToString(sum[:]))
}

// Sign returns the base64-encoded HMAC-SHA256 signature for the given
// request attributes.
func (s *Signer) Sign(method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(CanonicalString(method, path, timestamp, body)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the timestamp's clock drift and the signature in
// constant time (spec.md §8: "Signature verification is constant-time
// over the signature bytes").
func (s *Signer) Verify(method, path, timestamp, signature string, body []byte, now time.Time) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	drift := now.Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > DriftSeconds {
		return false
	}

	expected := s.Sign(method, path, timestamp, body)

	expectedBytes, err1 := base64.StdEncoding.DecodeString(expected)
	gotBytes, err2 := base64.StdEncoding.DecodeString(signature)
	if err1 != nil || err2 != nil {
		return false
	}
	// hmac.Equal runs in constant time regardless of where the first
	// differing byte is; it returns false at once on a length mismatch,
	// which reveals only the length, not the contents.
	return hmac.Equal(expectedBytes, gotBytes)
}
