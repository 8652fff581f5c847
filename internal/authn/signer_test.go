package authn

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner([]byte("super-secret-key"))
	now := time.Now().UTC()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte(`{"binary_name":"ffmpeg"}`)

	sig := s.Sign("POST", "/jobs", ts, body)

	assert.True(t, s.Verify("POST", "/jobs", ts, sig, body, now))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewSigner([]byte("secret-a"))
	other := NewSigner([]byte("secret-b"))
	now := time.Now().UTC()
	ts := strconv.FormatInt(now.Unix(), 10)
	body := []byte("payload")

	sig := signer.Sign("GET", "/health", ts, body)

	assert.False(t, other.Verify("GET", "/health", ts, sig, body, now))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	s := NewSigner([]byte("secret"))
	now := time.Now().UTC()
	ts := strconv.FormatInt(now.Unix(), 10)

	sig := s.Sign("POST", "/jobs", ts, []byte("original"))

	assert.False(t, s.Verify("POST", "/jobs", ts, sig, []byte("tampered"), now))
}

func TestVerifyRejectsClockDriftOutsideWindow(t *testing.T) {
	s := NewSigner([]byte("secret"))
	now := time.Now().UTC()
	staleTS := now.Add(-(DriftSeconds + 60) * time.Second)
	ts := strconv.FormatInt(staleTS.Unix(), 10)
	body := []byte("payload")

	sig := s.Sign("POST", "/jobs", ts, body)

	assert.False(t, s.Verify("POST", "/jobs", ts, sig, body, now))
}

func TestVerifyAcceptsDriftWithinWindow(t *testing.T) {
	s := NewSigner([]byte("secret"))
	now := time.Now().UTC()
	closeTS := now.Add(-(DriftSeconds - 30) * time.Second)
	ts := strconv.FormatInt(closeTS.Unix(), 10)
	body := []byte("payload")

	sig := s.Sign("POST", "/jobs", ts, body)

	assert.True(t, s.Verify("POST", "/jobs", ts, sig, body, now))
}

func TestVerifyRejectsMalformedTimestamp(t *testing.T) {
	s := NewSigner([]byte("secret"))
	now := time.Now().UTC()

	assert.False(t, s.Verify("POST", "/jobs", "not-a-number", "irrelevant", nil, now))
}

func TestVerifyRejectsMalformedSignatureEncoding(t *testing.T) {
	s := NewSigner([]byte("secret"))
	now := time.Now().UTC()
	ts := strconv.FormatInt(now.Unix(), 10)

	assert.False(t, s.Verify("POST", "/jobs", ts, "not-base64!!!", nil, now))
}

func TestCanonicalStringIsDeterministic(t *testing.T) {
	a := CanonicalString("POST", "/jobs", "1700000000", []byte("body"))
	b := CanonicalString("POST", "/jobs", "1700000000", []byte("body"))
	assert.Equal(t, a, b)

	c := CanonicalString("POST", "/jobs", "1700000000", []byte("different"))
	assert.NotEqual(t, a, c)
}
