package authn

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brwyatt/dffmpeg-coordinator/internal/identity"
	"github.com/brwyatt/dffmpeg-coordinator/internal/store"
)

// Header names for the signed-request contract (spec.md §6).
const (
	HeaderClientID  = "X-Dffmpeg-Client-Id"
	HeaderTimestamp = "X-Dffmpeg-Timestamp"
	HeaderSignature = "X-Dffmpeg-Signature"
)

// AuthenticatedIdentity is what a verified request carries forward
// (spec.md §4.1). HMACKey is deliberately omitted — callers never need
// the secret again once verification succeeds.
type AuthenticatedIdentity struct {
	ClientID string
	Role     string
}

// Errors returned by Authenticate; the HTTP layer maps these to status
// codes per spec.md §7.
var (
	ErrMissingHeaders  = errors.New("authn: missing auth headers")
	ErrPartialHeaders  = errors.New("authn: incomplete auth headers")
	ErrUnknownIdentity = errors.New("authn: unknown identity")
	ErrIPNotAllowed    = errors.New("authn: client IP not allowed")
	ErrInvalidIP       = errors.New("authn: invalid client IP")
	ErrBadSignature    = errors.New("authn: invalid signature")
)

// Authenticator implements spec.md §4.1's verification sequence.
type Authenticator struct {
	identities    *identity.Service
	trustedProxies []*net.IPNet
	log           *zap.Logger
}

// New builds an Authenticator. trustedProxyCIDRs names the networks
// whose immediate socket peer is trusted to supply X-Forwarded-For.
func New(identities *identity.Service, trustedProxyCIDRs []string, log *zap.Logger) (*Authenticator, error) {
	nets := make([]*net.IPNet, 0, len(trustedProxyCIDRs))
	for _, c := range trustedProxyCIDRs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipnet)
	}
	return &Authenticator{identities: identities, trustedProxies: nets, log: log}, nil
}

// Authenticate runs the full spec.md §4.1 sequence against an inbound
// HTTP request and returns the body bytes it consumed (handlers must use
// this body, not r.Body, since it has already been read).
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*AuthenticatedIdentity, []byte, error) {
	clientID := r.Header.Get(HeaderClientID)
	timestamp := r.Header.Get(HeaderTimestamp)
	signature := r.Header.Get(HeaderSignature)

	present := 0
	for _, v := range []string{clientID, timestamp, signature} {
		if v != "" {
			present++
		}
	}
	if present == 0 {
		return nil, nil, ErrMissingHeaders
	}
	if present < 3 {
		return nil, nil, ErrPartialHeaders
	}

	id, err := a.identities.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnknownIdentity
		}
		return nil, nil, err
	}

	peerIP, err := a.effectivePeerIP(r)
	if err != nil {
		return nil, nil, ErrInvalidIP
	}
	if !cidrsContain(id.AllowedCIDRs, peerIP) {
		return nil, nil, ErrIPNotAllowed
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}

	signer := NewSigner(id.HMACKey)
	if !signer.Verify(r.Method, r.URL.Path, timestamp, signature, body, time.Now()) {
		return nil, body, ErrBadSignature
	}

	return &AuthenticatedIdentity{ClientID: id.ClientID, Role: id.Role}, body, nil
}

// effectivePeerIP implements spec.md §4.1 step 3: honor the left-most
// X-Forwarded-For entry only when the immediate socket peer is a
// configured trusted proxy.
func (a *Authenticator) effectivePeerIP(r *http.Request) (net.IP, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	socketPeer := net.ParseIP(host)
	if socketPeer == nil {
		return nil, ErrInvalidIP
	}

	if !a.isTrustedProxy(socketPeer) {
		return socketPeer, nil
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return socketPeer, nil
	}
	first := strings.TrimSpace(strings.Split(xff, ",")[0])
	ip := net.ParseIP(first)
	if ip == nil {
		return nil, ErrInvalidIP
	}
	return ip, nil
}

func (a *Authenticator) isTrustedProxy(ip net.IP) bool {
	for _, n := range a.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func cidrsContain(cidrs []string, ip net.IP) bool {
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
