package verify

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Resolver fetches DID documents from an external resolution service and
// extracts signing key material. Calls are throttled so a burst of
// submissions cannot flood the resolver.
type Resolver struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewResolver builds a resolver client for a universal-resolver style
// endpoint (GET {base}/1.0/identifiers/{did}).
func NewResolver(baseURL string) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

type didDocument struct {
	DIDDocument struct {
		VerificationMethod []struct {
			ID           string          `json:"id"`
			Type         string          `json:"type"`
			PublicKeyJwk json.RawMessage `json:"publicKeyJwk"`
		} `json:"verificationMethod"`
	} `json:"didDocument"`
}

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// PublicKey resolves did and returns the first supported verification key:
// Ed25519 (OKP) or P-256 (EC).
func (r *Resolver) PublicKey(ctx context.Context, did string) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("resolver throttle: %w", err)
	}

	endpoint := r.baseURL + "/1.0/identifiers/" + url.PathEscape(did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("resolver request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", did, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve %s: status %d", did, resp.StatusCode)
	}

	var doc didDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("resolve %s: decode document: %w", did, err)
	}

	for _, vm := range doc.DIDDocument.VerificationMethod {
		if len(vm.PublicKeyJwk) == 0 {
			continue
		}
		var key jwk
		if err := json.Unmarshal(vm.PublicKeyJwk, &key); err != nil {
			continue
		}
		pub, err := key.publicKey()
		if err == nil {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("resolve %s: no supported verification key", did)
}

func (k jwk) publicKey() (any, error) {
	switch {
	case k.Kty == "OKP" && k.Crv == "Ed25519":
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("bad Ed25519 jwk: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("bad Ed25519 key length %d", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	case k.Kty == "EC" && k.Crv == "P-256":
		xb, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("bad EC jwk x: %w", err)
		}
		yb, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("bad EC jwk y: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xb),
			Y:     new(big.Int).SetBytes(yb),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported jwk kty=%s crv=%s", k.Kty, k.Crv)
	}
}
