package verify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "did:ethr:0xISSUER"

func newTestResolver(t *testing.T, pub ed25519.PublicKey) *Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"didDocument": map[string]any{
				"verificationMethod": []map[string]any{{
					"id":   testIssuer + "#keys-1",
					"type": "Ed25519VerificationKey2018",
					"publicKeyJwk": map[string]string{
						"kty": "OKP",
						"crv": "Ed25519",
						"x":   base64.RawURLEncoding.EncodeToString(pub),
					},
				}},
			},
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return NewResolver(srv.URL)
}

func signedToken(t *testing.T, priv ed25519.PrivateKey, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
		"claim": map[string]any{
			"@context": "https://schema.org",
			"@type":    "JoinAction",
			"agent":    map[string]string{"did": testIssuer},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestResolverVerifierAcceptsValidToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := NewResolverVerifier(newTestResolver(t, pub))
	result, err := v.Verify(context.Background(), signedToken(t, priv, time.Hour))
	require.NoError(t, err)

	assert.Equal(t, testIssuer, result.Issuer)
	assert.Contains(t, string(result.Claim), "JoinAction")
	assert.WithinDuration(t, time.Now(), result.IssuedAt, time.Minute)
}

func TestResolverVerifierRejectsWrongKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := NewResolverVerifier(newTestResolver(t, pub))
	_, err = v.Verify(context.Background(), signedToken(t, otherPriv, time.Hour))

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
}

func TestResolverVerifierRejectsExpiredToken(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := NewResolverVerifier(newTestResolver(t, pub))
	_, err = v.Verify(context.Background(), signedToken(t, priv, -time.Hour))

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
}

func TestResolverVerifierRejectsMalformedToken(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := NewResolverVerifier(newTestResolver(t, pub))
	_, err = v.Verify(context.Background(), "not.a.token")

	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
}

func TestInsecureVerifierAcceptsExpiredToken(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := NewInsecureVerifier()
	result, err := v.Verify(context.Background(), signedToken(t, priv, -time.Hour))
	require.NoError(t, err, "test mode bypasses expiration so fixtures stay usable")
	assert.Equal(t, testIssuer, result.Issuer)
}

func TestInsecureVerifierRejectsTokenWithoutClaim(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(priv)
	require.NoError(t, err)

	v := NewInsecureVerifier()
	_, err = v.Verify(context.Background(), signed)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
}

func TestResolverParsesEd25519Jwk(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	r := newTestResolver(t, pub)
	key, err := r.PublicKey(context.Background(), testIssuer)
	require.NoError(t, err)
	assert.Equal(t, pub, key)
}

func TestResolverRejectsUnresolvableDID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL)
	_, err := r.PublicKey(context.Background(), "did:ethr:0xNOBODY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("status %d", http.StatusNotFound))
}
