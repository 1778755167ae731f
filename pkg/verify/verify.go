// Package verify decodes and cryptographically verifies signed claim
// envelopes. Issuer key material is resolved through an external
// decentralized-identity resolver; this package only consumes the
// resolution result.
//
// Two verifiers exist: ResolverVerifier for production, and
// InsecureVerifier for offline test fixtures. Which one runs is a startup
// constructor choice, never a branch reachable from request data.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerificationError wraps any token rejection: bad signature, expired,
// malformed, unresolvable issuer. Nothing is persisted when it occurs.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Result is the verified content of a claim token.
type Result struct {
	Issuer   string
	Subject  string
	IssuedAt time.Time
	Claim    json.RawMessage
	Raw      string
}

// Verifier checks a signed claim token and extracts its payload.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Result, error)
}

// tokenClaims is the JWT payload shape: registered claims plus the
// structured assertion under "claim".
type tokenClaims struct {
	Claim json.RawMessage `json:"claim"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) result(raw string) (*Result, error) {
	if len(c.Claim) == 0 {
		return nil, &VerificationError{Err: fmt.Errorf("token carries no claim")}
	}
	issuedAt := time.Now().UTC()
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time.UTC()
	}
	return &Result{
		Issuer:   c.Issuer,
		Subject:  c.Subject,
		IssuedAt: issuedAt,
		Claim:    c.Claim,
		Raw:      raw,
	}, nil
}

// ResolverVerifier validates signature and expiration against key material
// resolved from the token's issuer DID.
type ResolverVerifier struct {
	resolver *Resolver
	parser   *jwt.Parser
}

// NewResolverVerifier builds the production verifier.
func NewResolverVerifier(resolver *Resolver) *ResolverVerifier {
	return &ResolverVerifier{
		resolver: resolver,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"EdDSA", "ES256"}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// Verify decodes the token, resolves the issuer's public key, and checks
// signature validity and expiration.
func (v *ResolverVerifier) Verify(ctx context.Context, tokenString string) (*Result, error) {
	claims := &tokenClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		issuer, err := t.Claims.GetIssuer()
		if err != nil || issuer == "" {
			return nil, fmt.Errorf("token has no issuer")
		}
		return v.resolver.PublicKey(ctx, issuer)
	})
	if err != nil {
		return nil, &VerificationError{Err: err}
	}
	if !token.Valid {
		return nil, &VerificationError{Err: jwt.ErrTokenSignatureInvalid}
	}
	return claims.result(tokenString)
}

// InsecureVerifier decodes the payload and trusts it as-is: no signature
// check, no expiration check, so expired test fixtures stay usable
// indefinitely. Must never be constructed in a production configuration.
type InsecureVerifier struct {
	parser *jwt.Parser
}

// NewInsecureVerifier builds the offline/test verifier.
func NewInsecureVerifier() *InsecureVerifier {
	return &InsecureVerifier{parser: jwt.NewParser()}
}

// Verify decodes without validating.
func (v *InsecureVerifier) Verify(_ context.Context, tokenString string) (*Result, error) {
	claims := &tokenClaims{}
	_, _, err := v.parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return nil, &VerificationError{Err: err}
	}
	return claims.result(tokenString)
}
