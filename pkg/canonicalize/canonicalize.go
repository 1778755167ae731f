// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization, masked content hashing, and hash-chain link computation
// for claim envelopes.
//
// Key properties:
//  1. Canonical form is byte-stable: semantically identical claims produce
//     identical strings regardless of input key order.
//  2. Content hashes are computed over the claim with every embedded
//     identity replaced by a fixed placeholder, so hashes never leak DIDs.
//  3. Chain links are strictly sequential: link(n) = SHA-256(link(n-1) ||
//     maskedHash(n)), replayable from ChainSeed.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// ChainSeed is the value the hash chain starts from. Replaying all envelope
// rows in id order from this seed must reproduce the stored chain exactly.
const ChainSeed = "genesis"

// IdentityPlaceholder substitutes every DID inside a claim before its
// content hash is computed.
const IdentityPlaceholder = "did:none:MASKED"

// Canonicalize returns the RFC 8785 canonical form of raw JSON.
func Canonicalize(raw []byte) (string, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: %w", err)
	}
	return string(out), nil
}

// CanonicalizeValue marshals v and returns its RFC 8785 canonical form.
func CanonicalizeValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	return Canonicalize(raw)
}

// MaskedHash computes the SHA-256 hex digest of the canonical claim with
// every embedded DID replaced by IdentityPlaceholder. The input must already
// be valid JSON; it is re-canonicalized after masking so the digest does not
// depend on the order keys arrived in.
func MaskedHash(claimJSON string) (string, error) {
	var generic any
	dec := json.NewDecoder(strings.NewReader(claimJSON))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("canonicalize: decode for masking failed: %w", err)
	}

	masked := maskIdentities(generic)
	canonical, err := CanonicalizeValue(masked)
	if err != nil {
		return "", err
	}
	return HashHex([]byte(canonical)), nil
}

// ChainLink computes the next link of the hash chain from the previous link
// and the masked content hash of the current row. Links must be computed
// strictly in id order; the function is order-dependent on purpose.
func ChainLink(prevHex, maskedHex string) string {
	return HashHex([]byte(prevHex + maskedHex))
}

// HashHex returns the SHA-256 hex digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// maskIdentities walks the decoded claim and replaces every string that is a
// DID with IdentityPlaceholder. Keys are left untouched; a DID only ever
// appears as a value.
func maskIdentities(v any) any {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "did:") {
			return IdentityPlaceholder
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = maskIdentities(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[k] = maskIdentities(elem)
		}
		return out
	default:
		return v
	}
}
