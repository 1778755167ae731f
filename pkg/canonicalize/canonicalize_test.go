package canonicalize

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const joinActionScrambled = `{"@type":"JoinAction","agent":{"did":"did:ethr:0xCAFE"},"@context":"https://schema.org","event":{"startTime":"2025-03-01T08:00:00Z","organizer":{"name":"Bountiful Voluntaryist Community"},"name":"Saturday Morning Meeting"}}`

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := Canonicalize([]byte(joinActionScrambled))
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "canonical_join_action", []byte(got))
}

func TestCanonicalizeIdempotent(t *testing.T) {
	once, err := Canonicalize([]byte(joinActionScrambled))
	require.NoError(t, err)
	twice, err := Canonicalize([]byte(once))
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestCanonicalizeKeyOrderIndependent(t *testing.T) {
	a := `{"b":1,"a":{"y":true,"x":"v"}}`
	b := `{"a":{"x":"v","y":true},"b":1}`

	ca, err := Canonicalize([]byte(a))
	require.NoError(t, err)
	cb, err := Canonicalize([]byte(b))
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestMaskedHashIgnoresIdentities(t *testing.T) {
	claimA := `{"@type":"Tenure","party":{"did":"did:ethr:0xAAA"},"spatialUnit":{"geo":{"polygon":"40.1,-111.9 40.2,-111.9"}}}`
	claimB := `{"@type":"Tenure","party":{"did":"did:ethr:0xBBB"},"spatialUnit":{"geo":{"polygon":"40.1,-111.9 40.2,-111.9"}}}`

	ha, err := MaskedHash(claimA)
	require.NoError(t, err)
	hb, err := MaskedHash(claimB)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "hash must not depend on embedded identities")

	claimC := `{"@type":"Tenure","party":{"did":"did:ethr:0xAAA"},"spatialUnit":{"geo":{"polygon":"41.0,-111.9 41.1,-111.9"}}}`
	hc, err := MaskedHash(claimC)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc, "hash must depend on non-identity content")
}

func TestMaskedHashKeyOrderIndependent(t *testing.T) {
	a := `{"agent":{"did":"did:ethr:0x1"},"@type":"JoinAction"}`
	b := `{"@type":"JoinAction","agent":{"did":"did:ethr:0x1"}}`

	ha, err := MaskedHash(a)
	require.NoError(t, err)
	hb, err := MaskedHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestChainLinkOrderDependent(t *testing.T) {
	h1, err := MaskedHash(`{"x":1}`)
	require.NoError(t, err)
	h2, err := MaskedHash(`{"x":2}`)
	require.NoError(t, err)

	forward := ChainLink(ChainLink(ChainSeed, h1), h2)
	reversed := ChainLink(ChainLink(ChainSeed, h2), h1)
	assert.NotEqual(t, forward, reversed)
}

func TestChainLinkReplayable(t *testing.T) {
	hashes := []string{}
	for _, claim := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		h, err := MaskedHash(claim)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	link := ChainSeed
	var first []string
	for _, h := range hashes {
		link = ChainLink(link, h)
		first = append(first, link)
	}

	link = ChainSeed
	for i, h := range hashes {
		link = ChainLink(link, h)
		assert.Equal(t, first[i], link, "replay must reproduce link %d", i)
	}
}
