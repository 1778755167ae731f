package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaims/claimd/pkg/canonicalize"
)

func TestUpdateChainReplayDeterminism(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var maskedHashes []string
	for i := 0; i < 8; i++ {
		e := testEnvelope(t, "did:ethr:0xA", fmt.Sprintf(`{"n":%d,"who":"did:ethr:0xA"}`, i))
		maskedHashes = append(maskedHashes, e.MaskedHash)
		_, err := s.InsertEnvelope(ctx, e)
		require.NoError(t, err)
	}

	chained, err := s.UpdateChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, chained)

	// Replaying from the seed in id order must reproduce the stored values.
	envelopes, err := s.ListEnvelopes(ctx, EnvelopeQuery{})
	require.NoError(t, err)
	link := canonicalize.ChainSeed
	for i, e := range envelopes {
		link = canonicalize.ChainLink(link, maskedHashes[i])
		assert.Equal(t, link, e.ChainHash, "row %d", e.ID)
	}

	ok, reason := s.VerifyChain(ctx)
	assert.True(t, ok, reason)
}

func TestUpdateChainIsIncremental(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertEnvelope(ctx, testEnvelope(t, "did:ethr:0xA", `{"n":1}`))
	require.NoError(t, err)
	chained, err := s.UpdateChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chained)

	// Nothing new: the pass is a no-op, not a re-link.
	chained, err = s.UpdateChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, chained)

	first, err := s.EnvelopeByID(ctx, 1)
	require.NoError(t, err)

	_, err = s.InsertEnvelope(ctx, testEnvelope(t, "did:ethr:0xA", `{"n":2}`))
	require.NoError(t, err)
	chained, err = s.UpdateChain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chained)

	// Existing links never move.
	again, err := s.EnvelopeByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ChainHash, again.ChainHash)

	second, err := s.EnvelopeByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, canonicalize.ChainLink(first.ChainHash, second.MaskedHash), second.ChainHash)
}

func TestUpdateChainSelfHealsMissingMaskedHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A row created before hashing existed: no masked hash.
	e := testEnvelope(t, "did:ethr:0xA", `{"legacy":true}`)
	e.MaskedHash = ""
	_, err := s.InsertEnvelope(ctx, e)
	require.NoError(t, err)

	_, err = s.UpdateChain(ctx)
	require.NoError(t, err)

	got, err := s.EnvelopeByID(ctx, 1)
	require.NoError(t, err)
	want, err := canonicalize.MaskedHash(got.ClaimCanonical)
	require.NoError(t, err)
	assert.Equal(t, want, got.MaskedHash, "missing content hash must be backfilled")
	assert.NotEmpty(t, got.ChainHash)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.InsertEnvelope(ctx, testEnvelope(t, "did:ethr:0xA", fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}
	_, err := s.UpdateChain(ctx)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE envelopes SET claim_canonical = '{"n":99}' WHERE id = 2`)
	require.NoError(t, err)

	ok, reason := s.VerifyChain(ctx)
	assert.False(t, ok)
	assert.Contains(t, reason, "row 2")
}

func TestVerifyChainAllowsUnchainedSuffix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertEnvelope(ctx, testEnvelope(t, "did:ethr:0xA", `{"n":1}`))
	require.NoError(t, err)
	_, err = s.UpdateChain(ctx)
	require.NoError(t, err)

	// A freshly inserted, not-yet-chained row is fine at the tail.
	_, err = s.InsertEnvelope(ctx, testEnvelope(t, "did:ethr:0xA", `{"n":2}`))
	require.NoError(t, err)

	ok, reason := s.VerifyChain(ctx)
	assert.True(t, ok, reason)
}
