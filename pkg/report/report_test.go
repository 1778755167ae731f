package report_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaims/claimd/pkg/claim"
	"github.com/openclaims/claimd/pkg/report"
	"github.com/openclaims/claimd/pkg/store"
	"github.com/openclaims/claimd/pkg/visibility"
)

const (
	didAlice = "did:ethr:0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	didBob   = "did:ethr:0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	didCarol = "did:ethr:0xcccccccccccccccccccccccccccccccccccccccc"
)

type reportFixture struct {
	store   *store.SQL
	cache   *visibility.Memory
	service *report.Service
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cache := visibility.NewMemory(st, 0)
	return &reportFixture{
		store:   st,
		cache:   cache,
		service: report.New(st, cache),
	}
}

func (f *reportFixture) canSee(t *testing.T, seer, seen string) {
	t.Helper()
	require.NoError(t, f.cache.AddCanSee(context.Background(), seen, seer))
	f.cache.Invalidate(context.Background())
}

func (f *reportFixture) insertEnvelope(t *testing.T, issuer, canonical string) int64 {
	t.Helper()
	id, err := f.store.InsertEnvelope(context.Background(), &store.Envelope{
		Issuer:         issuer,
		IssuedAt:       time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC),
		Context:        "https://schema.org",
		ClaimType:      "JoinAction",
		ClaimCanonical: canonical,
		ClaimEncoded:   "ZQ==",
		JWTRaw:         "header.payload.signature",
	})
	require.NoError(t, err)
	return id
}

func TestActionsByEventMasksInvisibleAgents(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	envID := f.insertEnvelope(t, didCarol, `{"agent":{"identifier":"`+didCarol+`"}}`)
	eventID, err := f.store.InsertEvent(ctx, &store.Event{
		OrgName: "Commons", Name: "Assembly", StartTime: "2025-03-01T10:00:00Z", EnvelopeID: envID,
	})
	require.NoError(t, err)
	_, err = f.store.InsertAction(ctx, &store.Action{AgentDID: didCarol, EventID: eventID, EnvelopeID: envID})
	require.NoError(t, err)

	// Alice can see Carol, Bob cannot.
	f.canSee(t, didAlice, didCarol)

	forAlice, err := f.service.ActionsByEvent(ctx, didAlice, eventID)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, didCarol, forAlice[0].Agent)

	forBob, err := f.service.ActionsByEvent(ctx, didBob, eventID)
	require.NoError(t, err)
	require.Len(t, forBob, 1, "record must not be omitted, only redacted")
	assert.Equal(t, claim.HiddenDID, forBob[0].Agent)
	assert.Equal(t, forAlice[0].ID, forBob[0].ID)
}

func TestEnvelopesMaskIssuerAndClaimBody(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	canonical := `{"@context":"https://schema.org","@type":"JoinAction","agent":{"identifier":"` + didCarol + `"}}`
	f.insertEnvelope(t, didCarol, canonical)
	f.canSee(t, didAlice, didCarol)

	forAlice, err := f.service.Envelopes(ctx, didAlice, store.EnvelopeQuery{})
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, didCarol, forAlice[0].Issuer)
	assert.Contains(t, string(forAlice[0].Claim), didCarol)

	forBob, err := f.service.Envelopes(ctx, didBob, store.EnvelopeQuery{})
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, claim.HiddenDID, forBob[0].Issuer)
	assert.NotContains(t, string(forBob[0].Claim), didCarol,
		"identities inside the claim body must be redacted too")

	var body map[string]any
	require.NoError(t, json.Unmarshal(forBob[0].Claim, &body))
	agent := body["agent"].(map[string]any)
	assert.Equal(t, claim.HiddenDID, agent["identifier"])
	assert.Equal(t, "JoinAction", body["@type"], "non-identity fields stay intact")
}

func TestEnvelopesAlwaysShowOwnIdentity(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	f.insertEnvelope(t, didAlice, `{"agent":{"identifier":"`+didAlice+`"}}`)

	views, err := f.service.Envelopes(ctx, didAlice, store.EnvelopeQuery{Issuer: didAlice})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, didAlice, views[0].Issuer, "a requester is always in its own visible set")
}

func TestTenuresMaskInvisibleParties(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	envID := f.insertEnvelope(t, didCarol, `{}`)
	_, err := f.store.InsertTenure(ctx, &store.Tenure{
		PartyDID: didCarol, Polygon: "POLYGON((0 0,1 0,1 1,0 0))", EnvelopeID: envID,
	})
	require.NoError(t, err)

	views, err := f.service.Tenures(ctx, didBob)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, claim.HiddenDID, views[0].Party)
	assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 0))", views[0].Polygon)
}

func TestConfirmationsByActionMasksInvisibleIssuers(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	envID := f.insertEnvelope(t, didCarol, `{}`)
	eventID, err := f.store.InsertEvent(ctx, &store.Event{
		OrgName: "Commons", Name: "Assembly", StartTime: "2025-03-01T10:00:00Z", EnvelopeID: envID,
	})
	require.NoError(t, err)
	actionID, err := f.store.InsertAction(ctx, &store.Action{AgentDID: didCarol, EventID: eventID, EnvelopeID: envID})
	require.NoError(t, err)

	confirmEnv := f.insertEnvelope(t, didBob, `{}`)
	_, err = f.store.InsertConfirmation(ctx, &store.Confirmation{
		IssuerDID: didBob, EnvelopeID: confirmEnv, ClaimCanonical: `{}`, ActionID: actionID,
	})
	require.NoError(t, err)

	f.canSee(t, didAlice, didBob)

	forAlice, err := f.service.ConfirmationsByAction(ctx, didAlice, actionID)
	require.NoError(t, err)
	require.Len(t, forAlice, 1)
	assert.Equal(t, didBob, forAlice[0].Issuer)
	assert.Equal(t, actionID, forAlice[0].ActionID)

	forCarol, err := f.service.ConfirmationsByAction(ctx, didCarol, actionID)
	require.NoError(t, err)
	require.Len(t, forCarol, 1)
	assert.Equal(t, claim.HiddenDID, forCarol[0].Issuer)
}

func TestEnvelopeFullExposesRawFields(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	id := f.insertEnvelope(t, didCarol, `{"agent":{"identifier":"`+didCarol+`"}}`)

	full, err := f.service.EnvelopeFull(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, didCarol, full.Issuer)
	assert.Equal(t, "header.payload.signature", full.JWTRaw)

	_, err = f.service.EnvelopeFull(ctx, id+100)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
