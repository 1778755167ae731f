// Package report serves the read side: actions, tenures, confirmations, and
// envelope queries, with visibility filtering applied before anything leaves
// the process. An identity outside the requester's visible set is replaced
// by the hidden sentinel; records are never omitted, so counts and structure
// stay observable while identities are redacted.
package report

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openclaims/claimd/pkg/claim"
	"github.com/openclaims/claimd/pkg/store"
	"github.com/openclaims/claimd/pkg/visibility"
)

// Service answers queries with visibility filtering.
type Service struct {
	store *store.SQL
	cache visibility.Cache
}

// New builds the report service.
func New(st *store.SQL, cache visibility.Cache) *Service {
	return &Service{store: st, cache: cache}
}

// EnvelopeView is the caller-facing shape of an envelope: the raw token and
// internal hash fields are withheld because raw tokens may embed identities
// that must stay masked from general consumers.
type EnvelopeView struct {
	ID       int64           `json:"id"`
	IssuedAt time.Time       `json:"issuedAt"`
	Issuer   string          `json:"issuer"`
	Subject  string          `json:"subject,omitempty"`
	Context  string          `json:"context"`
	Type     string          `json:"claimType"`
	Claim    json.RawMessage `json:"claim"`
}

// ActionView is an action with its agent identity possibly redacted.
type ActionView struct {
	ID         int64  `json:"id"`
	Agent      string `json:"agent"`
	EventID    int64  `json:"eventId"`
	EnvelopeID int64  `json:"envelopeId"`
}

// TenureView is a tenure with its party identity possibly redacted.
type TenureView struct {
	ID         int64  `json:"id"`
	Party      string `json:"party"`
	Polygon    string `json:"polygon"`
	EnvelopeID int64  `json:"envelopeId"`
}

// ConfirmationView is a confirmation with its issuer possibly redacted.
type ConfirmationView struct {
	ID         int64  `json:"id"`
	Issuer     string `json:"issuer"`
	EnvelopeID int64  `json:"envelopeId"`
	ActionID   int64  `json:"actionId,omitempty"`
	TenureID   int64  `json:"tenureId,omitempty"`
	OrgRoleID  int64  `json:"orgRoleId,omitempty"`
}

// visibleSet materializes the requester's network as a lookup set.
func (s *Service) visibleSet(ctx context.Context, requester string) (map[string]bool, error) {
	network, err := s.cache.Network(ctx, requester)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(network))
	for _, id := range network {
		set[id] = true
	}
	return set, nil
}

func mask(did string, visible map[string]bool) string {
	if did == "" || visible[did] {
		return did
	}
	return claim.HiddenDID
}

// maskClaim redacts every DID inside a claim's object graph that the
// requester may not see.
func maskClaim(raw json.RawMessage, visible map[string]bool) json.RawMessage {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	masked := maskValue(generic, visible)
	out, err := json.Marshal(masked)
	if err != nil {
		return raw
	}
	return out
}

func maskValue(v any, visible map[string]bool) any {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "did:") {
			return mask(t, visible)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = maskValue(elem, visible)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[k] = maskValue(elem, visible)
		}
		return out
	default:
		return v
	}
}

// Envelopes lists envelopes matching q, redacted for requester.
func (s *Service) Envelopes(ctx context.Context, requester string, q store.EnvelopeQuery) ([]EnvelopeView, error) {
	visible, err := s.visibleSet(ctx, requester)
	if err != nil {
		return nil, err
	}
	envelopes, err := s.store.ListEnvelopes(ctx, q)
	if err != nil {
		return nil, err
	}

	views := make([]EnvelopeView, 0, len(envelopes))
	for _, e := range envelopes {
		views = append(views, EnvelopeView{
			ID:       e.ID,
			IssuedAt: e.IssuedAt,
			Issuer:   mask(e.Issuer, visible),
			Subject:  mask(e.Subject, visible),
			Context:  e.Context,
			Type:     e.ClaimType,
			Claim:    maskClaim(e.Claim(), visible),
		})
	}
	return views, nil
}

// EnvelopeFull returns an envelope with the raw signed token and internal
// hash fields included. Sensitive: the raw token may embed identities the
// general views keep masked; callers must gate access themselves.
func (s *Service) EnvelopeFull(ctx context.Context, id int64) (*store.Envelope, error) {
	return s.store.EnvelopeByID(ctx, id)
}

// ActionsByEvent lists an event's actions, redacted for requester.
func (s *Service) ActionsByEvent(ctx context.Context, requester string, eventID int64) ([]ActionView, error) {
	visible, err := s.visibleSet(ctx, requester)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ActionsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	views := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, ActionView{
			ID:         a.ID,
			Agent:      mask(a.AgentDID, visible),
			EventID:    a.EventID,
			EnvelopeID: a.EnvelopeID,
		})
	}
	return views, nil
}

// Tenures lists all tenures, redacted for requester.
func (s *Service) Tenures(ctx context.Context, requester string) ([]TenureView, error) {
	visible, err := s.visibleSet(ctx, requester)
	if err != nil {
		return nil, err
	}
	tenures, err := s.store.ListTenures(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]TenureView, 0, len(tenures))
	for _, t := range tenures {
		views = append(views, TenureView{
			ID:         t.ID,
			Party:      mask(t.PartyDID, visible),
			Polygon:    t.Polygon,
			EnvelopeID: t.EnvelopeID,
		})
	}
	return views, nil
}

// ConfirmationsByAction lists an action's confirmations, redacted for
// requester.
func (s *Service) ConfirmationsByAction(ctx context.Context, requester string, actionID int64) ([]ConfirmationView, error) {
	visible, err := s.visibleSet(ctx, requester)
	if err != nil {
		return nil, err
	}
	confirmations, err := s.store.ConfirmationsByAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	views := make([]ConfirmationView, 0, len(confirmations))
	for _, c := range confirmations {
		views = append(views, ConfirmationView{
			ID:         c.ID,
			Issuer:     mask(c.IssuerDID, visible),
			EnvelopeID: c.EnvelopeID,
			ActionID:   c.ActionID,
			TenureID:   c.TenureID,
			OrgRoleID:  c.OrgRoleID,
		})
	}
	return views, nil
}
