// Package claim defines the claim data model: the closed set of recognized
// claim kinds, the typed shapes each kind carries, and helpers for scanning
// a claim's object graph for embedded identities.
package claim

import (
	"encoding/json"
	"sort"
	"strings"
)

// HiddenDID is the sentinel substituted for an identity the requester is not
// permitted to see. Records keep their structure; only the identity is
// redacted.
const HiddenDID = "did:none:HIDDEN"

// Kind enumerates the claim shapes this service derives typed records from.
// Unrecognized (context, type) pairs map to KindUnknown, which is legal: the
// envelope is stored and no derived record is created.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfirmation
	KindJoinAction
	KindOrganization
	KindRegistration
	KindTenure
	KindVote
)

func (k Kind) String() string {
	switch k {
	case KindConfirmation:
		return "confirmation"
	case KindJoinAction:
		return "join_action"
	case KindOrganization:
		return "organization"
	case KindRegistration:
		return "registration"
	case KindTenure:
		return "tenure"
	case KindVote:
		return "vote"
	default:
		return "unknown"
	}
}

// Tags is the (context, type) pair that classifies a claim.
type Tags struct {
	Context string `json:"@context"`
	Type    string `json:"@type"`
}

// TagsOf extracts the classification tags from a raw claim. Missing or
// non-string tags come back empty, which classifies as KindUnknown.
func TagsOf(raw json.RawMessage) Tags {
	var t Tags
	_ = json.Unmarshal(raw, &t)
	return t
}

func isSchemaOrg(context string) bool {
	return context == "https://schema.org" || context == "http://schema.org"
}

// KindOf classifies a (context, type) tag pair.
func KindOf(t Tags) Kind {
	switch {
	case isSchemaOrg(t.Context) && t.Type == "AgreeAction":
		return KindConfirmation
	case t.Type == "Confirmation": // deprecated legacy shape, any context
		return KindConfirmation
	case isSchemaOrg(t.Context) && t.Type == "JoinAction":
		return KindJoinAction
	case isSchemaOrg(t.Context) && t.Type == "Organization":
		return KindOrganization
	case isSchemaOrg(t.Context) && t.Type == "RegisterAction":
		return KindRegistration
	case t.Type == "Tenure":
		return KindTenure
	case isSchemaOrg(t.Context) && t.Type == "VoteAction":
		return KindVote
	default:
		return KindUnknown
	}
}

// AgentRef references an identity inside a claim. Claims encode agents
// either as {"did": ...} or as {"identifier": ...}.
type AgentRef struct {
	DID        string `json:"did"`
	Identifier string `json:"identifier"`
}

// ID returns the referenced identity, preferring the did field.
func (a AgentRef) ID() string {
	if a.DID != "" {
		return a.DID
	}
	return a.Identifier
}

// EventRef identifies an event by its natural key
// (organizer name, event name, start time).
type EventRef struct {
	Organizer struct {
		Name string `json:"name"`
	} `json:"organizer"`
	Name      string `json:"name"`
	StartTime string `json:"startTime"`
}

// JoinAction asserts that an agent participated in an event.
type JoinAction struct {
	Agent AgentRef `json:"agent"`
	Event EventRef `json:"event"`
}

// AgreeAction confirms one or more previously recorded claims. Object may be
// a single claim or an array of claims.
type AgreeAction struct {
	Object json.RawMessage `json:"object"`
}

// Objects returns the confirmed claims, one element per confirmation.
func (a AgreeAction) Objects() []json.RawMessage {
	if len(a.Object) == 0 {
		return nil
	}
	trimmed := strings.TrimLeft(string(a.Object), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(a.Object, &list); err != nil {
			return []json.RawMessage{a.Object}
		}
		return list
	}
	return []json.RawMessage{a.Object}
}

// Organization carries a nested organizational role assertion.
type Organization struct {
	Name   string `json:"name"`
	Member struct {
		Type      string   `json:"@type"`
		RoleName  string   `json:"roleName"`
		StartDate string   `json:"startDate"`
		EndDate   string   `json:"endDate"`
		Member    AgentRef `json:"member"`
	} `json:"member"`
}

// RegisterAction authorizes a new identity to submit claims. Object must
// match this service's own identifier for the claim to count as a
// registration.
type RegisterAction struct {
	Agent       AgentRef `json:"agent"`
	Object      string   `json:"object"`
	Participant AgentRef `json:"participant"`
}

// Tenure asserts that a party holds a spatial unit.
type Tenure struct {
	Party       AgentRef `json:"party"`
	SpatialUnit struct {
		Geo struct {
			Polygon string `json:"polygon"`
		} `json:"geo"`
	} `json:"spatialUnit"`
}

// VoteAction records a vote for an option or candidate at an event.
type VoteAction struct {
	ActionOption string `json:"actionOption"`
	Candidate    string `json:"candidate"`
	Object       struct {
		Event struct {
			Name      string `json:"name"`
			StartTime string `json:"startTime"`
		} `json:"event"`
	} `json:"object"`
}

// ScanDIDs walks the claim's entire object graph and returns every distinct
// DID found, in first-seen order. Used for visibility-edge propagation:
// every identity mentioned in a claim becomes able to see the issuer.
func ScanDIDs(raw json.RawMessage) []string {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	collectDIDs(generic, seen, &out)
	return out
}

func collectDIDs(v any, seen map[string]bool, out *[]string) {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "did:") && !seen[t] {
			seen[t] = true
			*out = append(*out, t)
		}
	case []any:
		for _, elem := range t {
			collectDIDs(elem, seen, out)
		}
	case map[string]any:
		// Walk keys in sorted order so scan order is deterministic.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectDIDs(t[k], seen, out)
		}
	}
}
