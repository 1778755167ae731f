package ingest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openclaims/claimd/pkg/canonicalize"
	"github.com/openclaims/claimd/pkg/claim"
	"github.com/openclaims/claimd/pkg/store"
)

// dispatch creates the typed record(s) derived from an envelope. Every
// failure here is collected, not propagated: the envelope already committed
// and remains the durable source of truth.
func (s *Service) dispatch(ctx context.Context, envelope *store.Envelope, kind claim.Kind, reg *claim.RegisterAction) []RecordOutcome {
	if kind == claim.KindUnknown {
		// Unrecognized shapes are expected: stored, no derived record.
		return nil
	}

	if err := claim.Validate(kind, envelope.Claim()); err != nil {
		return []RecordOutcome{{Kind: kind.String(), Err: wrapError(CodeInvalidClaim, err, "claim shape")}}
	}

	switch kind {
	case claim.KindConfirmation:
		return s.createConfirmations(ctx, envelope)
	case claim.KindJoinAction:
		return []RecordOutcome{s.createAction(ctx, envelope)}
	case claim.KindOrganization:
		return []RecordOutcome{s.createOrgRole(ctx, envelope)}
	case claim.KindRegistration:
		return []RecordOutcome{s.createRegistration(ctx, envelope, reg)}
	case claim.KindTenure:
		return []RecordOutcome{s.createTenure(ctx, envelope)}
	case claim.KindVote:
		return []RecordOutcome{s.createVote(ctx, envelope)}
	default:
		return nil
	}
}

// createAction records a JoinAction: find-or-create the event by its natural
// key, then insert the action unless the same agent already joined it.
func (s *Service) createAction(ctx context.Context, envelope *store.Envelope) RecordOutcome {
	outcome := RecordOutcome{Kind: claim.KindJoinAction.String()}

	var join claim.JoinAction
	if err := json.Unmarshal(envelope.Claim(), &join); err != nil {
		outcome.Err = wrapError(CodeInvalidClaim, err, "parse JoinAction")
		return outcome
	}

	event, err := s.findOrCreateEvent(ctx, envelope, join.Event)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	agent := join.Agent.ID()
	existing, err := s.store.ActionByAgentEvent(ctx, agent, event.ID)
	if err == nil {
		outcome.Err = newError(CodeDuplicateRecord,
			"action by %s at event %d already exists in #%d", agent, event.ID, existing.ID)
		return outcome
	}
	if !errors.Is(err, store.ErrNotFound) {
		outcome.Err = wrapError(CodeStoreError, err, "action lookup")
		return outcome
	}

	action := &store.Action{AgentDID: agent, EventID: event.ID, EnvelopeID: envelope.ID}
	if _, err := s.store.InsertAction(ctx, action); err != nil {
		outcome.Err = wrapError(CodeStoreError, err, "insert action")
		return outcome
	}
	outcome.ID = action.ID
	return outcome
}

// findOrCreateEvent deduplicates events by (organizer, name, startTime).
// First writer wins; more than one pre-existing match is an ambiguous
// duplicate, warned about and resolved to the lowest id.
func (s *Service) findOrCreateEvent(ctx context.Context, envelope *store.Envelope, ref claim.EventRef) (*store.Event, error) {
	matches, err := s.store.EventsByNaturalKey(ctx, ref.Organizer.Name, ref.Name, ref.StartTime)
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "event lookup")
	}
	if len(matches) > 1 {
		s.logger.Warn("ambiguous duplicate events",
			"organizer", ref.Organizer.Name, "name", ref.Name, "startTime", ref.StartTime,
			"count", len(matches))
	}
	if len(matches) > 0 {
		return matches[0], nil
	}

	event := &store.Event{
		OrgName:    ref.Organizer.Name,
		Name:       ref.Name,
		StartTime:  ref.StartTime,
		EnvelopeID: envelope.ID,
	}
	if _, err := s.store.InsertEvent(ctx, event); err != nil {
		return nil, wrapError(CodeStoreError, err, "insert event")
	}
	return event, nil
}

// createConfirmations handles AgreeAction (and the legacy Confirmation
// shape). Array-valued objects are confirmed one at a time, sequentially,
// so the duplicate check for element n sees the row committed for n-1.
func (s *Service) createConfirmations(ctx context.Context, envelope *store.Envelope) []RecordOutcome {
	var agree claim.AgreeAction
	if err := json.Unmarshal(envelope.Claim(), &agree); err != nil {
		return []RecordOutcome{{
			Kind: claim.KindConfirmation.String(),
			Err:  wrapError(CodeInvalidClaim, err, "parse AgreeAction"),
		}}
	}

	var outcomes []RecordOutcome
	for _, object := range agree.Objects() {
		outcome := RecordOutcome{Kind: claim.KindConfirmation.String()}
		id, err := s.createOneConfirmation(ctx, envelope, object)
		if err != nil {
			outcome.Err = err
		} else {
			outcome.ID = id
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// createOneConfirmation resolves the confirmed claim to its typed target by
// re-deriving the natural key, rejects confirmations of unrecorded targets
// and re-confirmations by the same issuer, and inserts the row.
func (s *Service) createOneConfirmation(ctx context.Context, envelope *store.Envelope, object json.RawMessage) (int64, error) {
	canonical, err := canonicalize.Canonicalize(object)
	if err != nil {
		return 0, wrapError(CodeInvalidClaim, err, "confirmed claim is not canonicalizable")
	}

	ref := store.TargetRef{ClaimCanonical: canonical}
	switch claim.KindOf(claim.TagsOf(object)) {
	case claim.KindJoinAction:
		var join claim.JoinAction
		if err := json.Unmarshal(object, &join); err != nil {
			return 0, wrapError(CodeInvalidClaim, err, "parse confirmed JoinAction")
		}
		events, err := s.store.EventsByNaturalKey(ctx, join.Event.Organizer.Name, join.Event.Name, join.Event.StartTime)
		if err != nil {
			return 0, wrapError(CodeStoreError, err, "confirmed event lookup")
		}
		if len(events) == 0 {
			return 0, newError(CodeUnrecordedTarget, "attempted to confirm an unrecorded event")
		}
		action, err := s.store.ActionByAgentEvent(ctx, join.Agent.ID(), events[0].ID)
		if errors.Is(err, store.ErrNotFound) {
			return 0, newError(CodeUnrecordedTarget, "attempted to confirm an unrecorded action")
		}
		if err != nil {
			return 0, wrapError(CodeStoreError, err, "confirmed action lookup")
		}
		ref = store.TargetRef{ActionID: action.ID}

	case claim.KindTenure:
		var tenure claim.Tenure
		if err := json.Unmarshal(object, &tenure); err != nil {
			return 0, wrapError(CodeInvalidClaim, err, "parse confirmed Tenure")
		}
		target, err := s.store.TenureByNaturalKey(ctx, tenure.Party.ID(), tenure.SpatialUnit.Geo.Polygon)
		if errors.Is(err, store.ErrNotFound) {
			return 0, newError(CodeUnrecordedTarget, "attempted to confirm an unrecorded tenure")
		}
		if err != nil {
			return 0, wrapError(CodeStoreError, err, "confirmed tenure lookup")
		}
		ref = store.TargetRef{TenureID: target.ID}

	case claim.KindOrganization:
		var org claim.Organization
		if err := json.Unmarshal(object, &org); err != nil {
			return 0, wrapError(CodeInvalidClaim, err, "parse confirmed Organization")
		}
		role, err := s.store.OrgRoleByNaturalKey(ctx, org.Name, org.Member.RoleName,
			org.Member.StartDate, org.Member.EndDate, org.Member.Member.ID())
		if errors.Is(err, store.ErrNotFound) {
			return 0, newError(CodeUnrecordedTarget, "attempted to confirm an unrecorded organizational role")
		}
		if err != nil {
			return 0, wrapError(CodeStoreError, err, "confirmed role lookup")
		}
		ref = store.TargetRef{OrgRoleID: role.ID}
	}

	// Idempotence boundary: re-submitting an identical confirmation is
	// rejected, never silently deduplicated. The check-then-insert admits
	// a narrow race under concurrent identical submissions.
	existing, err := s.store.ConfirmationByIssuerTarget(ctx, envelope.Issuer, ref)
	if err == nil {
		return 0, newError(CodeDuplicateConfirmation, "already confirmed in #%d", existing.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, wrapError(CodeStoreError, err, "confirmation lookup")
	}

	confirmation := &store.Confirmation{
		IssuerDID:      envelope.Issuer,
		EnvelopeID:     envelope.ID,
		ClaimCanonical: canonical,
		ActionID:       ref.ActionID,
		TenureID:       ref.TenureID,
		OrgRoleID:      ref.OrgRoleID,
	}
	if _, err := s.store.InsertConfirmation(ctx, confirmation); err != nil {
		return 0, wrapError(CodeStoreError, err, "insert confirmation")
	}
	return confirmation.ID, nil
}

func (s *Service) createOrgRole(ctx context.Context, envelope *store.Envelope) RecordOutcome {
	outcome := RecordOutcome{Kind: claim.KindOrganization.String()}

	var org claim.Organization
	if err := json.Unmarshal(envelope.Claim(), &org); err != nil {
		outcome.Err = wrapError(CodeInvalidClaim, err, "parse Organization")
		return outcome
	}

	role := &store.OrgRole{
		OrgName:    org.Name,
		RoleName:   org.Member.RoleName,
		StartDate:  org.Member.StartDate,
		EndDate:    org.Member.EndDate,
		MemberDID:  org.Member.Member.ID(),
		EnvelopeID: envelope.ID,
	}
	if _, err := s.store.InsertOrgRole(ctx, role); err != nil {
		outcome.Err = wrapError(CodeStoreError, err, "insert org role")
		return outcome
	}
	outcome.ID = role.ID
	return outcome
}

// createRegistration authorizes the participant named in a RegisterAction.
// Quota and too-soon checks already ran pre-persistence.
func (s *Service) createRegistration(ctx context.Context, envelope *store.Envelope, reg *claim.RegisterAction) RecordOutcome {
	outcome := RecordOutcome{Kind: claim.KindRegistration.String()}
	if reg == nil {
		outcome.Err = newError(CodeInvalidClaim, "registration claim lost its parsed form")
		return outcome
	}

	participant := reg.Participant.ID()
	if participant == "" {
		outcome.Err = newError(CodeInvalidClaim, "registration names no participant")
		return outcome
	}

	if existing, err := s.store.RegistrationByDID(ctx, participant); err == nil {
		outcome.Err = newError(CodeDuplicateRecord,
			"%s is already registered (#%d)", participant, existing.ID)
		return outcome
	} else if !errors.Is(err, store.ErrNotFound) {
		outcome.Err = wrapError(CodeStoreError, err, "registration lookup")
		return outcome
	}

	row := &store.Registration{
		DID:          participant,
		RegisteredBy: envelope.Issuer,
		Epoch:        s.clock().UTC().Unix(),
	}
	if _, err := s.store.InsertRegistration(ctx, row); err != nil {
		outcome.Err = wrapError(CodeStoreError, err, "insert registration")
		return outcome
	}
	outcome.ID = row.ID
	return outcome
}

func (s *Service) createTenure(ctx context.Context, envelope *store.Envelope) RecordOutcome {
	outcome := RecordOutcome{Kind: claim.KindTenure.String()}

	var tenure claim.Tenure
	if err := json.Unmarshal(envelope.Claim(), &tenure); err != nil {
		outcome.Err = wrapError(CodeInvalidClaim, err, "parse Tenure")
		return outcome
	}

	row := &store.Tenure{
		PartyDID:   tenure.Party.ID(),
		Polygon:    tenure.SpatialUnit.Geo.Polygon,
		EnvelopeID: envelope.ID,
	}
	if _, err := s.store.InsertTenure(ctx, row); err != nil {
		outcome.Err = wrapError(CodeStoreError, err, "insert tenure")
		return outcome
	}
	outcome.ID = row.ID
	return outcome
}

func (s *Service) createVote(ctx context.Context, envelope *store.Envelope) RecordOutcome {
	outcome := RecordOutcome{Kind: claim.KindVote.String()}

	var vote claim.VoteAction
	if err := json.Unmarshal(envelope.Claim(), &vote); err != nil {
		outcome.Err = wrapError(CodeInvalidClaim, err, "parse VoteAction")
		return outcome
	}

	row := &store.Vote{
		VoterDID:     envelope.Issuer,
		ActionOption: vote.ActionOption,
		Candidate:    vote.Candidate,
		EventName:    vote.Object.Event.Name,
		EventStart:   vote.Object.Event.StartTime,
		EnvelopeID:   envelope.ID,
	}
	if _, err := s.store.InsertVote(ctx, row); err != nil {
		outcome.Err = wrapError(CodeStoreError, err, "insert vote")
		return outcome
	}
	outcome.ID = row.ID
	return outcome
}
