// Package ingest orchestrates claim submission: token verification, quota
// enforcement, envelope persistence, hash-chain maintenance, typed-record
// dispatch, and visibility-edge propagation.
//
// The pipeline per submission is strictly sequential:
//
//	received → verified → authorized → [persisted] → dispatched → [visibility-updated]
//
// Every failure before the envelope row commits aborts the submission;
// every failure after it is non-fatal and surfaced in the Outcome. The
// signed claim itself is the ground truth; derived indexing is best-effort.
package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openclaims/claimd/pkg/canonicalize"
	"github.com/openclaims/claimd/pkg/claim"
	"github.com/openclaims/claimd/pkg/store"
	"github.com/openclaims/claimd/pkg/verify"
	"github.com/openclaims/claimd/pkg/visibility"
)

const (
	// DefaultMaxClaimsPerWeek applies when a registration carries no
	// per-identity override.
	DefaultMaxClaimsPerWeek = 100
	// DefaultMaxRegistrationsPerMonth applies when a registration carries
	// no per-identity override.
	DefaultMaxRegistrationsPerMonth = 10
)

// Service is the claim-ingestion orchestrator.
type Service struct {
	store     *store.SQL
	verifier  verify.Verifier
	cache     visibility.Cache
	serviceID string
	maxClaims int64
	maxRegs   int64
	logger    *slog.Logger
	tracer    trace.Tracer
	clock     func() time.Time
}

// Options tunes a Service. Zero values select defaults.
type Options struct {
	// ServiceID is this deployment's own identifier; a RegisterAction only
	// counts as a registration when its object matches it.
	ServiceID        string
	MaxClaimsPerWeek int64
	MaxRegsPerMonth  int64
	Logger           *slog.Logger
	Clock            func() time.Time
}

// New builds the ingestion service.
func New(st *store.SQL, verifier verify.Verifier, cache visibility.Cache, opts Options) *Service {
	if opts.MaxClaimsPerWeek <= 0 {
		opts.MaxClaimsPerWeek = DefaultMaxClaimsPerWeek
	}
	if opts.MaxRegsPerMonth <= 0 {
		opts.MaxRegsPerMonth = DefaultMaxRegistrationsPerMonth
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "ingest")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		store:     st,
		verifier:  verifier,
		cache:     cache,
		serviceID: opts.ServiceID,
		maxClaims: opts.MaxClaimsPerWeek,
		maxRegs:   opts.MaxRegsPerMonth,
		logger:    opts.Logger,
		tracer:    otel.Tracer("claimd/ingest"),
		clock:     opts.Clock,
	}
}

// RecordOutcome reports one derived-record attempt. Err is non-nil when the
// attempt failed; the envelope is durable regardless. Code and Error carry
// the failure over the wire so API callers see why a record was not derived.
type RecordOutcome struct {
	Kind  string `json:"kind"`
	ID    int64  `json:"id,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Outcome is the result of one submission: the durable envelope id plus the
// per-derived-record results. Failed records do not fail the submission.
type Outcome struct {
	SubmissionID string          `json:"submissionId"`
	EnvelopeID   int64           `json:"envelopeId"`
	Records      []RecordOutcome `json:"records,omitempty"`
	EdgesAdded   int             `json:"edgesAdded"`
}

// FailedRecords counts the derived records that could not be created.
func (o *Outcome) FailedRecords() int {
	n := 0
	for _, r := range o.Records {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Submit runs the full ingestion pipeline for one signed claim token.
// expectedIssuer, when non-empty, must match the token's issuer.
func (s *Service) Submit(ctx context.Context, token, expectedIssuer string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.submit")
	defer span.End()

	result, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return nil, wrapError(CodeJWTVerifyFailed, err, "token rejected")
	}
	issuer := result.Issuer
	span.SetAttributes(attribute.String("claim.issuer", issuer))

	if expectedIssuer != "" && expectedIssuer != issuer {
		return nil, newError(CodeIssuerMismatch,
			"declared issuer %s does not match token issuer %s", expectedIssuer, issuer)
	}

	registration, err := s.store.RegistrationByDID(ctx, issuer)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeUnregisteredUser, "issuer %s is not registered to submit claims", issuer)
	}
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "registration lookup")
	}

	now := s.clock().UTC()
	if err := s.checkWeeklyLimit(ctx, issuer, registration, now); err != nil {
		return nil, err
	}

	tags := claim.TagsOf(result.Claim)
	kind := claim.KindOf(tags)
	span.SetAttributes(attribute.String("claim.kind", kind.String()))

	var reg *claim.RegisterAction
	if kind == claim.KindRegistration {
		reg = s.registrationForUs(result.Claim)
		if reg == nil {
			// A RegisterAction aimed at some other service: stored, no
			// derived record, no registration quota applies.
			kind = claim.KindUnknown
		} else if err := s.checkRegistrationLimits(ctx, issuer, registration, now); err != nil {
			return nil, err
		}
	}

	canonical, err := canonicalize.Canonicalize(result.Claim)
	if err != nil {
		return nil, wrapError(CodeJWTVerifyFailed, err, "claim is not canonicalizable JSON")
	}
	masked, err := canonicalize.MaskedHash(canonical)
	if err != nil {
		return nil, wrapError(CodeJWTVerifyFailed, err, "claim content hash")
	}

	envelope := &store.Envelope{
		Issuer:         issuer,
		Subject:        result.Subject,
		IssuedAt:       result.IssuedAt,
		Context:        tags.Context,
		ClaimType:      tags.Type,
		ClaimCanonical: canonical,
		ClaimEncoded:   base64.StdEncoding.EncodeToString([]byte(canonical)),
		JWTRaw:         result.Raw,
		MaskedHash:     masked,
	}
	envelopeID, err := s.store.InsertEnvelope(ctx, envelope)
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "persist envelope")
	}
	span.SetAttributes(attribute.Int64("envelope.id", envelopeID))

	// The envelope is durable from here on: everything below is
	// best-effort and reported, never propagated as a submission failure.
	outcome := &Outcome{
		SubmissionID: uuid.NewString(),
		EnvelopeID:   envelopeID,
	}

	if _, err := s.store.UpdateChain(ctx); err != nil {
		s.logger.Error("chain update failed", "envelope", envelopeID, "err", err)
		outcome.Records = append(outcome.Records, RecordOutcome{Kind: "chain", Err: err})
	}

	outcome.Records = append(outcome.Records, s.dispatch(ctx, envelope, kind, reg)...)
	for i := range outcome.Records {
		if err := outcome.Records[i].Err; err != nil {
			outcome.Records[i].Code = string(CodeOf(err))
			outcome.Records[i].Error = err.Error()
		}
	}

	outcome.EdgesAdded = s.propagateVisibility(ctx, envelope)
	s.cache.Invalidate(ctx)

	if failed := outcome.FailedRecords(); failed > 0 {
		s.logger.Warn("submission persisted with failed derived records",
			"envelope", envelopeID, "failed", failed)
	}
	return outcome, nil
}

// checkWeeklyLimit counts the issuer's envelopes since Monday 00:00 UTC.
// Count-then-insert is not transactionally atomic with the insert; a narrow
// race can admit one extra claim under concurrent submissions.
func (s *Service) checkWeeklyLimit(ctx context.Context, issuer string, registration *store.Registration, now time.Time) error {
	weekStart := StartOfWeek(now)
	count, err := s.store.CountEnvelopesSince(ctx, issuer, weekStart)
	if err != nil {
		return wrapError(CodeStoreError, err, "weekly claim count")
	}
	max := s.maxClaims
	if registration.MaxClaimsPerWeek != nil {
		max = *registration.MaxClaimsPerWeek
	}
	if int64(count) >= max {
		return newError(CodeOverClaimLimit,
			"issuer %s has made %d of %d claims this week", issuer, count, max)
	}
	return nil
}

// checkRegistrationLimits enforces the monthly registration quota and the
// registered-too-recently rule for registration claims.
func (s *Service) checkRegistrationLimits(ctx context.Context, issuer string, registration *store.Registration, now time.Time) error {
	monthStart := StartOfMonth(now)
	count, err := s.store.CountRegistrationsSince(ctx, issuer, monthStart)
	if err != nil {
		return wrapError(CodeStoreError, err, "monthly registration count")
	}
	max := s.maxRegs
	if registration.MaxRegsPerMonth != nil {
		max = *registration.MaxRegsPerMonth
	}
	if int64(count) >= max {
		return newError(CodeOverRegistrationLimit,
			"issuer %s has made %d of %d registrations this month", issuer, count, max)
	}

	if registration.Epoch >= StartOfWeek(now).Unix() {
		return newError(CodeCannotRegisterTooSoon,
			"issuer %s was registered this week and cannot register others yet", issuer)
	}
	return nil
}

// registrationForUs parses a RegisterAction and returns it only when its
// object names this service.
func (s *Service) registrationForUs(raw []byte) *claim.RegisterAction {
	var reg claim.RegisterAction
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil
	}
	if reg.Object != s.serviceID {
		return nil
	}
	return &reg
}

// propagateVisibility adds one sees edge per distinct identity mentioned in
// the claim, directed toward the issuer. Edge failures are logged, not
// propagated.
func (s *Service) propagateVisibility(ctx context.Context, envelope *store.Envelope) int {
	added := 0
	for _, did := range claim.ScanDIDs(envelope.Claim()) {
		if did == envelope.Issuer {
			continue
		}
		if err := s.cache.AddCanSee(ctx, envelope.Issuer, did); err != nil {
			s.logger.Error("add sees edge failed",
				"envelope", envelope.ID, "observer", did, "err", err)
			continue
		}
		added++
	}
	return added
}

// RateLimitsFor reports the issuer's current quota windows and usage.
func (s *Service) RateLimitsFor(ctx context.Context, did string) (*RateLimits, error) {
	registration, err := s.store.RegistrationByDID(ctx, did)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeUnregisteredUser, "identity %s is not registered", did)
	}
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "registration lookup")
	}

	now := s.clock().UTC()
	weekStart := StartOfWeek(now)
	monthStart := StartOfMonth(now)

	claims, err := s.store.CountEnvelopesSince(ctx, did, weekStart)
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "weekly claim count")
	}
	regs, err := s.store.CountRegistrationsSince(ctx, did, monthStart)
	if err != nil {
		return nil, wrapError(CodeStoreError, err, "monthly registration count")
	}

	maxClaims := s.maxClaims
	if registration.MaxClaimsPerWeek != nil {
		maxClaims = *registration.MaxClaimsPerWeek
	}
	maxRegs := s.maxRegs
	if registration.MaxRegsPerMonth != nil {
		maxRegs = *registration.MaxRegsPerMonth
	}

	return &RateLimits{
		NextWeekBegin:              weekStart.AddDate(0, 0, 7).Format(time.RFC3339),
		NextMonthBegin:             monthStart.AddDate(0, 1, 0).Format(time.RFC3339),
		DoneClaimsThisWeek:         claims,
		DoneRegistrationsThisMonth: regs,
		MaxClaimsPerWeek:           maxClaims,
		MaxRegistrationsPerMonth:   maxRegs,
	}, nil
}

// SeedRegistration creates the out-of-band root registration every
// deployment needs before any claim can flow. The epoch is backdated past
// the current week boundary so the root can register others immediately.
func (s *Service) SeedRegistration(ctx context.Context, did string) error {
	_, err := s.store.RegistrationByDID(ctx, did)
	if err == nil {
		return nil // already seeded
	}
	if !errors.Is(err, store.ErrNotFound) {
		return wrapError(CodeStoreError, err, "seed lookup")
	}
	_, err = s.store.InsertRegistration(ctx, &store.Registration{
		DID:          did,
		RegisteredBy: did,
		Epoch:        StartOfWeek(s.clock().UTC()).Unix() - 1,
	})
	if err != nil {
		return wrapError(CodeStoreError, err, "seed registration")
	}
	s.logger.Info("seeded root registration", "did", did)
	return nil
}
