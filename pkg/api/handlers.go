package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openclaims/claimd/pkg/ingest"
	"github.com/openclaims/claimd/pkg/report"
	"github.com/openclaims/claimd/pkg/store"
)

// requesterHeader carries the identity reads are filtered for. An absent
// header means an anonymous requester whose visible set is only itself.
const requesterHeader = "X-Requester-DID"

// Server wires the ingestion and report services into HTTP handlers.
type Server struct {
	ingest  *ingest.Service
	reports *report.Service
	logger  *slog.Logger
}

// NewServer builds the HTTP layer over the given services.
func NewServer(in *ingest.Service, reports *report.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ingest: in, reports: reports, logger: logger}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/claims", s.handleSubmit)
	mux.HandleFunc("GET /api/claims", s.handleListClaims)
	mux.HandleFunc("GET /api/claims/{id}/full", s.handleClaimFull)
	mux.HandleFunc("GET /api/events/{id}/actions", s.handleEventActions)
	mux.HandleFunc("GET /api/actions/{id}/confirmations", s.handleActionConfirmations)
	mux.HandleFunc("GET /api/tenures", s.handleTenures)
	mux.HandleFunc("GET /api/ratelimits", s.handleRateLimits)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// SubmitRequest is the body of POST /api/claims. Issuer is an optional
// cross-check: when set it must match the token issuer, when absent the
// token's own issuer claim is trusted on its own.
type SubmitRequest struct {
	JWT    string `json:"jwt"`
	Issuer string `json:"issuer,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.JWT == "" {
		WriteBadRequest(w, "Missing required field: jwt")
		return
	}

	outcome, err := s.ingest.Submit(r.Context(), req.JWT, req.Issuer)
	if err != nil {
		WriteIngestError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(outcome)
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	q := store.EnvelopeQuery{
		Issuer:      r.URL.Query().Get("issuer"),
		Subject:     r.URL.Query().Get("subject"),
		ClaimType:   r.URL.Query().Get("claimType"),
		ContentLike: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "since must be RFC 3339")
			return
		}
		q.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "until must be RFC 3339")
			return
		}
		q.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}

	views, err := s.reports.Envelopes(r.Context(), r.Header.Get(requesterHeader), q)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, views)
}

// handleClaimFull returns the envelope with the raw token and hash fields.
// Deployments must gate this route behind operator authentication; the raw
// token can embed identities the filtered views keep hidden.
func (s *Server) handleClaimFull(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "claim id must be an integer")
		return
	}
	envelope, err := s.reports.EnvelopeFull(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "no such claim")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"id":         envelope.ID,
		"issuer":     envelope.Issuer,
		"subject":    envelope.Subject,
		"issuedAt":   envelope.IssuedAt,
		"claim":      envelope.Claim(),
		"jwt":        envelope.JWTRaw,
		"maskedHash": envelope.MaskedHash,
		"chainHash":  envelope.ChainHash,
	})
}

func (s *Server) handleEventActions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "event id must be an integer")
		return
	}
	views, err := s.reports.ActionsByEvent(r.Context(), r.Header.Get(requesterHeader), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, views)
}

func (s *Server) handleActionConfirmations(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "action id must be an integer")
		return
	}
	views, err := s.reports.ConfirmationsByAction(r.Context(), r.Header.Get(requesterHeader), id)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, views)
}

func (s *Server) handleTenures(w http.ResponseWriter, r *http.Request) {
	views, err := s.reports.Tenures(r.Context(), r.Header.Get(requesterHeader))
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, views)
}

func (s *Server) handleRateLimits(w http.ResponseWriter, r *http.Request) {
	did := r.URL.Query().Get("did")
	if did == "" {
		WriteBadRequest(w, "Missing required query parameter: did")
		return
	}
	limits, err := s.ingest.RateLimitsFor(r.Context(), did)
	if ingest.CodeOf(err) == ingest.CodeUnregisteredUser {
		WriteNotFound(w, "identity is not registered")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, limits)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
