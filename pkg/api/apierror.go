// Package api exposes the claim service over HTTP. Error responses use
// RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openclaims/claimd/pkg/ingest"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Code is the machine-readable ingestion failure code, when one exists.
	Code string `json:"code,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://openclaims.org/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int, detail string) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", detail)
}

// WriteInternal writes a 500 error response. The error is logged but never
// exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.")
}

// WriteIngestError maps a typed ingestion failure onto an HTTP status.
func WriteIngestError(w http.ResponseWriter, err error) {
	code := ingest.CodeOf(err)
	status := http.StatusBadRequest
	title := "Bad Request"
	switch code {
	case ingest.CodeJWTVerifyFailed:
		status, title = http.StatusUnauthorized, "Unauthorized"
	case ingest.CodeIssuerMismatch, ingest.CodeUnregisteredUser:
		status, title = http.StatusForbidden, "Forbidden"
	case ingest.CodeOverClaimLimit, ingest.CodeOverRegistrationLimit, ingest.CodeCannotRegisterTooSoon:
		WriteTooManyRequests(w, 3600, err.Error())
		return
	case ingest.CodeStoreError:
		WriteInternal(w, err)
		return
	case "":
		WriteInternal(w, err)
		return
	}
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://openclaims.org/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: err.Error(),
		Code:   string(code),
	})
}
